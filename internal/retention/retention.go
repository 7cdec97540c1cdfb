// Package retention prunes old RequestLog rows on a schedule. It is the
// only thing that ever removes an audit row; AuditLog itself only appends.
//
// Grounded on the teacher's internal/scheduler (robfig/cron/v3 wrapper),
// repurposed: the teacher's original jobs (daily usage-count reset, hourly
// key health-check) are dropped because they conflict with invariants this
// proxy enforces elsewhere (usage_count is monotonic; demoted keys only
// revive through an operator action) — see DESIGN.md.
package retention

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"gemkeyproxy/internal/model"
)

// Scheduler runs the daily AuditLog pruning job.
type Scheduler struct {
	db      *gorm.DB
	cron    *cron.Cron
	logger  *slog.Logger
	maxAge  time.Duration
}

// New builds a Scheduler. maxAgeDays of 0 disables pruning entirely (Start
// becomes a no-op) — spec places no mandatory bound on retention, so an
// operator can opt out.
func New(db *gorm.DB, maxAgeDays int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		cron:   cron.New(),
		logger: logger.With("component", "retention"),
		maxAge: time.Duration(maxAgeDays) * 24 * time.Hour,
	}
}

// Start registers and begins the daily pruning job.
func (s *Scheduler) Start() error {
	if s.maxAge <= 0 {
		s.logger.Info("audit log retention disabled")
		return nil
	}
	_, err := s.cron.AddFunc("@daily", s.prune)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, used during graceful shutdown.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) prune() {
	cutoff := time.Now().UTC().Add(-s.maxAge)
	result := s.db.Where("created_at < ?", cutoff).Delete(&model.RequestLog{})
	if result.Error != nil {
		s.logger.Error("failed to prune request logs", "error", result.Error)
		return
	}
	s.logger.Info("pruned request logs", "rows_deleted", result.RowsAffected, "cutoff", cutoff)
}
