// Package rotator selects which upstream API key an outbound request
// should use, spreading load evenly across the active pool and demoting
// keys the upstream rejects with 401/403.
//
// Grounded on the teacher's keymanager.GetNextKey cursor, generalized to
// re-query the active-key ordering on every call (rather than caching a
// sorted slice) so a demotion made mid-run is visible to the very next
// selection.
package rotator

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"gemkeyproxy/internal/keyregistry"
	"gemkeyproxy/internal/model"
)

// ErrNoActiveKeys is returned when no active key exists to serve a request.
// This is a fatal, non-retriable condition: retrying would just ask the
// same empty pool again.
var ErrNoActiveKeys = errors.New("no active api keys available")

// Rotator round-robins over the active key pool in
// (usage_count ASC, last_used ASC NULLS FIRST) order.
type Rotator struct {
	db       *gorm.DB
	registry *keyregistry.Registry

	mu     sync.Mutex
	cursor int
}

func New(db *gorm.DB, registry *keyregistry.Registry) *Rotator {
	return &Rotator{db: db, registry: registry}
}

// Next returns the next key to try, advancing the round-robin cursor. The
// ordering is re-read from the database on every call so that concurrent
// demotions and newly added keys are reflected immediately.
func (r *Rotator) Next() (*model.ApiKey, error) {
	active, err := r.activeKeysOrdered()
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNoActiveKeys
	}

	r.mu.Lock()
	idx := r.cursor % len(active)
	r.cursor++
	r.mu.Unlock()

	key := active[idx]
	return &key, nil
}

func (r *Rotator) activeKeysOrdered() ([]model.ApiKey, error) {
	var keys []model.ApiKey
	// last_used IS NULL sorts first under this CASE, matching "NULLS FIRST"
	// semantics portably across sqlite/postgres/mysql.
	err := r.db.Where("is_active = ?", true).
		Order("usage_count asc").
		Order("CASE WHEN last_used IS NULL THEN 0 ELSE 1 END asc, last_used asc").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active keys: %w", err)
	}
	return keys, nil
}

// MarkFailed demotes a key so the Rotator stops selecting it. Demotion is
// permanent until an operator re-activates the key through KeyRegistry;
// there is no automatic revival.
func (r *Rotator) MarkFailed(id string) error {
	return r.registry.Deactivate(id)
}

// ActiveCount reports how many keys are currently eligible for selection.
func (r *Rotator) ActiveCount() (int, error) {
	var count int64
	if err := r.db.Model(&model.ApiKey{}).Where("is_active = ?", true).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count active keys: %w", err)
	}
	return int(count), nil
}
