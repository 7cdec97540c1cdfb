// Command gemkeyproxy runs the local reverse proxy in front of the Gemini
// API: it loads bootstrap configuration, opens the store, wires the core
// components, and serves the HTTP surface with graceful shutdown.
//
// Grounded on the teacher's cmd/gogemini/main.go wiring and shutdown
// sequence, generalized onto this proxy's own component set.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gemkeyproxy/internal/admin"
	"gemkeyproxy/internal/auditlog"
	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/forwarder"
	"gemkeyproxy/internal/keyregistry"
	"gemkeyproxy/internal/logger"
	"gemkeyproxy/internal/retention"
	"gemkeyproxy/internal/rotator"
	"gemkeyproxy/internal/router"
	"gemkeyproxy/internal/settings"
	"gemkeyproxy/internal/store"
)

const maxAuditBodyBytes = 32 * 1024

// bootstrap seeds the admin password hash and the inbound shared secret
// from config at startup, each only while its stored value is unset: once
// a value is stored, the matching config.Bootstrap field is ignored. This
// runs once per process start, outside any request's hot path.
func bootstrap(cfg *config.Config, s *settings.Settings, log *slog.Logger) error {
	hash, err := s.PasswordHash()
	if err != nil {
		return err
	}
	if hash == "" && cfg.Bootstrap.AdminPassword != "" {
		bcryptHash, err := bcrypt.GenerateFromPassword([]byte(cfg.Bootstrap.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := s.SetPasswordHash(string(bcryptHash)); err != nil {
			return err
		}
		log.Info("seeded admin password from bootstrap configuration")
	}

	authHash, err := s.CustomAuthKeyHash()
	if err != nil {
		return err
	}
	if authHash == nil && cfg.Bootstrap.AuthKey != "" {
		if err := s.SetCustomAuthKey(cfg.Bootstrap.AuthKey); err != nil {
			return err
		}
		log.Info("seeded inbound shared secret from bootstrap configuration")
	}

	return nil
}

func run(cfg *config.Config, log *slog.Logger) error {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	log.Info("store opened", "type", cfg.Database.Type)

	registry := keyregistry.New(db)
	rot := rotator.New(db, registry)
	s := settings.New(db)
	audit := auditlog.New(db, auditlog.Config{MaxBodyBytes: maxAuditBodyBytes})

	if err := bootstrap(cfg, s, log); err != nil {
		return err
	}

	fwd := forwarder.New(rot, registry, s, audit, log)

	sched := retention.New(db, cfg.Retention.MaxAgeDays, log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	engine := router.New(fwd, s, audit, log)
	admin.SetupRoutes(engine, registry, s, db)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: engine,
	}

	go func() {
		log.Info("starting server", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return err
	}

	log.Info("server exiting")
	return nil
}

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("error loading configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Debug)
	log.Info("logger initialized", "debug_mode", cfg.Debug)

	if err := run(cfg, log); err != nil {
		os.Exit(1)
	}
}
