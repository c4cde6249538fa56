package graceful

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// Shutdowner is a component stopped during shutdown, in registration order
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ShutdownFunc adapts a function to Shutdowner
type ShutdownFunc func(ctx context.Context) error

func (f ShutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

type ShutdownManager struct {
	server      *http.Server
	db          *sqlx.DB
	cancel      context.CancelFunc
	shutdowners []Shutdowner
	timeout     time.Duration
	logger      *logger.Logger
}

// NewShutdownManager wires the health server, the database pool and the
// cancel function of the root worker context.
func NewShutdownManager(server *http.Server, db *sqlx.DB, cancel context.CancelFunc, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:      server,
		db:          db,
		cancel:      cancel,
		shutdowners: make([]Shutdowner, 0),
		timeout:     30 * time.Second,
		logger:      logger,
	}
}

func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then stops everything
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	sm.logger.Info("Shutting down gracefully...", "signal", sig.String())
	sm.Shutdown()
}

// Shutdown stops consumers first so no new work starts, then the registered
// components, the HTTP server and finally the database pool.
func (sm *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if sm.cancel != nil {
		sm.cancel()
	}

	for _, s := range sm.shutdowners {
		if err := s.Shutdown(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "error", err)
		}
	}

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	if sm.db != nil {
		if err := sm.db.Close(); err != nil {
			sm.logger.Warn("Database close error", "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
