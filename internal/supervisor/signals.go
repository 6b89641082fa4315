package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolbridge/internal/logging"
)

// HandleSignals blocks until ctx ends or the process receives SIGINT or
// SIGTERM, then shuts s down within grace.
func HandleSignals(ctx context.Context, s *Supervisor, grace time.Duration) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logging.Get(logging.CategorySupervisor).Info("Shutting down servers: %v", context.Cause(sigCtx))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}
