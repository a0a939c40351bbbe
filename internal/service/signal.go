package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"svcregistry/internal/logger"
)

// SignalService runs a RunFunc until SIGINT or SIGTERM. SIGHUP invokes the
// reload callback without stopping.
type SignalService struct {
	runFunc  RunFunc
	onReload ReloadFunc
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopped  bool

	// signals is replaced in tests.
	signals chan os.Signal
}

// NewService creates a signal-driven service. onReload may be nil.
func NewService(runFunc RunFunc, onReload ReloadFunc) Service {
	return &SignalService{
		runFunc:  runFunc,
		onReload: onReload,
		signals:  make(chan os.Signal, 1),
	}
}

// Run starts the service and handles signals for graceful shutdown.
func (s *SignalService) Run(ctx context.Context) error {
	log := logger.WithComponent("service")

	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(s.signals)

	done := make(chan error, 1)
	go func() {
		done <- s.runFunc(ctx)
	}()

	log.Info().Bool("launchd", s.IsService()).Msg("Service started")

	for {
		select {
		case sig := <-s.signals:
			if sig == syscall.SIGHUP {
				log.Info().Msg("Received SIGHUP, reloading")
				if s.onReload != nil {
					s.onReload()
				}
				continue
			}

			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			s.Stop()

			select {
			case err := <-done:
				return err
			case sig := <-s.signals:
				log.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
				return nil
			}

		case err := <-done:
			return err
		}
	}
}

// Stop requests the service to stop.
func (s *SignalService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil && !s.stopped {
		s.stopped = true
		s.cancel()
	}
	return nil
}

// IsService reports whether the process was started by launchd, which sets
// XPC_SERVICE_NAME for its jobs, or otherwise runs without a terminal on
// stdin.
func (s *SignalService) IsService() bool {
	if name := os.Getenv("XPC_SERVICE_NAME"); name != "" && name != "0" {
		return true
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}
