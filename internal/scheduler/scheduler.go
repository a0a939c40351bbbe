// Package scheduler runs periodic and change-triggered rescans and hands
// each snapshot to a sender.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"svcregistry/internal/logger"
	"svcregistry/internal/scanner"
	"svcregistry/internal/sender"
)

// Scanner produces snapshots.
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Snapshot, error)
}

// Scheduler rescans every interval and, after a quiet period of debounce,
// whenever Trigger is called.
type Scheduler struct {
	scanner  Scanner
	sender   sender.Sender
	clock    clock.Clock
	interval time.Duration
	debounce time.Duration
	trigger  chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts completed scan cycles.
type Stats struct {
	Scans     int
	Failures  int
	Sent      int
	LastScan  time.Time
	LastError error
}

// New creates a new scheduler with the given components.
func New(sc Scanner, s sender.Sender, interval, debounce time.Duration) *Scheduler {
	return &Scheduler{
		scanner:  sc,
		sender:   s,
		clock:    clock.New(),
		interval: interval,
		debounce: debounce,
		trigger:  make(chan struct{}, 1),
	}
}

// SetClock replaces the clock. It must be called before Start.
func (s *Scheduler) SetClock(c clock.Clock) {
	s.clock = c
}

// Start performs a first scan and begins the schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	log := logger.WithComponent("scan-scheduler")
	log.Info().
		Dur("interval", s.interval).
		Dur("debounce", s.debounce).
		Msg("Starting scheduler")

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop stops the scheduler and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	log := logger.WithComponent("scan-scheduler")
	log.Info().Msg("Stopping scheduler, waiting for scan to finish")

	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger requests a rescan. Calls made while a rescan is pending are
// coalesced. It never blocks and has the signature of a directory watcher
// callback.
func (s *Scheduler) Trigger(path string) {
	select {
	case s.trigger <- struct{}{}:
		log := logger.WithComponent("scan-scheduler")
		log.Debug().Str("path", path).Msg("Rescan requested")
	default:
	}
}

// Stats returns a copy of the scan counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	log := logger.WithComponent("scan-scheduler")

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.Ticker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var debounceTimer *clock.Timer
	var debounced <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	s.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scan loop stopped")
			return

		case <-tick:
			s.scanOnce(ctx)

		case <-s.trigger:
			if s.debounce <= 0 {
				s.scanOnce(ctx)
				continue
			}
			if debounceTimer == nil {
				debounceTimer = s.clock.Timer(s.debounce)
			} else {
				debounceTimer.Reset(s.debounce)
			}
			debounced = debounceTimer.C

		case <-debounced:
			debounced = nil
			s.scanOnce(ctx)
		}
	}
}

func (s *Scheduler) scanOnce(ctx context.Context) {
	log := logger.WithComponent("scan-scheduler")

	startTime := s.clock.Now()
	snap, err := s.scanner.Scan(ctx)
	duration := s.clock.Since(startTime)

	s.statsMu.Lock()
	s.stats.Scans++
	s.stats.LastScan = startTime
	s.stats.LastError = err
	if err != nil {
		s.stats.Failures++
	}
	s.statsMu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Dur("duration", duration).Msg("Scan failed")
		}
		return
	}

	if s.sender == nil {
		return
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, 10*time.Second)
	defer sendCancel()

	if err := s.sender.Send(sendCtx, snap); err != nil {
		log.Error().Err(err).Msg("Failed to send snapshot")
		return
	}

	s.statsMu.Lock()
	s.stats.Sent++
	s.statsMu.Unlock()

	log.Debug().
		Int("records", len(snap.Records)).
		Dur("duration", duration).
		Msg("Snapshot sent")
}
