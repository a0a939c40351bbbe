// Package scanner is the query facade over the service registry: it
// enumerates definition files, parses them on a bounded worker pool,
// correlates them with live state and returns the ordered record list.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"golang.org/x/sync/errgroup"

	"svcregistry/internal/aggregate"
	"svcregistry/internal/correlator"
	"svcregistry/internal/definition"
	"svcregistry/internal/logger"
	"svcregistry/internal/registry"
)

// ErrRegistryUnavailable is returned when no definition directory could be
// listed and no status source answered.
var ErrRegistryUnavailable = errors.New("service registry unavailable")

// DefaultWorkers is the parse pool size used when none is given.
const DefaultWorkers = 8

// Scanner runs scans. It holds no state between scans and is safe for
// concurrent use.
type Scanner struct {
	locator    *registry.Locator
	parser     *definition.Parser
	correlator *correlator.Correlator
	workers    int
	timeout    time.Duration

	now      func() time.Time
	bootTime func(ctx context.Context) (time.Time, error)
}

// New creates a scanner. workers bounds the number of files parsed at once.
func New(locator *registry.Locator, parser *definition.Parser, corr *correlator.Correlator, workers int) *Scanner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if parser == nil {
		parser = definition.NewParser(locator.FileSystem(), nil)
	}
	if corr == nil {
		corr = correlator.New(nil, nil)
	}
	return &Scanner{
		locator:    locator,
		parser:     parser,
		correlator: corr,
		workers:    workers,
		now:        time.Now,
		bootTime:   hostBootTime,
	}
}

// SetTimeout bounds every scan. Zero means no limit besides the caller's
// context.
func (s *Scanner) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Dirs returns the directories searched for definitions.
func (s *Scanner) Dirs() []registry.DomainDir {
	return s.locator.Dirs()
}

func hostBootTime(ctx context.Context) (time.Time, error) {
	bt, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(bt), 0), nil
}

// ListAgentsAndDaemons returns the ordered service records of a fresh scan.
func (s *Scanner) ListAgentsAndDaemons(ctx context.Context) ([]aggregate.ServiceRecord, error) {
	snap, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Records, nil
}

// Scan enumerates, parses, correlates and aggregates. Unreadable
// directories, bad files and unavailable status sources are collected in the
// snapshot. A cancelled scan returns the context error and no snapshot.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	log := logger.WithComponent("scanner")
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := s.now()

	enum, err := s.locator.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range enum.Partial {
		log.Warn().Err(p.Err).Str("dir", p.Dir).Str("domain", p.Domain.String()).Msg("Definition directory not readable")
	}

	defs, failures, err := s.parseAll(ctx, enum.Candidates)
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		log.Warn().Err(f.Err).Str("path", f.Path).Str("reason", string(f.Reason)).Msg("Skipping definition")
	}

	result, err := s.correlator.QueryLiveStatus(ctx, defs)
	if err != nil {
		return nil, err
	}

	if len(enum.Reachable) == 0 && !result.Reachable() {
		return nil, fmt.Errorf("%w: %d directories unreadable, %d status sources failed",
			ErrRegistryUnavailable, len(enum.Partial), len(result.Degradations))
	}

	snap := &Snapshot{
		Records:      aggregate.Aggregate(defs, result.Statuses),
		TakenAt:      start,
		Partial:      enum.Partial,
		Failures:     failures,
		Degradations: result.Degradations,
	}
	snap.Diagnostics = diagnostics(snap.Partial, snap.Failures, defs, snap.Degradations)

	if s.bootTime != nil {
		if bt, err := s.bootTime(ctx); err != nil {
			log.Debug().Err(err).Msg("Boot time unavailable")
		} else {
			snap.BootTime = bt
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info().
		Int("candidates", len(enum.Candidates)).
		Int("definitions", len(defs)).
		Int("records", len(snap.Records)).
		Int("diagnostics", len(snap.Diagnostics)).
		Dur("duration", s.now().Sub(start)).
		Msg("Scan completed")

	return snap, nil
}

// parseAll parses candidates on at most s.workers goroutines. Results keep
// the candidate order. Only cancellation is returned as an error.
func (s *Scanner) parseAll(ctx context.Context, candidates []registry.Candidate) ([]*definition.Definition, []*definition.ParseFailure, error) {
	defSlots := make([]*definition.Definition, len(candidates))
	failSlots := make([]*definition.ParseFailure, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range candidates {
		i, c := i, c
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			def, failure := s.parser.Parse(gctx, c)
			if failure != nil {
				if failure.Reason == definition.ReasonCancelled {
					return failure.Err
				}
				failSlots[i] = failure
				return nil
			}
			defSlots[i] = def
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	defs := make([]*definition.Definition, 0, len(candidates))
	var failures []*definition.ParseFailure
	for i := range candidates {
		if defSlots[i] != nil {
			defs = append(defs, defSlots[i])
		}
		if failSlots[i] != nil {
			failures = append(failures, failSlots[i])
		}
	}
	return defs, failures, nil
}
