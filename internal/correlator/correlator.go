package correlator

import (
	"context"
	"sort"

	"svcregistry/internal/definition"
	"svcregistry/internal/logger"
)

// Source names used in degradations.
const (
	SourceProcessTable   = "process-table"
	SourceServiceManager = "service-manager"
)

// Correlator combines a process table with a service manager.
type Correlator struct {
	processes ProcessSource
	manager   StatusSource
}

// New creates a correlator. manager may be nil on platforms without a
// supported service manager.
func New(processes ProcessSource, manager StatusSource) *Correlator {
	return &Correlator{processes: processes, manager: manager}
}

// QueryLiveStatus computes the live state of every definition.
//
// Processes are matched to definitions by executable. When the service
// manager answers, its view wins: a loaded label with a pid is Running, a
// loaded label without one is Loaded-Not-Running and a disabled label is
// Disabled, whatever the process table says. Definitions the manager does
// not know fall back to the process table. When the manager cannot be
// reached, states are limited to Running and Unknown. Source failures are
// recorded as degradations; only cancellation is returned as an error.
func (c *Correlator) QueryLiveStatus(ctx context.Context, defs []*definition.Definition) (Result, error) {
	log := logger.WithComponent("correlator")
	result := Result{Statuses: make(map[string]LiveStatus)}

	known := make(map[string]bool, len(defs))
	matcher := NewExecutableMatcher()
	for _, d := range defs {
		known[d.Identifier()] = true
		matcher.Add(d.Executable(), d.Identifier())
	}

	running := make(map[string]int32)
	if c.processes != nil {
		procs, err := c.processes.Processes(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if err != nil {
			result.Degradations = append(result.Degradations, Degradation{Source: SourceProcessTable, Err: err})
			log.Warn().Err(err).Msg("Process table unavailable")
		} else {
			result.ProcessesReachable = true
			for _, p := range procs {
				for _, id := range matcher.Match(p) {
					if pid, ok := running[id]; !ok || p.PID < pid {
						running[id] = p.PID
					}
				}
			}
		}
	}

	var managed map[string]ManagerEntry
	if c.manager != nil {
		entries, err := c.manager.Statuses(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if err != nil {
			result.Degradations = append(result.Degradations, Degradation{Source: SourceServiceManager, Err: err})
			log.Warn().Err(err).Msg("Service manager unavailable, using process table only")
		} else {
			result.ManagerReachable = true
			managed = mergeEntries(entries)
		}
	}

	for id := range known {
		if e, ok := managed[id]; ok {
			result.Statuses[id] = fromManager(e)
			continue
		}
		if pid, ok := running[id]; ok {
			result.Statuses[id] = LiveStatus{Identifier: id, PID: pid, State: StateRunning}
		}
	}

	for label, e := range managed {
		if known[label] || !e.Loaded {
			continue
		}
		result.Statuses[label] = fromManager(e)
	}

	log.Debug().
		Int("definitions", len(defs)).
		Int("statuses", len(result.Statuses)).
		Int("matched_processes", len(running)).
		Bool("manager", result.ManagerReachable).
		Msg("Live status query complete")

	return result, nil
}

func fromManager(e ManagerEntry) LiveStatus {
	s := LiveStatus{Identifier: e.Label, Target: e.Target}
	switch {
	case e.PID > 0:
		s.PID = e.PID
		s.State = StateRunning
	case e.Disabled:
		s.State = StateDisabled
	case e.Loaded:
		s.State = StateLoadedNotRunning
	}
	return s
}

// mergeEntries folds entries for the same label across targets. A running
// entry beats a loaded one, which beats a disabled-only one.
func mergeEntries(entries []ManagerEntry) map[string]ManagerEntry {
	rank := func(e ManagerEntry) int {
		switch {
		case e.PID > 0:
			return 2
		case e.Loaded:
			return 1
		}
		return 0
	}
	out := make(map[string]ManagerEntry, len(entries))
	for _, e := range entries {
		prev, ok := out[e.Label]
		if !ok || rank(e) > rank(prev) {
			if ok && prev.Disabled {
				e.Disabled = true
			}
			out[e.Label] = e
		} else if e.Disabled {
			prev.Disabled = true
			out[e.Label] = prev
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
