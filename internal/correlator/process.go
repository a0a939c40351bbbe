package correlator

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is one entry of the live process table.
type Process struct {
	PID        int32
	Name       string
	Executable string
}

// ProcessSource enumerates running processes.
type ProcessSource interface {
	Processes(ctx context.Context) ([]Process, error)
}

// PsutilProcessSource reads the process table through gopsutil.
type PsutilProcessSource struct{}

// Processes lists every visible process. Processes that exit or deny access
// while being inspected are skipped.
func (PsutilProcessSource) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		exe, _ := p.ExeWithContext(ctx)
		name, _ := p.NameWithContext(ctx)
		if exe == "" && name == "" {
			continue
		}
		out = append(out, Process{PID: p.Pid, Name: name, Executable: exe})
	}
	return out, nil
}
