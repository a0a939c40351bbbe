// Package correlator joins service definitions with the live process table
// and the service manager's own view of what is loaded.
package correlator

import "fmt"

// State is the live state of one service.
type State int

const (
	StateUnknown State = iota
	StateRunning
	StateLoadedNotRunning
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateLoadedNotRunning:
		return "Loaded-Not-Running"
	case StateDisabled:
		return "Disabled"
	}
	return "Unknown"
}

// LiveStatus is the observed state of one identifier. PID is zero when no
// process is known. Target is the manager domain target that reported it,
// empty when the state came from the process table.
type LiveStatus struct {
	Identifier string
	PID        int32
	State      State
	Target     string
}

// HasPID reports whether a process id is known.
func (s LiveStatus) HasPID() bool { return s.PID > 0 }

// Degradation records a status source that could not be used for this
// query.
type Degradation struct {
	Source string
	Err    error
}

func (d Degradation) Error() string {
	return fmt.Sprintf("%s unavailable: %v", d.Source, d.Err)
}

func (d Degradation) Unwrap() error { return d.Err }

// Result is one correlation pass. Statuses holds every identifier with a
// known state, including manager entries that match no definition.
type Result struct {
	Statuses     map[string]LiveStatus
	Degradations []Degradation
	// ManagerReachable and ProcessesReachable report which sources answered.
	ManagerReachable   bool
	ProcessesReachable bool
}

// Reachable reports whether at least one status source answered.
func (r Result) Reachable() bool {
	return r.ManagerReachable || r.ProcessesReachable
}
