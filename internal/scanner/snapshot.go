package scanner

import (
	"time"

	"svcregistry/internal/aggregate"
	"svcregistry/internal/correlator"
	"svcregistry/internal/definition"
	"svcregistry/internal/registry"
)

// Columns names the fields of a row returned by Rows.
var Columns = []string{"Service", "PID", "Domain", "Status", "Path"}

// Snapshot is the result of one scan. It is never modified after Scan
// returns; a new scan builds a new Snapshot.
type Snapshot struct {
	Records  []aggregate.ServiceRecord `json:"records"`
	TakenAt  time.Time                 `json:"taken_at"`
	BootTime time.Time                 `json:"boot_time"`
	// Diagnostics holds one message per partial enumeration, parse failure,
	// definition note and degraded status source.
	Diagnostics []string `json:"diagnostics,omitempty"`

	Partial      []registry.PartialEnumeration `json:"-"`
	Failures     []*definition.ParseFailure    `json:"-"`
	Degradations []correlator.Degradation      `json:"-"`
}

// Rows returns the records as rows of Columns.
func (s *Snapshot) Rows() [][]string {
	return Rows(s.Records)
}

// WithPID returns the records that carry a process id.
func (s *Snapshot) WithPID() []aggregate.ServiceRecord {
	out := make([]aggregate.ServiceRecord, 0, len(s.Records))
	for _, r := range s.Records {
		if r.HasPID() {
			out = append(out, r)
		}
	}
	return out
}

// PathsFor returns the definition files of every record for label, in
// record order. Orphan records have no file and are skipped.
func (s *Snapshot) PathsFor(label string) []string {
	var paths []string
	for _, r := range s.Records {
		if r.Service == label && !r.Orphan {
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// Degraded reports whether any diagnostics were collected.
func (s *Snapshot) Degraded() bool {
	return len(s.Partial)+len(s.Failures)+len(s.Degradations) > 0
}

// Rows renders records as service, pid, domain, status and path. The pid
// column is empty when there is no process.
func Rows(records []aggregate.ServiceRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.Service, r.PIDString(), r.Domain, r.Status, r.Path})
	}
	return rows
}

func diagnostics(partial []registry.PartialEnumeration, failures []*definition.ParseFailure, defs []*definition.Definition, degraded []correlator.Degradation) []string {
	var out []string
	for _, p := range partial {
		out = append(out, p.Error())
	}
	for _, f := range failures {
		out = append(out, f.Error())
	}
	for _, d := range defs {
		for _, n := range d.Notes() {
			out = append(out, d.Source()+": "+n)
		}
	}
	for _, d := range degraded {
		out = append(out, d.Error())
	}
	return out
}
