// Package aggregate merges service definitions and live statuses into the
// ordered list of records shown to operators.
package aggregate

import (
	"sort"
	"strconv"

	"svcregistry/internal/correlator"
	"svcregistry/internal/definition"
	"svcregistry/internal/registry"
)

// Unknown is the path and domain of records without a definition file.
const Unknown = "Unknown"

// ServiceRecord is one row of the service list.
type ServiceRecord struct {
	Service string `json:"service"`
	PID     int32  `json:"pid,omitempty"`
	Domain  string `json:"domain"`
	Status  string `json:"status"`
	Path    string `json:"path"`
	// Orphan is set for records built from a live status alone.
	Orphan bool `json:"orphan,omitempty"`
}

// HasPID reports whether the record carries a process id.
func (r ServiceRecord) HasPID() bool { return r.PID > 0 }

// PIDString renders the pid, or "" when there is none.
func (r ServiceRecord) PIDString() string {
	if !r.HasPID() {
		return ""
	}
	return strconv.FormatInt(int64(r.PID), 10)
}

type domainKey struct {
	id     string
	domain registry.Domain
}

// row is a record with the fields it is ordered by.
type row struct {
	rec    ServiceRecord
	domain registry.Domain
	// known is false for orphans whose target has no Domain counterpart.
	known bool
}

func (a row) less(b row) bool {
	if a.known != b.known {
		return a.known
	}
	if !a.known {
		if a.rec.Service != b.rec.Service {
			return a.rec.Service < b.rec.Service
		}
		return a.rec.Domain < b.rec.Domain
	}
	if a.domain.Kind != b.domain.Kind {
		return a.domain.Priority() < b.domain.Priority()
	}
	if a.rec.Service != b.rec.Service {
		return a.rec.Service < b.rec.Service
	}
	return a.domain.UID < b.domain.UID
}

// Aggregate joins definitions with statuses on identifier.
//
// One record is produced per (identifier, domain). A label defined in
// several domains yields one record per domain, so shadowed definitions stay
// visible. Within a single domain the definition with the lexically first
// source path is kept. Statuses without a definition become orphan records
// with path Unknown; their launchctl target is mapped back to a domain with
// registry.DomainForTarget. Records are ordered by domain priority, then
// identifier. Orphans whose target names no domain come last, by identifier.
//
// The returned slice is newly allocated on every call.
func Aggregate(defs []*definition.Definition, statuses map[string]correlator.LiveStatus) []ServiceRecord {
	chosen := make(map[domainKey]*definition.Definition, len(defs))
	defined := make(map[string]bool, len(defs))
	for _, d := range defs {
		k := domainKey{id: d.Identifier(), domain: d.Domain()}
		defined[d.Identifier()] = true
		if prev, ok := chosen[k]; ok && prev.Source() <= d.Source() {
			continue
		}
		chosen[k] = d
	}

	rows := make([]row, 0, len(chosen)+len(statuses))
	for k, d := range chosen {
		rec := ServiceRecord{
			Service: k.id,
			Domain:  k.domain.String(),
			Status:  correlator.StateUnknown.String(),
			Path:    d.Source(),
		}
		if st, ok := statuses[k.id]; ok {
			rec.Status = st.State.String()
			if st.HasPID() {
				rec.PID = st.PID
			}
		}
		rows = append(rows, row{rec: rec, domain: k.domain, known: true})
	}

	for id, st := range statuses {
		if defined[id] {
			continue
		}
		rec := ServiceRecord{
			Service: id,
			Domain:  Unknown,
			Status:  st.State.String(),
			Path:    Unknown,
			Orphan:  true,
		}
		if st.HasPID() {
			rec.PID = st.PID
		}
		domain, known := registry.DomainForTarget(st.Target)
		switch {
		case known:
			rec.Domain = domain.String()
		case st.Target != "":
			rec.Domain = st.Target
		}
		rows = append(rows, row{rec: rec, domain: domain, known: known})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].less(rows[j]) })

	records := make([]ServiceRecord, len(rows))
	for i, r := range rows {
		records[i] = r.rec
	}
	return records
}
