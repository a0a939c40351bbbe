package sender

import (
	"fmt"
	"strings"
	"time"

	"svcregistry/internal/aggregate"
	"svcregistry/internal/network"
	"svcregistry/internal/scanner"
)

const (
	rowTimeFmt  = "2006-01-02 15:04:05"
	jsonTimeFmt = "2006-01-02T15:04:05"
)

// FormatRowTimestamp formats to "2006-01-02 15:04:05,000".
func FormatRowTimestamp(t time.Time) string {
	return fmt.Sprintf("%s,%03d", t.Format(rowTimeFmt), t.Nanosecond()/1e6)
}

// FormatJSONTimestamp formats to "2006-01-02T15:04:05.000".
func FormatJSONTimestamp(t time.Time) string {
	return fmt.Sprintf("%s.%03d", t.Format(jsonTimeFmt), t.Nanosecond()/1e6)
}

// Summary counts records by state.
type Summary struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Orphans int `json:"orphans"`
}

// Envelope is the exported form of a snapshot.
type Envelope struct {
	Host        network.HostInfo          `json:"host"`
	Timestamp   string                    `json:"timestamp"`
	BootTime    string                    `json:"boot_time,omitempty"`
	Summary     Summary                   `json:"summary"`
	Records     []aggregate.ServiceRecord `json:"records"`
	Diagnostics []string                  `json:"diagnostics,omitempty"`
}

// NewEnvelope wraps snap with host identification and a summary.
func NewEnvelope(host network.HostInfo, snap *scanner.Snapshot) Envelope {
	env := Envelope{
		Host:        host,
		Timestamp:   FormatJSONTimestamp(snap.TakenAt),
		Records:     snap.Records,
		Diagnostics: snap.Diagnostics,
	}
	if !snap.BootTime.IsZero() {
		env.BootTime = FormatJSONTimestamp(snap.BootTime)
	}
	if env.Records == nil {
		env.Records = []aggregate.ServiceRecord{}
	}
	env.Summary.Total = len(snap.Records)
	for _, r := range snap.Records {
		if r.HasPID() {
			env.Summary.Running++
		}
		if r.Orphan {
			env.Summary.Orphans++
		}
	}
	return env
}

// FormatRow renders one record as a plain text line:
//
//	2026-01-02 03:04:05,000 service:com.a,pid:12,domain:system,status:Running,path:/p.plist
//
// Commas in values are replaced so that the line stays splittable.
func FormatRow(taken time.Time, r aggregate.ServiceRecord) string {
	clean := func(s string) string { return strings.ReplaceAll(s, ",", "_") }
	return fmt.Sprintf("%s service:%s,pid:%s,domain:%s,status:%s,path:%s",
		FormatRowTimestamp(taken), clean(r.Service), r.PIDString(), clean(r.Domain), r.Status, clean(r.Path))
}
