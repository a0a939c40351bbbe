package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FixedFormatWriter turns zerolog JSON lines into fixed-width columns:
//
//	2026-02-26 12:00:00.000 [INF] [scanner        ] Scan completed records=412 failures=1
//	2026-02-26 12:00:01.200 [WRN] [correlator     ] Service manager unavailable error="exit status 1"
//
// Lines that are not JSON are passed through unchanged.
type FixedFormatWriter struct {
	w io.Writer
}

// NewFixedFormatWriter creates a FixedFormatWriter writing to w.
func NewFixedFormatWriter(w io.Writer) *FixedFormatWriter {
	return &FixedFormatWriter{w: w}
}

const (
	componentWidth = 15
	columnTime     = "2006-01-02 15:04:05.000"
)

var levelTags = map[zerolog.Level]string{
	zerolog.TraceLevel: "TRC",
	zerolog.DebugLevel: "DBG",
	zerolog.InfoLevel:  "INF",
	zerolog.WarnLevel:  "WRN",
	zerolog.ErrorLevel: "ERR",
	zerolog.FatalLevel: "FTL",
	zerolog.PanicLevel: "PNC",
}

func (f *FixedFormatWriter) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return f.w.Write(p)
	}

	ts := formatTimestamp(takeString(fields, zerolog.TimestampFieldName))
	lvl := levelTag(takeString(fields, zerolog.LevelFieldName))
	comp := takeString(fields, "component")
	msg := takeString(fields, zerolog.MessageFieldName)
	delete(fields, zerolog.CallerFieldName)

	if len(comp) > componentWidth {
		comp = comp[:componentWidth]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%-*s] %s", ts, lvl, componentWidth, comp, msg)
	if extra := formatExtra(fields); extra != "" {
		b.WriteByte(' ')
		b.WriteString(extra)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(f.w, b.String())
	// zerolog expects the length of its own input.
	return len(p), err
}

// takeString removes key from fields and returns its value as text.
func takeString(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func levelTag(level string) string {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return "???"
	}
	if tag, ok := levelTags[l]; ok {
		return tag
	}
	return "???"
}

// formatTimestamp renders an RFC 3339 timestamp as columnTime in its own
// offset. Unparseable input is padded or cut to the column width.
func formatTimestamp(ts string) string {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.Format(columnTime)
	}
	if len(ts) >= len(columnTime) {
		return ts[:len(columnTime)]
	}
	return ts + strings.Repeat(" ", len(columnTime)-len(ts))
}

// formatExtra renders the remaining fields as sorted key=value pairs,
// quoting values that contain blanks or quotes.
func formatExtra(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s := fmt.Sprint(fields[k])
		if strings.ContainsAny(s, " \t\n\"") {
			s = fmt.Sprintf("%q", s)
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}
