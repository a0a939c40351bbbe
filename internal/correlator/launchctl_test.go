package correlator

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const printSystem = `system = {
	type = system
	handle = 0
	active count = 3
	services = {
		       0      -9 	com.apple.idle
		     123       - 	com.apple.runner
		     456       0 	com.example.web
	}

	unmanaged processes = {
		     789       - 	com.apple.unmanaged
	}

	endpoints = {
		"com.apple.endpoint" = {
			port = 0x1234
		}
	}
}
`

const printDisabledSystem = `disabled services = {
	"com.example.off" => disabled
	"com.apple.idle" => true
	"com.example.web" => enabled
	"com.example.legacy" => false
}
`

type exitErr int

func (e exitErr) Error() string { return "exit status" }
func (e exitErr) ExitCode() int { return int(e) }

func TestParsePrintServices(t *testing.T) {
	entries := parsePrintServices([]byte(printSystem), "system")
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}
	want := []ManagerEntry{
		{Label: "com.apple.idle", Target: "system", PID: 0, LastExit: "-9", Loaded: true},
		{Label: "com.apple.runner", Target: "system", PID: 123, LastExit: "-", Loaded: true},
		{Label: "com.example.web", Target: "system", PID: 456, LastExit: "0", Loaded: true},
	}
	for i, w := range want {
		if entries[i] != w {
			t.Errorf("entry[%d] = %+v, want %+v", i, entries[i], w)
		}
	}
}

func TestParsePrintServices_NoBlock(t *testing.T) {
	if got := parsePrintServices([]byte("gui/501 = {\n\ttype = gui\n}\n"), "gui/501"); len(got) != 0 {
		t.Errorf("got %+v, want no entries", got)
	}
}

func TestParsePrintDisabled(t *testing.T) {
	got := parsePrintDisabled([]byte(printDisabledSystem))
	want := map[string]bool{
		"com.example.off":    true,
		"com.apple.idle":     true,
		"com.example.web":    false,
		"com.example.legacy": false,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestLaunchctlStatusSource(t *testing.T) {
	var calls []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		switch strings.Join(args, " ") {
		case "print system":
			return []byte(printSystem), nil
		case "print-disabled system":
			return []byte(printDisabledSystem), nil
		case "print gui/501":
			return nil, exitErr(125)
		}
		return nil, errors.New("unexpected call")
	}

	src := NewLaunchctlStatusSource("", []string{"system", "gui/501"}, run)
	entries, err := src.Statuses(context.Background())
	if err != nil {
		t.Fatalf("Statuses failed: %v", err)
	}

	if len(calls) != 3 || !strings.HasPrefix(calls[0], DefaultLaunchctlPath+" ") {
		t.Errorf("calls = %v", calls)
	}

	byLabel := make(map[string]ManagerEntry)
	for _, e := range entries {
		byLabel[e.Label] = e
	}
	if len(byLabel) != 4 {
		t.Fatalf("entries = %+v, want 3 loaded plus 1 disabled-only", entries)
	}
	if e := byLabel["com.apple.idle"]; !e.Loaded || !e.Disabled {
		t.Errorf("idle = %+v, want loaded and disabled", e)
	}
	if e := byLabel["com.example.off"]; e.Loaded || !e.Disabled {
		t.Errorf("off = %+v, want disabled only", e)
	}
	if _, ok := byLabel["com.example.legacy"]; ok {
		t.Error("enabled, unloaded label must not produce an entry")
	}
}

func TestLaunchctlStatusSource_Failure(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) {
		return nil, exitErr(1)
	}
	_, err := NewLaunchctlStatusSource("/bin/launchctl", []string{"system"}, run).Statuses(context.Background())
	if err == nil {
		t.Fatal("expected an error for exit status 1")
	}
	var coder interface{ ExitCode() int }
	if !errors.As(err, &coder) || coder.ExitCode() != 1 {
		t.Errorf("error %v does not carry exit code 1", err)
	}
}

func TestLaunchctlStatusSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	run := func(context.Context, string, ...string) ([]byte, error) {
		cancel()
		return nil, errors.New("signal: killed")
	}
	_, err := NewLaunchctlStatusSource("", []string{"system"}, run).Statuses(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
