package correlator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultLaunchctlPath is the launchctl binary used when none is configured.
const DefaultLaunchctlPath = "/bin/launchctl"

// ManagerEntry is the service manager's view of one label in one domain
// target.
type ManagerEntry struct {
	Label    string
	Target   string
	PID      int32
	LastExit string
	// Loaded is false for labels that only appear in the disabled list.
	Loaded   bool
	Disabled bool
}

// StatusSource queries the service manager.
type StatusSource interface {
	Statuses(ctx context.Context) ([]ManagerEntry, error)
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// TimeoutRunner executes commands, killing each one after d. A zero d
// disables the per-command limit.
func TimeoutRunner(d time.Duration) CommandRunner {
	if d <= 0 {
		return execRunner
	}
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return execRunner(ctx, name, args...)
	}
}

// LaunchctlStatusSource reads service state from launchctl.
type LaunchctlStatusSource struct {
	path    string
	targets []string
	run     CommandRunner
}

// NewLaunchctlStatusSource creates a source that queries each domain target
// (for example "system" or "gui/501"). An empty path uses
// DefaultLaunchctlPath and a nil runner executes the binary.
func NewLaunchctlStatusSource(path string, targets []string, run CommandRunner) *LaunchctlStatusSource {
	if path == "" {
		path = DefaultLaunchctlPath
	}
	if run == nil {
		run = execRunner
	}
	t := make([]string, len(targets))
	copy(t, targets)
	return &LaunchctlStatusSource{path: path, targets: t, run: run}
}

// launchctl exits with these codes when a domain has not been bootstrapped,
// e.g. gui/<uid> with nobody logged in.
var domainNotRunningCodes = map[int]bool{3: true, 125: true}

// Statuses runs "launchctl print" and "launchctl print-disabled" for every
// target. A target whose domain is not running contributes no entries. Any
// other failure fails the whole source.
func (s *LaunchctlStatusSource) Statuses(ctx context.Context) ([]ManagerEntry, error) {
	var entries []ManagerEntry
	for _, target := range s.targets {
		out, err := s.run(ctx, s.path, "print", target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if domainNotRunning(err) {
				continue
			}
			return nil, fmt.Errorf("launchctl print %s: %w", target, err)
		}
		loaded := parsePrintServices(out, target)

		out, err = s.run(ctx, s.path, "print-disabled", target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !domainNotRunning(err) {
				return nil, fmt.Errorf("launchctl print-disabled %s: %w", target, err)
			}
			out = nil
		}
		disabled := parsePrintDisabled(out)

		seen := make(map[string]bool, len(loaded))
		for i := range loaded {
			loaded[i].Disabled = disabled[loaded[i].Label]
			seen[loaded[i].Label] = true
		}
		entries = append(entries, loaded...)
		for _, label := range sortedKeys(disabled) {
			if disabled[label] && !seen[label] {
				entries = append(entries, ManagerEntry{Label: label, Target: target, Disabled: true})
			}
		}
	}
	return entries, nil
}

func domainNotRunning(err error) bool {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return domainNotRunningCodes[coder.ExitCode()]
	}
	return false
}

var (
	servicesBlockStart = regexp.MustCompile(`^\s*services = \{\s*$`)
	serviceLine        = regexp.MustCompile(`^\s+(\d+)\s+([0-9-]+)\s+(\S+)`)
	disabledLine       = regexp.MustCompile(`^\s*"([^"]+)"\s*=>\s*(\S+)`)
)

// parsePrintServices extracts the "services = { ... }" block of
// "launchctl print <target>". Each line is "pid last-exit label" with pid 0
// for a loaded service that is not running.
func parsePrintServices(out []byte, target string) []ManagerEntry {
	var entries []ManagerEntry
	inBlock := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !inBlock {
			inBlock = servicesBlockStart.MatchString(line)
			continue
		}
		if strings.TrimSpace(line) == "}" {
			break
		}
		m := serviceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pid, err := strconv.ParseInt(m[1], 10, 32)
		if err != nil {
			continue
		}
		entries = append(entries, ManagerEntry{
			Label:    m[3],
			Target:   target,
			PID:      int32(pid),
			LastExit: m[2],
			Loaded:   true,
		})
	}
	return entries
}

// parsePrintDisabled reads `"label" => disabled|enabled|true|false` lines.
func parsePrintDisabled(out []byte) map[string]bool {
	disabled := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := disabledLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		switch m[2] {
		case "disabled", "true":
			disabled[m[1]] = true
		case "enabled", "false":
			disabled[m[1]] = false
		}
	}
	return disabled
}
