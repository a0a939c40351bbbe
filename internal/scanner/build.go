package scanner

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strconv"

	"svcregistry/internal/config"
	"svcregistry/internal/correlator"
	"svcregistry/internal/definition"
	"svcregistry/internal/logger"
	"svcregistry/internal/record"
	"svcregistry/internal/registry"
)

// NewFromConfig wires a Scanner for the host from cfg: the default launchd
// directories of the enabled domains plus cfg.ExtraDirs, the gopsutil
// process table and, on darwin, launchctl.
func NewFromConfig(cfg *config.Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	uid := cfg.UID
	if uid == config.CurrentUser {
		uid = registry.CurrentUID()
	}
	dirs := domainDirs(cfg, uid, homeDir(cfg.HomeDir, uid, cfg.UID == config.CurrentUser))

	var processes correlator.ProcessSource
	if cfg.ProcessTable {
		processes = correlator.PsutilProcessSource{}
	}
	var manager correlator.StatusSource
	if cfg.Launchctl.Enabled && runtime.GOOS == "darwin" {
		manager = correlator.NewLaunchctlStatusSource(cfg.Launchctl.Path, Targets(dirs, uid), correlator.TimeoutRunner(cfg.Launchctl.Timeout))
	}

	locator := registry.NewLocator(nil, dirs)
	parser := definition.NewParser(locator.FileSystem(), record.NewDecoder(cfg.MaxDepth))
	s := New(locator, parser, correlator.New(processes, manager), cfg.Workers)
	s.SetTimeout(cfg.QueryTimeout)
	return s, nil
}

// homeDir resolves the home directory of the user domain. An empty result
// leaves the user domain out of the directory set.
func homeDir(configured string, uid int, current bool) string {
	if configured != "" {
		return configured
	}
	log := logger.WithComponent("scanner")
	if current {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warn().Err(err).Msg("Home directory unknown, skipping user domain")
			return ""
		}
		return home
	}
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		log.Warn().Err(err).Int("uid", uid).Msg("User lookup failed, skipping user domain")
		return ""
	}
	return u.HomeDir
}

func domainDirs(cfg *config.Config, uid int, home string) []registry.DomainDir {
	var dirs []registry.DomainDir
	for _, d := range registry.DefaultDirs(home, uid) {
		if cfg.HasDomain(domainName(d.Domain)) {
			dirs = append(dirs, d)
		}
	}
	for _, extra := range cfg.ExtraDirs {
		dirs = append(dirs, extraDir(extra, uid))
	}
	return dirs
}

func domainName(d registry.Domain) string {
	switch d.Kind {
	case registry.DomainSystem:
		return config.DomainSystem
	case registry.DomainGlobal:
		return config.DomainGlobal
	default:
		return config.DomainUser
	}
}

func extraDir(c config.DirConfig, uid int) registry.DomainDir {
	d := registry.DomainDir{Path: c.Path, Kind: registry.KindDaemon}
	switch c.Domain {
	case config.DomainSystem:
		d.Domain = registry.System()
	case config.DomainGlobal:
		d.Domain = registry.Global()
	default:
		d.Domain = registry.User(uid)
		d.Kind = registry.KindAgent
	}
	switch c.Kind {
	case "agent":
		d.Kind = registry.KindAgent
	case "daemon":
		d.Kind = registry.KindDaemon
	}
	return d
}

// Targets returns the distinct launchctl domain targets of dirs in
// directory order.
func Targets(dirs []registry.DomainDir, sessionUID int) []string {
	seen := make(map[string]bool)
	var targets []string
	for _, d := range dirs {
		t := d.Domain.Target(d.Kind, sessionUID)
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	return targets
}
