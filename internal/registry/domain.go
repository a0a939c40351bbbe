// Package registry locates service definition files in the well-known
// launchd directories and tags each one with its domain.
package registry

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DomainKind is the scope a definition is installed in.
type DomainKind int

const (
	DomainSystem DomainKind = iota
	DomainGlobal
	DomainUser
)

// Domain identifies where a definition lives. UID is only meaningful for
// DomainUser.
type Domain struct {
	Kind DomainKind
	UID  int
}

// System returns the system domain (vendor-installed definitions).
func System() Domain { return Domain{Kind: DomainSystem} }

// Global returns the machine-wide, locally installed domain.
func Global() Domain { return Domain{Kind: DomainGlobal} }

// User returns the per-user domain for uid.
func User(uid int) Domain { return Domain{Kind: DomainUser, UID: uid} }

// Priority orders domains: lower wins. System < Global < User.
func (d Domain) Priority() int { return int(d.Kind) }

// Less orders domains by priority, then by uid.
func (d Domain) Less(o Domain) bool {
	if d.Kind != o.Kind {
		return d.Kind < o.Kind
	}
	return d.UID < o.UID
}

func (d Domain) String() string {
	switch d.Kind {
	case DomainSystem:
		return "system"
	case DomainGlobal:
		return "global"
	case DomainUser:
		return "user/" + strconv.Itoa(d.UID)
	}
	return fmt.Sprintf("domain(%d)", int(d.Kind))
}

// Target returns the launchctl domain target a definition of this domain
// and kind loads into. Agents outside a user domain load into the session
// of sessionUID.
func (d Domain) Target(kind ServiceKind, sessionUID int) string {
	switch {
	case d.Kind == DomainUser:
		return "gui/" + strconv.Itoa(d.UID)
	case kind == KindAgent:
		return "gui/" + strconv.Itoa(sessionUID)
	}
	return "system"
}

// ParseDomain parses the String form of a Domain.
func ParseDomain(s string) (Domain, error) {
	switch {
	case s == "system":
		return System(), nil
	case s == "global":
		return Global(), nil
	case strings.HasPrefix(s, "user/"):
		uid, err := strconv.Atoi(strings.TrimPrefix(s, "user/"))
		if err != nil || uid < 0 {
			return Domain{}, fmt.Errorf("invalid user domain %q", s)
		}
		return User(uid), nil
	}
	return Domain{}, fmt.Errorf("unknown domain %q (supported: system, global, user/<uid>)", s)
}

// DomainForTarget maps a launchctl domain target back to a Domain. The
// system target covers both System and Global definitions and maps to
// System. Targets without a Domain counterpart, such as pid/<n> or
// login/<asid>, report false.
func DomainForTarget(target string) (Domain, bool) {
	if target == "system" {
		return System(), true
	}
	for _, prefix := range []string{"gui/", "user/"} {
		if !strings.HasPrefix(target, prefix) {
			continue
		}
		uid, err := strconv.Atoi(strings.TrimPrefix(target, prefix))
		if err != nil || uid < 0 {
			return Domain{}, false
		}
		return User(uid), true
	}
	return Domain{}, false
}

// ServiceKind distinguishes per-session agents from daemons.
type ServiceKind int

const (
	KindDaemon ServiceKind = iota
	KindAgent
)

func (k ServiceKind) String() string {
	if k == KindAgent {
		return "agent"
	}
	return "daemon"
}

// DomainDir is one directory scanned for definitions.
type DomainDir struct {
	Path   string
	Domain Domain
	Kind   ServiceKind
}

// DefaultDirs returns the launchd directory set:
//
//	/System/Library/LaunchDaemons, /System/Library/LaunchAgents   system
//	/Library/LaunchDaemons, /Library/LaunchAgents                 global
//	~/Library/LaunchAgents                                        user/<uid>
//
// Global agents are owned by the machine but run in each user session; the
// uid is used only for their launchctl target.
func DefaultDirs(home string, uid int) []DomainDir {
	dirs := []DomainDir{
		{Path: "/System/Library/LaunchDaemons", Domain: System(), Kind: KindDaemon},
		{Path: "/System/Library/LaunchAgents", Domain: System(), Kind: KindAgent},
		{Path: "/Library/LaunchDaemons", Domain: Global(), Kind: KindDaemon},
		{Path: "/Library/LaunchAgents", Domain: Global(), Kind: KindAgent},
	}
	if home != "" {
		dirs = append(dirs, DomainDir{
			Path:   filepath.Join(home, "Library", "LaunchAgents"),
			Domain: User(uid),
			Kind:   KindAgent,
		})
	}
	return dirs
}
