package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefinitionExt is the file extension of a service definition.
const DefinitionExt = ".plist"

// FileSystem is the read-only view of the filesystem the locator and the
// definition parser need.
type FileSystem interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
}

// OSFileSystem reads from the host filesystem.
type OSFileSystem struct{}

func (OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// Candidate is a definition file found during enumeration. It has not been
// read yet.
type Candidate struct {
	Path   string
	Domain Domain
	Kind   ServiceKind
}

// PartialEnumeration records a directory that could not be listed.
type PartialEnumeration struct {
	Domain Domain
	Dir    string
	Err    error
}

func (p PartialEnumeration) Error() string {
	return fmt.Sprintf("enumerate %s (%s): %v", p.Dir, p.Domain, p.Err)
}

func (p PartialEnumeration) Unwrap() error { return p.Err }

// Enumeration is the result of one pass over all domain directories.
type Enumeration struct {
	Candidates []Candidate
	Partial    []PartialEnumeration
	// Reachable lists domains with at least one directory that was listed
	// successfully.
	Reachable []Domain
}

// Locator walks the configured domain directories.
type Locator struct {
	fs   FileSystem
	dirs []DomainDir
}

// NewLocator creates a locator over dirs. A nil fsys uses the host
// filesystem.
func NewLocator(fsys FileSystem, dirs []DomainDir) *Locator {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	d := make([]DomainDir, len(dirs))
	copy(d, dirs)
	return &Locator{fs: fsys, dirs: d}
}

// Dirs returns the directories this locator scans.
func (l *Locator) Dirs() []DomainDir {
	out := make([]DomainDir, len(l.dirs))
	copy(out, l.dirs)
	return out
}

// FileSystem returns the filesystem the locator reads from.
func (l *Locator) FileSystem() FileSystem { return l.fs }

// Enumerate lists every definition file in every domain directory.
// Candidates are ordered by domain priority, then by path. A directory that
// is missing or cannot be listed is recorded in Partial and enumeration
// moves on to the next one. The only error returned is the context's.
func (l *Locator) Enumerate(ctx context.Context) (*Enumeration, error) {
	result := &Enumeration{}
	reachable := make(map[Domain]bool)

	for _, dir := range l.dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, err := l.fs.ReadDir(dir.Path)
		if err != nil {
			result.Partial = append(result.Partial, PartialEnumeration{
				Domain: dir.Domain,
				Dir:    dir.Path,
				Err:    err,
			})
			if _, seen := reachable[dir.Domain]; !seen {
				reachable[dir.Domain] = false
			}
			continue
		}
		reachable[dir.Domain] = true

		for _, e := range entries {
			if !isDefinitionEntry(e) {
				continue
			}
			result.Candidates = append(result.Candidates, Candidate{
				Path:   filepath.Join(dir.Path, e.Name()),
				Domain: dir.Domain,
				Kind:   dir.Kind,
			})
		}
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Domain != b.Domain {
			return a.Domain.Less(b.Domain)
		}
		return a.Path < b.Path
	})

	for d, ok := range reachable {
		if ok {
			result.Reachable = append(result.Reachable, d)
		}
	}
	sort.Slice(result.Reachable, func(i, j int) bool {
		return result.Reachable[i].Less(result.Reachable[j])
	})

	return result, nil
}

func isDefinitionEntry(e fs.DirEntry) bool {
	if e.IsDir() {
		return false
	}
	name := e.Name()
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), DefinitionExt)
}
