// Package depend tracks header dependencies of compiled sources across
// builds and decides whether a target is stale relative to its include
// closure.
package depend

import (
	"path/filepath"
	"strings"
	"time"
)

// Composite is the newest modification time across a file and its whole
// include closure. It is either unresolved or resolved to a time.
type Composite struct {
	at       time.Time
	resolved bool
}

// Unresolved returns a composite whose time isn't known yet.
func Unresolved() Composite { return Composite{} }

// Resolved returns a composite fixed at t.
func Resolved(t time.Time) Composite { return Composite{at: t, resolved: true} }

// Time returns the composite time and whether it is resolved.
func (c Composite) Time() (time.Time, bool) { return c.at, c.resolved }

func (c Composite) IsResolved() bool { return c.resolved }

// Info is the dependency record of one source file computed under one
// include path configuration. Everything but the composite time is
// immutable after construction.
type Info struct {
	Source             string // relative to the table's base directory
	IncludePathID      string
	SourceLastModified time.Time
	Includes           []string
	SysIncludes        []string

	composite Composite
	// loaded is set on records read from the dependency file.
	loaded bool
}

// NewInfo returns a record with an unresolved composite time.
func NewInfo(source, includePathID string, lastModified time.Time, includes, sysIncludes []string) *Info {
	return &Info{
		Source:             source,
		IncludePathID:      includePathID,
		SourceLastModified: lastModified,
		Includes:           includes,
		SysIncludes:        sysIncludes,
	}
}

func (info *Info) Composite() Composite { return info.composite }

// resolve fixes the composite time. Only the first call has an effect.
func (info *Info) resolve(t time.Time) {
	if info.composite.resolved {
		return
	}
	info.composite = Resolved(t)
}

// Includer is implemented by compiler configurations that can turn a
// source file into a dependency record.
type Includer interface {
	// IncludePathID identifies the include search path the records are
	// computed under.
	IncludePathID() string
	// ParseIncludes parses source and resolves its includes. Paths in the
	// returned record are relative to baseDir where possible.
	ParseIncludes(baseDir, source string) (*Info, error)
}

// RelPath returns path relative to baseDir in slash form, or path itself
// (cleaned, slash form) when it lies outside baseDir.
func RelPath(baseDir, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}

// AbsPath is the inverse of RelPath.
func AbsPath(baseDir, rel string) string {
	p := filepath.FromSlash(rel)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
