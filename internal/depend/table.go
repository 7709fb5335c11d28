package depend

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/qobs-build/ccbuild/internal/mtime"
	"go.trai.ch/zerr"
)

// Filename is the name of the dependency file inside an object directory.
const Filename = "dependencies.xml"

// Table holds the dependency records of one object directory. A source
// compiled under several include paths keeps one record per include path.
//
// A Table is owned by a single build and isn't safe for concurrent use.
type Table struct {
	baseDir string
	path    string
	records map[string][]*Info
	dirty   bool

	// frameLimit caps unbounded walks; -1 means no cap.
	frameLimit int
}

// NewTable returns an empty table whose records are relative to baseDir
// and persisted in objDir.
func NewTable(baseDir, objDir string) *Table {
	return &Table{
		baseDir:    baseDir,
		path:       filepath.Join(objDir, Filename),
		records:    make(map[string][]*Info),
		frameLimit: -1,
	}
}

// SetFrameLimit caps the include depth of unbounded walks. Hitting the cap
// counts as stale since the rest of the closure is unknown. n < 0 removes
// the cap.
func (t *Table) SetFrameLimit(n int) {
	if n < 0 {
		n = -1
	}
	t.frameLimit = n
}

func (t *Table) BaseDir() string { return t.baseDir }
func (t *Table) Path() string    { return t.path }
func (t *Table) Dirty() bool     { return t.dirty }

// Len returns the number of records over all include paths.
func (t *Table) Len() int {
	n := 0
	for _, recs := range t.records {
		n += len(recs)
	}
	return n
}

// Load replaces the table contents with the persisted records. A missing
// file leaves the table empty. On a malformed file the records read
// before the error are kept and the error is returned, so callers can
// warn and carry on.
//
// Records whose source is gone or was modified since they were written
// are dropped.
func (t *Table) Load() error {
	t.records = make(map[string][]*Info)
	t.dirty = false

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(err, "failed to open "+t.path), "path", t.path)
	}
	defer f.Close()

	err = readDependencies(bufio.NewReader(f), func(info *Info) {
		if t.fresh(info) {
			info.loaded = true
			t.insert(info.Source, info)
		}
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to parse "+t.path), "path", t.path)
	}
	return nil
}

// fresh reports whether a loaded record still describes the file on disk.
// It also drops system includes that no longer exist.
func (t *Table) fresh(info *Info) bool {
	modified, ok := mtime.Stat(AbsPath(t.baseDir, info.Source))
	if !ok || !mtime.Equal(modified, info.SourceLastModified) {
		return false
	}
	info.SysIncludes = slices.DeleteFunc(info.SysIncludes, func(sys string) bool {
		_, ok := mtime.Stat(AbsPath(t.baseDir, sys))
		return !ok
	})
	return true
}

// Get returns the record of source computed under includePathID, or nil.
func (t *Table) Get(source, includePathID string) *Info {
	for _, info := range t.records[source] {
		if info.IncludePathID == includePathID {
			return info
		}
	}
	return nil
}

// Put stores info for source. A record with the same include path is
// replaced; records for other include paths are kept.
func (t *Table) Put(source string, info *Info) {
	t.insert(source, info)
	t.dirty = true
}

func (t *Table) insert(source string, info *Info) {
	recs := t.records[source]
	for i, old := range recs {
		if old.IncludePathID == info.IncludePathID {
			recs[i] = info
			return
		}
	}
	t.records[source] = append(recs, info)
}

// ParseAndRecord parses source with the compiler's include resolution and
// stores the resulting record.
func (t *Table) ParseAndRecord(inc Includer, source string) (*Info, error) {
	info, err := inc.ParseIncludes(t.baseDir, source)
	if err != nil {
		return nil, err
	}
	t.Put(RelPath(t.baseDir, source), info)
	return info, nil
}

// Signatures returns the include path identifiers present in the table,
// sorted.
func (t *Table) Signatures() []string {
	seen := make(map[string]bool)
	var sigs []string
	for _, recs := range t.records {
		for _, info := range recs {
			if !seen[info.IncludePathID] {
				seen[info.IncludePathID] = true
				sigs = append(sigs, info.IncludePathID)
			}
		}
	}
	slices.Sort(sigs)
	return sigs
}

// Records returns the records computed under includePathID sorted by
// source.
func (t *Table) Records(includePathID string) []*Info {
	var out []*Info
	for _, recs := range t.records {
		for _, info := range recs {
			if info.IncludePathID == includePathID {
				out = append(out, info)
			}
		}
	}
	slices.SortFunc(out, func(a, b *Info) int {
		switch {
		case a.Source < b.Source:
			return -1
		case a.Source > b.Source:
			return 1
		}
		return 0
	})
	return out
}

// Commit writes the table if it changed since it was loaded or last
// committed.
func (t *Table) Commit() error {
	if !t.dirty {
		return nil
	}

	var buf bytes.Buffer
	groups := make([]recordGroup, 0)
	for _, sig := range t.Signatures() {
		groups = append(groups, recordGroup{signature: sig, records: t.Records(sig)})
	}
	if err := writeDependencies(&buf, groups); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to encode "+t.path), "path", t.path)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create object directory"), "path", t.path)
	}
	if err := os.WriteFile(t.path, buf.Bytes(), 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write "+t.path), "path", t.path)
	}
	t.dirty = false
	return nil
}
