// Package history remembers, per output file, which sources and which
// configuration produced it, so that a changed file set or configuration
// forces a rebuild even when no timestamp moved.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/qobs-build/ccbuild/internal/depend"
	"github.com/qobs-build/ccbuild/internal/mtime"
	"github.com/qobs-build/ccbuild/internal/target"
	"go.trai.ch/zerr"
)

// Filename is the name of the history file inside an object directory.
const Filename = "history.json"

// Source is one input of a recorded target.
type Source struct {
	File         string `json:"file"`
	LastModified string `json:"lastModified"` // hex milliseconds
}

// Record describes how an output was last produced.
type Record struct {
	Config  string   `json:"config"`
	Sources []Source `json:"sources"`
}

type document struct {
	Targets map[string]*Record `json:"targets"`
}

// Table holds the records of one object directory. Paths are stored
// relative to the project directory.
type Table struct {
	baseDir string
	path    string
	records map[string]*Record
	start   time.Time
	dirty   bool
}

// New returns an empty table persisted in objDir. The current time is
// taken as the start of the build.
func New(baseDir, objDir string) *Table {
	return &Table{
		baseDir: baseDir,
		path:    filepath.Join(objDir, Filename),
		records: make(map[string]*Record),
		start:   time.Now(),
	}
}

func (h *Table) Path() string { return h.path }
func (h *Table) Dirty() bool  { return h.dirty }
func (h *Table) Len() int     { return len(h.records) }

// Get returns the record of output, or nil.
func (h *Table) Get(output string) *Record {
	return h.records[depend.RelPath(h.baseDir, output)]
}

// Load reads the history file. A missing file leaves the table empty. On
// a malformed file the table stays empty and the error is returned.
func (h *Table) Load() error {
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(err, "failed to open history"), "path", h.path)
	}
	defer f.Close()

	var doc document
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&doc); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to parse "+h.path), "path", h.path)
	}
	for output, rec := range doc.Targets {
		if rec != nil {
			h.records[output] = rec
		}
	}
	h.dirty = false
	return nil
}

// MarkForRebuild forces a rebuild of every target whose sources or
// configuration differ from what produced its output last time.
func (h *Table) MarkForRebuild(targets []*target.Info) {
	for _, t := range targets {
		if t.Rebuild() {
			continue
		}
		if !h.matches(t) {
			t.MustRebuild()
		}
	}
}

// matches reports whether t has the configuration and the same sources,
// in the same order and with the same times, as its recorded build.
func (h *Table) matches(t *target.Info) bool {
	rec := h.Get(t.Output())
	if rec == nil || rec.Config != t.Config().Identifier() || len(rec.Sources) != len(t.Sources()) {
		return false
	}

	for i, src := range t.Sources() {
		if rec.Sources[i].File != depend.RelPath(h.baseDir, src) {
			return false
		}
		then, err := mtime.ParseHex(rec.Sources[i].LastModified)
		if err != nil {
			return false
		}
		now, ok := mtime.Stat(src)
		if !ok || !mtime.Equal(then, now) {
			return false
		}
	}
	return true
}

// Update records the current sources of t. Nothing is recorded if the
// output is missing or older than the start of the build, since then the
// tool that should have produced it failed.
func (h *Table) Update(t *target.Info) {
	out, ok := mtime.Stat(t.Output())
	if !ok || mtime.IsSignificantlyBefore(out, h.start) {
		return
	}

	rec := &Record{
		Config:  t.Config().Identifier(),
		Sources: make([]Source, 0, len(t.Sources())),
	}
	for _, src := range t.Sources() {
		modified, ok := mtime.Stat(src)
		if !ok {
			return
		}
		rec.Sources = append(rec.Sources, Source{
			File:         depend.RelPath(h.baseDir, src),
			LastModified: mtime.FormatHex(modified),
		})
	}
	h.records[depend.RelPath(h.baseDir, t.Output())] = rec
	h.dirty = true
}

// Commit writes the table if it changed.
func (h *Table) Commit() error {
	if !h.dirty {
		return nil
	}

	data, err := json.MarshalIndent(document{Targets: h.records}, "", "  ")
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to encode history"), "path", h.path)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create object directory"), "path", h.path)
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write "+h.path), "path", h.path)
	}
	h.dirty = false
	return nil
}
