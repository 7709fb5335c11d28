package depend

import (
	"time"

	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/qobs-build/ccbuild/internal/mtime"
)

// Target is the part of a build target the walker looks at.
type Target interface {
	Sources() []string
	Output() string
}

// NeedsRebuild reports whether any source of tgt, or anything it
// transitively includes, is significantly newer than tgt's output.
//
// Records missing from the table are parsed with inc and recorded. A
// negative maxDepth walks the whole include graph. A non-negative
// maxDepth stops descending after that many levels; what lies below is
// then simply not checked.
func (t *Table) NeedsRebuild(inc Includer, tgt Target, maxDepth int) (bool, error) {
	output, ok := mtime.Stat(tgt.Output())
	if !ok {
		return true, nil
	}

	w := &walker{
		table:    t,
		includer: inc,
		pathID:   inc.IncludePathID(),
		output:   output,
		limit:    maxDepth,
		onPath:   make(map[*Info]bool),
	}
	if maxDepth < 0 {
		w.limit = t.frameLimit
		w.rebuildOnExhaustion = true
	}

	for _, src := range tgt.Sources() {
		rel := RelPath(t.baseDir, src)
		info := t.Get(rel, w.pathID)
		if info == nil {
			msg.Verbose("parsing %s", rel)
			var err error
			if info, err = t.ParseAndRecord(inc, src); err != nil {
				return false, err
			}
		}
		if err := w.walk(info); err != nil {
			return false, err
		}
		if w.stale {
			return true, nil
		}
	}
	return false, nil
}

type walker struct {
	table    *Table
	includer Includer
	pathID   string
	output   time.Time

	// limit is the maximum walk depth, -1 for none.
	limit               int
	rebuildOnExhaustion bool

	onPath map[*Info]bool
	depth  int
	stale  bool
}

// visit checks node against the output and reports whether its includes
// still need to be walked.
func (w *walker) visit(node *Info) bool {
	if !w.stale {
		if mtime.IsSignificantlyAfter(node.SourceLastModified, w.output) {
			w.stale = true
		} else if c, ok := node.Composite().Time(); ok && mtime.IsSignificantlyAfter(c, w.output) {
			w.stale = true
		}
	}
	return !w.stale && !node.Composite().IsResolved()
}

// preview visits the known children of parent, resolves parent's
// composite time once all children have one, and reports whether the
// target is still considered up to date. Nil children are not known yet.
func (w *walker) preview(parent *Info, children []*Info) bool {
	composite := parent.SourceLastModified
	resolved := 0
	for _, child := range children {
		if child == nil {
			continue
		}
		w.visit(child)
		if c, ok := child.Composite().Time(); ok {
			resolved++
			if c.After(composite) {
				composite = c
			}
		}
	}
	if resolved == len(children) {
		parent.resolve(composite)
	}
	return !w.stale
}

func (w *walker) exhausted() {
	if w.rebuildOnExhaustion {
		w.stale = true
	}
}

func (w *walker) walk(node *Info) error {
	if !w.visit(node) {
		return nil
	}
	if w.onPath[node] {
		// include cycle
		return nil
	}
	if w.limit >= 0 && w.depth >= w.limit {
		w.exhausted()
		return nil
	}
	w.onPath[node] = true
	w.depth++
	defer func() {
		delete(w.onPath, node)
		w.depth--
	}()

	children := make([]*Info, len(node.Includes))
	missing := false
	for i, inc := range node.Includes {
		children[i] = w.table.Get(inc, w.pathID)
		if children[i] == nil {
			missing = true
		}
	}

	// Try with what is already known before parsing anything.
	if !w.preview(node, children) {
		return nil
	}
	if missing {
		for i, child := range children {
			if child != nil {
				continue
			}
			msg.Verbose("parsing %s", node.Includes[i])
			info, err := w.table.ParseAndRecord(w.includer, AbsPath(w.table.baseDir, node.Includes[i]))
			if err != nil {
				if node.loaded {
					// The path came from the dependency file and may not
					// have survived the round trip, so node is parsed again.
					msg.Verbose("%s: %v, rebuilding", node.Source, err)
					if _, err := w.table.ParseAndRecord(w.includer, AbsPath(w.table.baseDir, node.Source)); err != nil {
						return err
					}
					w.stale = true
					return nil
				}
				return err
			}
			children[i] = info
		}
		if !w.preview(node, children) {
			return nil
		}
	}

	for _, child := range children {
		if err := w.walk(child); err != nil {
			return err
		}
		if w.stale {
			return nil
		}
	}
	// Children may have resolved during the walk.
	w.preview(node, children)
	return nil
}
