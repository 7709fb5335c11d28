package target

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/qobs-build/ccbuild/internal/msg"
)

// ErrOutputCollision is returned when two sources produce the same output.
var ErrOutputCollision = errors.New("output collision")

// unrecognizedBid is the linker bid for files it accepts without knowing
// what they are.
const unrecognizedBid = 1

// Matcher auctions source files to compiler configurations and collects
// the resulting targets.
type Matcher struct {
	outputDir string
	compilers []CompilerConfiguration
	linker    LinkerConfiguration

	targets map[string]*Info
	owners  map[string]string // output -> source
	claimed map[string]bool
	objects []string
}

// NewMatcher returns a matcher placing outputs under outputDir. Earlier
// compilers win ties. linker may be nil, in which case nothing is passed
// through to the link step.
func NewMatcher(outputDir string, compilers []CompilerConfiguration, linker LinkerConfiguration) *Matcher {
	return &Matcher{
		outputDir: outputDir,
		compilers: compilers,
		linker:    linker,
		targets:   make(map[string]*Info),
		owners:    make(map[string]string),
		claimed:   make(map[string]bool),
	}
}

// Visit auctions one file. The highest compiler bid wins and gets a target
// per output name. If no compiler bids, a positive linker bid makes the
// file a direct linker input.
func (m *Matcher) Visit(parentDir, filename string) error {
	path := filepath.Join(parentDir, filename)
	if m.claimed[path] {
		return nil
	}

	var (
		winner CompilerConfiguration
		best   int
	)
	for _, c := range m.compilers {
		if bid := c.Bid(path); bid > best {
			winner, best = c, bid
		}
	}
	if winner != nil {
		return m.addTargets(winner, path)
	}

	if m.linker == nil {
		msg.Verbose("ignoring %s", path)
		return nil
	}
	switch bid := m.linker.Bid(path); {
	case bid <= 0:
		msg.Verbose("ignoring %s", path)
	case bid == unrecognizedBid:
		msg.Warn("unrecognized file type %s, will be passed to linker", path)
		m.addObject(path)
	default:
		m.addObject(path)
	}
	return nil
}

// Claim hands a file to config without an auction. Later visits of the
// same file are ignored.
func (m *Matcher) Claim(config CompilerConfiguration, parentDir, filename string) error {
	path := filepath.Join(parentDir, filename)
	m.claimed[path] = true
	return m.addTargets(config, path)
}

func (m *Matcher) addObject(path string) {
	if !slices.Contains(m.objects, path) {
		m.objects = append(m.objects, path)
	}
}

// OutputPath resolves an output file name produced by a configuration.
// Relative names are placed under outputDir.
func OutputPath(outputDir, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(outputDir, name)
}

func (m *Matcher) addTargets(config Configuration, source string) error {
	for _, name := range config.OutputFileNames(source) {
		output := OutputPath(m.outputDir, name)
		if owner, ok := m.owners[output]; ok {
			if owner == source {
				continue
			}
			return fmt.Errorf("%w: %s and %s both produce %s", ErrOutputCollision, owner, source, output)
		}
		m.owners[output] = source
		m.targets[output] = New(config, []string{source}, nil, output, config.Rebuild())
	}
	return nil
}

// Targets returns the targets keyed by output file.
func (m *Matcher) Targets() map[string]*Info { return m.targets }

// SortedTargets returns the targets ordered by output file.
func (m *Matcher) SortedTargets() []*Info {
	outputs := make([]string, 0, len(m.targets))
	for output := range m.targets {
		outputs = append(outputs, output)
	}
	slices.Sort(outputs)

	out := make([]*Info, len(outputs))
	for i, output := range outputs {
		out[i] = m.targets[output]
	}
	return out
}

// Objects returns the files passed straight to the linker, in visit order.
func (m *Matcher) Objects() []string { return m.objects }
