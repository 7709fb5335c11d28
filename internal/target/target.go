// Package target assigns source files to compiler configurations and
// keeps one build target per output file.
package target

import (
	"github.com/qobs-build/ccbuild/internal/depend"
	"github.com/qobs-build/ccbuild/internal/mtime"
)

// Configuration is a compiler or linker setup that can bid for files.
type Configuration interface {
	// Bid returns how well the configuration handles filename. Zero or
	// less means it doesn't want the file.
	Bid(filename string) int
	// OutputFileNames returns the outputs produced from input.
	OutputFileNames(input string) []string
	// Rebuild reports whether every target of this configuration is
	// always rebuilt.
	Rebuild() bool
	// Identifier describes everything about the configuration that
	// affects its outputs.
	Identifier() string
}

type CompilerConfiguration interface {
	Configuration
	depend.Includer
}

type LinkerConfiguration interface {
	Configuration
	// LibraryKey returns the name under which file is linked, used to
	// drop duplicate libraries.
	LibraryKey(file string) string
}

// Info is a single build target: one output and the sources producing it.
type Info struct {
	config     Configuration
	sources    []string
	sysSources []string
	output     string
	rebuild    bool
}

var _ depend.Target = (*Info)(nil)

// New returns a target. A target whose output doesn't exist is always
// rebuilt.
func New(config Configuration, sources, sysSources []string, output string, rebuild bool) *Info {
	if _, ok := mtime.Stat(output); !ok {
		rebuild = true
	}
	return &Info{
		config:     config,
		sources:    sources,
		sysSources: sysSources,
		output:     output,
		rebuild:    rebuild,
	}
}

func (t *Info) Sources() []string     { return t.sources }
func (t *Info) SysSources() []string  { return t.sysSources }
func (t *Info) Output() string        { return t.output }
func (t *Info) Config() Configuration { return t.config }
func (t *Info) Rebuild() bool         { return t.rebuild }

// MustRebuild marks the target for rebuild. There is no way back.
func (t *Info) MustRebuild() { t.rebuild = true }

// Compiler returns the target's compiler configuration, if it has one.
func (t *Info) Compiler() (CompilerConfiguration, bool) {
	c, ok := t.config.(CompilerConfiguration)
	return c, ok
}

// DedupLibraries drops every library whose key was already seen, keeping
// the first occurrence.
func DedupLibraries(linker LinkerConfiguration, libs []string) []string {
	seen := make(map[string]bool, len(libs))
	out := make([]string, 0, len(libs))
	for _, lib := range libs {
		key := linker.LibraryKey(lib)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, lib)
	}
	return out
}
