// Package toolchain adapts GCC and Clang style compilers and linkers to
// the target configuration interfaces.
package toolchain

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/ccbuild/internal/depend"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/qobs-build/ccbuild/internal/mtime"
	"github.com/qobs-build/ccbuild/internal/scan"
	"github.com/qobs-build/ccbuild/internal/target"
)

const (
	// DefaultBid is what a compiler bids for a file it compiles.
	DefaultBid = 100
)

// Variables consulted by compilers for additional system include dirs.
var includeEnv = []string{"CPATH", "C_INCLUDE_PATH", "CPLUS_INCLUDE_PATH", "INCLUDE"}

// Directories whose headers are never tracked.
var systemPrefixes = []string{
	"/usr/include",
	"/usr/local/include",
	"/usr/lib/gcc",
	"/usr/lib/llvm",
	"/opt/homebrew/include",
	"/library/developer/",
	"/applications/xcode",
	"c:/program files",
}

// Compiler is one [[compiler]] entry of the build description.
type Compiler struct {
	Name     string
	Language string
	Command  string

	// Extensions are the file extensions compiled by this compiler,
	// Headers the extensions it never bids for.
	Extensions []string
	Headers    []string

	// IncludeDirs and SysIncludeDirs are relative to the project
	// directory or absolute.
	IncludeDirs    []string
	SysIncludeDirs []string
	Defines        map[string]string
	Flags          []string

	// Outputs are the output name patterns. {stem}, {ext} and {name}
	// expand to the source's base name without extension, its extension
	// without the dot and its full base name.
	Outputs       []string
	AlwaysRebuild bool

	excluded map[string]bool
}

var _ target.CompilerConfiguration = (*Compiler)(nil)

// Exclude makes the compiler refuse path in auctions, because another
// compiler owns it.
func (c *Compiler) Exclude(path string) {
	if c.excluded == nil {
		c.excluded = make(map[string]bool)
	}
	c.excluded[filepath.Clean(path)] = true
}

func (c *Compiler) Bid(filename string) int {
	if c.excluded[filepath.Clean(filename)] {
		return 0
	}
	ext := filepath.Ext(filename)
	if slices.Contains(c.Headers, ext) {
		return 0
	}
	if slices.Contains(c.Extensions, ext) {
		return DefaultBid
	}
	return 0
}

func (c *Compiler) OutputFileNames(input string) []string {
	name := filepath.Base(input)
	ext := filepath.Ext(name)
	r := strings.NewReplacer(
		"{stem}", strings.TrimSuffix(name, ext),
		"{ext}", strings.TrimPrefix(ext, "."),
		"{name}", name,
	)

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"{stem}.o"}
	}
	names := make([]string, len(outputs))
	for i, pattern := range outputs {
		names[i] = r.Replace(pattern)
	}
	return names
}

func (c *Compiler) Rebuild() bool { return c.AlwaysRebuild }

func (c *Compiler) IncludePathID() string {
	parts := make([]string, 0, len(c.IncludeDirs)+len(c.SysIncludeDirs))
	for _, dir := range c.IncludeDirs {
		parts = append(parts, "-I"+filepath.ToSlash(dir))
	}
	for _, dir := range c.SysIncludeDirs {
		parts = append(parts, "-isystem"+filepath.ToSlash(dir))
	}
	return strings.Join(parts, " ")
}

func (c *Compiler) Identifier() string {
	var b strings.Builder
	b.WriteString(c.Command)
	for _, flag := range c.defineFlags() {
		b.WriteString(" " + flag)
	}
	for _, flag := range c.Flags {
		b.WriteString(" " + flag)
	}
	if id := c.IncludePathID(); id != "" {
		b.WriteString(" " + id)
	}
	return b.String()
}

func (c *Compiler) defineFlags() []string {
	keys := make([]string, 0, len(c.Defines))
	for k := range c.Defines {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	flags := make([]string, 0, len(keys))
	for _, define := range keys {
		if v := c.Defines[define]; v != "" {
			flags = append(flags, "-D"+define+"="+v) // TODO: escape this?
		} else {
			flags = append(flags, "-D"+define)
		}
	}
	return flags
}

// ParseIncludes scans source and resolves its includes. Quoted includes
// are looked up next to the including file first, then in the include
// dirs, then in the system include dirs. Angled includes skip the first
// step. Includes found nowhere are dropped.
func (c *Compiler) ParseIncludes(baseDir, source string) (*depend.Info, error) {
	incs, err := scan.ParseFile(source)
	if err != nil {
		return nil, err
	}
	modified, ok := mtime.Stat(source)
	if !ok {
		return nil, fmt.Errorf("%w %s: vanished while parsing", scan.ErrUnreadable, source)
	}

	projectDirs := make([]string, 0, len(c.IncludeDirs)+1)
	for _, dir := range c.IncludeDirs {
		projectDirs = append(projectDirs, depend.AbsPath(baseDir, dir))
	}
	var sysDirs []string
	for _, dir := range c.SysIncludeDirs {
		sysDirs = append(sysDirs, depend.AbsPath(baseDir, dir))
	}
	for _, env := range includeEnv {
		sysDirs = append(sysDirs, filepath.SplitList(os.Getenv(env))...)
	}

	var includes, sysIncludes []string
	seen := make(map[string]bool)
	for _, inc := range incs {
		dirs := projectDirs
		if !inc.Angled {
			dirs = append([]string{filepath.Dir(source)}, projectDirs...)
		}

		path, system := "", false
		if path = lookup(dirs, inc.Name); path == "" {
			path, system = lookup(sysDirs, inc.Name), true
		}
		switch {
		case path == "":
			msg.Verbose("%s: can't resolve %s", depend.RelPath(baseDir, source), inc)
			continue
		case seen[path]:
			continue
		}
		seen[path] = true

		if system || isSystemPath(path, sysDirs) {
			sysIncludes = append(sysIncludes, filepath.ToSlash(path))
		} else {
			includes = append(includes, depend.RelPath(baseDir, path))
		}
	}

	return depend.NewInfo(depend.RelPath(baseDir, source), c.IncludePathID(), modified, includes, sysIncludes), nil
}

func lookup(dirs []string, name string) string {
	if filepath.IsAbs(name) {
		if isFile(name) {
			return filepath.Clean(name)
		}
		return ""
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(name))
		if isFile(path) {
			return path
		}
	}
	return ""
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// isSystemPath reports whether path lies under a well-known system
// directory or one of extra. Matching is a case-insensitive prefix match.
func isSystemPath(path string, extra []string) bool {
	p := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for _, prefix := range extra {
		if prefix == "" {
			continue
		}
		prefix = strings.ToLower(strings.ReplaceAll(filepath.Clean(prefix), `\`, "/"))
		if p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// Args returns the command line arguments compiling source into output.
func (c *Compiler) Args(baseDir, source, output string) []string {
	args := make([]string, 0, len(c.Flags)+len(c.Defines)+len(c.IncludeDirs)+len(c.SysIncludeDirs)+4)
	args = append(args, c.Flags...)
	args = append(args, c.defineFlags()...)
	for _, dir := range c.IncludeDirs {
		args = append(args, "-I"+depend.AbsPath(baseDir, dir))
	}
	for _, dir := range c.SysIncludeDirs {
		args = append(args, "-isystem", depend.AbsPath(baseDir, dir))
	}
	return append(args, "-c", source, "-o", output)
}

// Compile compiles source into output, running in baseDir. Tool output
// is written to w, indented.
func (c *Compiler) Compile(baseDir, source, output string, w io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	cmd := exec.Command(c.Command, c.Args(baseDir, source, output)...)
	cmd.Dir = baseDir
	iw := &msg.IndentWriter{Indent: "    ", W: w}
	cmd.Stdout = iw
	cmd.Stderr = iw

	fmt.Fprintf(w, "CC %s\n", depend.RelPath(baseDir, source))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compiling %s: %w", depend.RelPath(baseDir, source), err)
	}
	return nil
}
