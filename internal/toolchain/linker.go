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
	"github.com/qobs-build/ccbuild/internal/target"
)

const (
	LinkExecutable = "exe"
	LinkStatic     = "static"
)

var (
	objectExtensions   = []string{".o", ".obj", ".a", ".lib", ".so", ".dylib", ".dll", ".res"}
	declinedExtensions = []string{
		".h", ".hh", ".hpp", ".hxx", ".h++", ".inl", ".inc", ".tcc",
		".c", ".cc", ".cpp", ".cxx", ".c++", ".m", ".mm", ".s",
		".f", ".for", ".ftn", ".f77", ".f90", ".f95", ".f03", ".f08", ".mod",
		".txt", ".md", ".rst", ".toml", ".json", ".xml", ".in", ".cmake",
	}
)

// Linker is the [linker] entry of the build description.
type Linker struct {
	Command string
	Kind    string
	Output  string
	Libs    []string
	LibDirs []string
	Flags   []string

	AlwaysRebuild bool
}

var _ target.LinkerConfiguration = (*Linker)(nil)

// Bid accepts object files and libraries outright, declines sources,
// headers and text files, and accepts anything else as unrecognized.
func (l *Linker) Bid(filename string) int {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case slices.Contains(objectExtensions, ext), isVersionedSharedObject(filename):
		return DefaultBid
	case slices.Contains(declinedExtensions, ext):
		return 0
	}
	return 1
}

func isVersionedSharedObject(filename string) bool {
	return strings.Contains(filepath.Base(filename), ".so.")
}

func (l *Linker) OutputFileNames(string) []string { return []string{l.Output} }
func (l *Linker) Rebuild() bool                   { return l.AlwaysRebuild }

func (l *Linker) Identifier() string {
	parts := []string{l.Command, l.Kind}
	parts = append(parts, l.Flags...)
	for _, dir := range l.LibDirs {
		parts = append(parts, "-L"+filepath.ToSlash(dir))
	}
	for _, lib := range l.Libs {
		parts = append(parts, "-l"+lib)
	}
	return strings.Join(parts, " ")
}

// LibraryKey maps libfoo.a, libfoo.so.1, foo.lib and -lfoo to foo.
func (l *Linker) LibraryKey(file string) string {
	if rest, ok := strings.CutPrefix(file, "-l"); ok {
		return rest
	}
	base := filepath.Base(file)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	if base != "lib" {
		base = strings.TrimPrefix(base, "lib")
	}
	return base
}

// Args returns the command and arguments producing output from objects.
// Libraries with a path or extension are passed as files, bare names
// with -l.
func (l *Linker) Args(baseDir, output string, objects, libs []string) (string, []string) {
	if l.Kind == LinkStatic {
		args := []string{"rcs", output}
		return "ar", append(args, objects...)
	}

	args := []string{"-o", output}
	args = append(args, objects...)
	for _, dir := range l.LibDirs {
		args = append(args, "-L"+depend.AbsPath(baseDir, dir))
	}
	for _, lib := range libs {
		switch {
		case strings.HasPrefix(lib, "-"):
			args = append(args, lib)
		case strings.ContainsAny(lib, `/\`) || filepath.Ext(lib) != "":
			args = append(args, depend.AbsPath(baseDir, lib))
		default:
			args = append(args, "-l"+lib)
		}
	}
	return l.Command, append(args, l.Flags...)
}

// Link runs the link step in baseDir. Tool output is written to w,
// indented.
func (l *Linker) Link(baseDir, output string, objects, libs []string, w io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if l.Kind == LinkStatic {
		// ar appends to an existing archive
		if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	name, args := l.Args(baseDir, output, objects, libs)
	cmd := exec.Command(name, args...)
	cmd.Dir = baseDir
	iw := &msg.IndentWriter{Indent: "    ", W: w}
	cmd.Stdout = iw
	cmd.Stderr = iw

	verb := "LINK"
	if l.Kind == LinkStatic {
		verb = "AR"
	}
	fmt.Fprintf(w, "%s %s\n", verb, depend.RelPath(baseDir, output))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("linking %s: %w", depend.RelPath(baseDir, output), err)
	}
	return nil
}
