// Package scan extracts include directives from C-family and FORTRAN
// sources.
//
// It only recognizes the literal forms
//
//	#include "foo.h"
//	#include <foo.h>
//	#include_next <foo.h>
//	#import "foo.h"
//	      INCLUDE 'foo.inc'
//
// Macros are not expanded and paths are not resolved. Includes are
// returned in order of appearance without deduplication; resolving them
// against include directories is the compiler configuration's job.
package scan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnreadable is wrapped by ParseFile when a source can't be opened or read.
var ErrUnreadable = errors.New("unreadable source file")

// maxLine bounds a single source line; generated sources can be huge.
const maxLine = 4 << 20

// Include is a single include directive.
type Include struct {
	Name   string
	Angled bool // <name> rather than "name"
}

func (inc Include) String() string {
	if inc.Angled {
		return "<" + inc.Name + ">"
	}
	return `"` + inc.Name + `"`
}

// Parser extracts includes from source text.
type Parser interface {
	Parse(r io.Reader) ([]Include, error)
}

var fortranExts = map[string]bool{
	".f": true, ".for": true, ".ftn": true, ".f77": true,
	".f90": true, ".f95": true, ".f03": true, ".f08": true,
}

// IsFortran reports whether path has a FORTRAN source extension.
func IsFortran(path string) bool {
	return fortranExts[strings.ToLower(filepath.Ext(path))]
}

// ForFile returns the parser matching the extension of path.
func ForFile(path string) Parser {
	if IsFortran(path) {
		return FortranParser{}
	}
	return CParser{}
}

// ParseFile opens path and parses it with the grammar for its extension.
func ParseFile(path string) ([]Include, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnreadable, path, err)
	}
	defer f.Close()

	includes, err := ForFile(path).Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnreadable, path, err)
	}
	return includes, nil
}

func scanLines(r io.Reader, directive func(line string) (Include, bool)) ([]Include, error) {
	var includes []Include
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		if inc, ok := directive(sc.Text()); ok {
			includes = append(includes, inc)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return includes, nil
}

// delimited parses `"name"` or `<name>` at the start of s. Anything after
// the closing delimiter is ignored.
func delimited(s string, quotes string) (Include, bool) {
	if len(s) < 2 {
		return Include{}, false
	}
	var end byte
	angled := false
	switch {
	case s[0] == '<' && strings.IndexByte(quotes, '<') >= 0:
		end, angled = '>', true
	case strings.IndexByte(quotes, s[0]) >= 0:
		end = s[0]
	default:
		// macro include, e.g. `#include FOO_H`
		return Include{}, false
	}
	i := strings.IndexByte(s[1:], end)
	if i <= 0 {
		// unclosed or empty
		return Include{}, false
	}
	return Include{Name: s[1 : i+1], Angled: angled}, true
}
