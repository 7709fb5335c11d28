package scan

import (
	"io"
	"strings"
)

// FortranParser scans FORTRAN INCLUDE statements, both fixed and free
// form, and `#include` lines of preprocessed sources.
type FortranParser struct{}

func (FortranParser) Parse(r io.Reader) ([]Include, error) {
	return scanLines(r, fortranDirective)
}

func fortranDirective(line string) (Include, bool) {
	if inc, ok := cDirective(line); ok {
		return inc, true
	}
	line = strings.TrimSpace(line)
	const kw = "include"
	if len(line) <= len(kw) || !strings.EqualFold(line[:len(kw)], kw) {
		return Include{}, false
	}
	return delimited(strings.TrimSpace(line[len(kw):]), `'"`)
}
