package scan

import (
	"io"
	"strings"
)

// CParser scans C, C++ and Objective-C preprocessor directives.
type CParser struct{}

func (CParser) Parse(r io.Reader) ([]Include, error) {
	return scanLines(r, cDirective)
}

var cKeywords = []string{"include_next", "include", "import"}

func cDirective(line string) (Include, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '#' {
		return Include{}, false
	}
	line = strings.TrimSpace(line[1:])

	for _, kw := range cKeywords {
		rest, ok := strings.CutPrefix(line, kw)
		if !ok {
			continue
		}
		// `#include"foo.h"` is valid, `#includes` is not a directive we know.
		if rest == "" {
			return Include{}, false
		}
		switch rest[0] {
		case ' ', '\t', '"', '<':
		default:
			return Include{}, false
		}
		return delimited(strings.TrimSpace(rest), `"<`)
	}
	return Include{}, false
}
