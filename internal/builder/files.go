package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// collectFiles expands glob patterns relative to basedir into absolute
// file paths, in pattern order and without duplicates. A pattern starting
// with ! removes earlier matches.
func collectFiles(basedir string, patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	fsys := os.DirFS(basedir)

	for _, pat := range patterns {
		if exclude, ok := strings.CutPrefix(pat, "!"); ok {
			files = slices.DeleteFunc(files, func(file string) bool {
				rel, err := filepath.Rel(basedir, file)
				if err != nil {
					return false
				}
				matched, _ := doublestar.Match(exclude, filepath.ToSlash(rel))
				if matched {
					delete(seen, file)
				}
				return matched
			})
			continue
		}

		if filepath.IsAbs(pat) {
			if file := filepath.Clean(pat); !seen[file] {
				seen[file] = true
				files = append(files, file)
			}
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid pattern %q", pat)
		}
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pat), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("while globbing %s: %w", pat, err)
		}
		slices.Sort(matches)
		for _, match := range matches {
			absPath, err := filepath.Abs(filepath.Join(basedir, match))
			if err != nil {
				return nil, fmt.Errorf("while globbing directory %s: %w", match, err)
			}
			if file := filepath.Clean(absPath); !seen[file] {
				seen[file] = true
				files = append(files, file)
			}
		}
	}

	return files, nil
}
