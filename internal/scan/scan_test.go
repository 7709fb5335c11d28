package scan

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCParser(t *testing.T) {
	for _, tc := range []struct {
		name string
		buf  string
		want []Include
	}{
		{
			name: "helloworld",
			buf: `
#include <stdio.h>

int main(int argc, char *argv[]) {
  printf("hello, world\n");
}
`,
			want: []Include{{Name: "stdio.h", Angled: true}},
		},
		{
			name: "mixed",
			buf: `
#ifndef BASE_VERSION_H_
#define BASE_VERSION_H_

#include <stdint.h>
#include <string>

#include "base/base_export.h"
#  include   "base/strings/string_piece.h"  // trailing comment
	#	include "tabs.h"
#include"nospace.h"
#endif
`,
			want: []Include{
				{Name: "stdint.h", Angled: true},
				{Name: "string", Angled: true},
				{Name: "base/base_export.h"},
				{Name: "base/strings/string_piece.h"},
				{Name: "tabs.h"},
				{Name: "nospace.h"},
			},
		},
		{
			name: "duplicates-kept",
			buf:  "#include \"a.h\"\n#include \"a.h\"\n",
			want: []Include{{Name: "a.h"}, {Name: "a.h"}},
		},
		{
			name: "next-and-import",
			buf:  "#include_next <limits.h>\n#import \"HTTPRequest.h\"\n",
			want: []Include{
				{Name: "limits.h", Angled: true},
				{Name: "HTTPRequest.h"},
			},
		},
		{
			name: "unsupported",
			buf: `
#include FOO_H
#include /* comment */ "foo.h"
#include "unclosed.h
#include ""
#includes "nope.h"
#define X "x.h"
int include = 1;
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CParser{}.Parse(strings.NewReader(tc.buf))
			if err != nil {
				t.Fatalf("Parse(%q)=%v; want nil error", tc.name, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Parse(%q) diff -want +got:\n%s", tc.name, diff)
			}
		})
	}
}

func TestFortranParser(t *testing.T) {
	buf := `
      PROGRAM MAIN
      INCLUDE 'common.inc'
      include "params.h"
C     INCLUDE 'commented.inc'
! include 'free-comment.inc'
#include "cpp.h"
      INTEGER INCLUDES
      END
`
	want := []Include{
		{Name: "common.inc"},
		{Name: "params.h"},
		{Name: "cpp.h"},
	}
	got, err := FortranParser{}.Parse(strings.NewReader(buf))
	if err != nil {
		t.Fatalf("Parse()=%v; want nil error", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() diff -want +got:\n%s", diff)
	}
}

func TestForFile(t *testing.T) {
	for _, tc := range []struct {
		path        string
		wantFortran bool
	}{
		{path: "src/a.c"},
		{path: "src/a.cpp"},
		{path: "src/a.h"},
		{path: "src/a.f", wantFortran: true},
		{path: "src/a.F90", wantFortran: true},
		{path: "src/a.for", wantFortran: true},
	} {
		_, isFortran := ForFile(tc.path).(FortranParser)
		if isFortran != tc.wantFortran {
			t.Errorf("ForFile(%q) fortran=%t; want %t", tc.path, isFortran, tc.wantFortran)
		}
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.c")
	if err := os.WriteFile(path, []byte("#include \"a.h\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile(%q)=%v; want nil error", path, err)
	}
	if diff := cmp.Diff([]Include{{Name: "a.h"}}, got); diff != "" {
		t.Errorf("ParseFile(%q) diff -want +got:\n%s", path, diff)
	}

	missing := filepath.Join(dir, "missing.c")
	_, err = ParseFile(missing)
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("ParseFile(%q)=%v; want ErrUnreadable", missing, err)
	}
	if err != nil && !strings.Contains(err.Error(), missing) {
		t.Errorf("ParseFile(%q) error %q doesn't name the file", missing, err)
	}
}

func TestIncludeString(t *testing.T) {
	if got := (Include{Name: "a.h", Angled: true}).String(); got != "<a.h>" {
		t.Errorf("String()=%q; want <a.h>", got)
	}
	if got := (Include{Name: "a.h"}).String(); got != `"a.h"` {
		t.Errorf(`String()=%q; want "a.h"`, got)
	}
}
