package builder

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/qobs-build/ccbuild/internal/depend"
	"github.com/qobs-build/ccbuild/internal/history"
	"github.com/qobs-build/ccbuild/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool stands in for both compiler and linker: it writes whatever
// follows -o, and fails on sources containing COMPILE_ERROR.
const fakeTool = `#!/bin/sh
out=
src=
while [ $# -gt 0 ]; do
	case "$1" in
	-o) out="$2"; shift ;;
	-c) src="$2"; shift ;;
	esac
	shift
done
if [ -n "$src" ] && grep -q COMPILE_ERROR "$src"; then
	echo "$src: error: COMPILE_ERROR" >&2
	exit 1
fi
echo built > "$out"
`

type project struct {
	dir  string
	base time.Time
}

func newProject(t *testing.T, build string) *project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}

	p := &project{dir: t.TempDir(), base: time.Now().Add(-2 * time.Hour).Truncate(time.Second)}
	tool := p.write(t, "tools/fakecc", fakeTool)
	require.NoError(t, os.Chmod(tool, 0o755))

	p.write(t, ConfigFile, fmt.Sprintf(`[project]
name = "hello"

[build]
sources = ["src/*.c", "src/*.o"]
%s

[[compiler]]
name = "c"
command = %q
extensions = [".c"]
headers = [".h"]
includes = ["include"]

[linker]
command = %q
`, build, tool, tool))

	p.write(t, "include/common.h", "#define ANSWER 42\n")
	p.write(t, "src/util.h", "#include \"common.h\"\nint util(void);\n")
	p.write(t, "src/main.c", "#include \"util.h\"\n#include <stdio.h>\nint main(void) { return util(); }\n")
	p.write(t, "src/util.c", "#include \"util.h\"\nint util(void) { return ANSWER; }\n")
	p.write(t, "src/other.c", "int other(void) { return 1; }\n")
	return p
}

func (p *project) path(name string) string {
	return filepath.Join(p.dir, filepath.FromSlash(name))
}

func (p *project) write(t *testing.T, name, content string) string {
	t.Helper()
	path := p.path(name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, p.base, p.base))
	return path
}

func (p *project) touch(t *testing.T, name string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(p.path(name), at, at))
}

// age moves every build product back in time, as if built long ago.
func (p *project) age(t *testing.T, at time.Time) {
	t.Helper()
	for _, pattern := range []string{"build/obj/*.o", "build/hello"} {
		matches, err := filepath.Glob(p.path(pattern))
		require.NoError(t, err)
		for _, m := range matches {
			require.NoError(t, os.Chtimes(m, at, at))
		}
	}
}

type result struct {
	compiled []string
	linked   bool
	err      error
}

func (p *project) build(t *testing.T, opts Options) result {
	t.Helper()
	b, err := NewBuilderInDirectory(p.dir)
	require.NoError(t, err)
	var out bytes.Buffer
	b.Stdout = &out

	r := result{err: b.Build(opts)}
	for _, line := range strings.Split(out.String(), "\n") {
		if src, ok := strings.CutPrefix(line, "CC "); ok {
			r.compiled = append(r.compiled, src)
		}
		if strings.HasPrefix(line, "LINK ") {
			r.linked = true
		}
	}
	return r
}

func TestBuildIsIdempotent(t *testing.T) {
	p := newProject(t, "")

	first := p.build(t, Options{})
	require.NoError(t, first.err)
	assert.Equal(t, []string{"src/main.c", "src/other.c", "src/util.c"}, first.compiled)
	assert.True(t, first.linked)
	assert.FileExists(t, p.path("build/hello"))
	assert.FileExists(t, p.path("build/obj/"+depend.Filename))
	assert.FileExists(t, p.path("build/obj/"+history.Filename))

	second := p.build(t, Options{})
	require.NoError(t, second.err)
	assert.Empty(t, second.compiled)
	assert.False(t, second.linked)
}

func TestAbsoluteOutputsAreIdempotent(t *testing.T) {
	p := newProject(t, "")
	objs := filepath.Join(t.TempDir(), "objs")
	app := filepath.Join(t.TempDir(), "bin", "app")

	cfg := mustRead(t, p.path(ConfigFile))
	cfg = strings.Replace(cfg, `includes = ["include"]`,
		fmt.Sprintf("includes = [\"include\"]\noutputs = [%q]", filepath.Join(objs, "{stem}.o")), 1)
	cfg = strings.Replace(cfg, "[linker]\n", fmt.Sprintf("[linker]\noutput = %q\n", app), 1)
	p.write(t, ConfigFile, cfg)

	first := p.build(t, Options{})
	require.NoError(t, first.err)
	assert.Len(t, first.compiled, 3)
	assert.True(t, first.linked)
	assert.FileExists(t, filepath.Join(objs, "main.o"))
	assert.FileExists(t, app)

	second := p.build(t, Options{})
	require.NoError(t, second.err)
	assert.Empty(t, second.compiled)
	assert.False(t, second.linked)
}

func TestBuildRecordsIncludeClosure(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, p.build(t, Options{}).err)

	b, err := NewBuilderInDirectory(p.dir)
	require.NoError(t, err)
	deps, err := b.Dependencies()
	require.NoError(t, err)

	sigs := deps.Signatures()
	require.Equal(t, []string{"-Iinclude"}, sigs)
	main := deps.Get("src/main.c", sigs[0])
	require.NotNil(t, main)
	assert.Equal(t, []string{"src/util.h"}, main.Includes)
	util := deps.Get("src/util.h", sigs[0])
	require.NotNil(t, util)
	assert.Equal(t, []string{"include/common.h"}, util.Includes)
	assert.NotNil(t, deps.Get("include/common.h", sigs[0]))
}

func TestHeaderChangeRebuildsDependents(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, p.build(t, Options{}).err)

	now := time.Now()
	p.age(t, now.Add(-time.Hour))
	p.touch(t, "include/common.h", now.Add(-30*time.Minute))

	r := p.build(t, Options{})
	require.NoError(t, r.err)
	assert.Equal(t, []string{"src/main.c", "src/util.c"}, r.compiled)
	assert.True(t, r.linked)

	r = p.build(t, Options{})
	require.NoError(t, r.err)
	assert.Empty(t, r.compiled)
}

func TestSourceChangeRebuildsOnlyThatSource(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, p.build(t, Options{}).err)

	p.touch(t, "src/other.c", p.base.Add(time.Minute))
	r := p.build(t, Options{})
	require.NoError(t, r.err)
	assert.Equal(t, []string{"src/other.c"}, r.compiled)
	assert.True(t, r.linked)
}

func TestProfileChangeRebuildsEverything(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, p.build(t, Options{Profile: "debug"}).err)

	r := p.build(t, Options{Profile: "release"})
	require.NoError(t, r.err)
	assert.Len(t, r.compiled, 3)
	assert.True(t, r.linked)
}

func TestUnknownProfile(t *testing.T) {
	p := newProject(t, "")
	err := p.build(t, Options{Profile: "turbo"}).err
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestDependencyDepthStopsBeforeLink(t *testing.T) {
	p := newProject(t, "dependency-depth = 1")

	r := p.build(t, Options{})
	require.ErrorIs(t, r.err, ErrDependencyDepth)
	assert.Contains(t, r.err.Error(), "all files at depth 1 from changes successfully compiled")
	assert.Contains(t, r.err.Error(), "remove or change dependency-depth to -1")
	assert.Len(t, r.compiled, 3)
	assert.False(t, r.linked)
	assert.NoFileExists(t, p.path("build/hello"))

	// nothing left to compile, so the link goes ahead
	r = p.build(t, Options{})
	require.NoError(t, r.err)
	assert.Empty(t, r.compiled)
	assert.True(t, r.linked)
}

func TestDependencyDepthIgnoresDeepHeaders(t *testing.T) {
	p := newProject(t, "")
	require.NoError(t, p.build(t, Options{}).err)

	now := time.Now()
	p.age(t, now.Add(-time.Hour))
	p.touch(t, "include/common.h", now.Add(-30*time.Minute))

	// common.h is two levels below main.c and util.c
	depth := 1
	r := p.build(t, Options{Depth: &depth})
	require.NoError(t, r.err)
	assert.Empty(t, r.compiled)

	depth = -1
	r = p.build(t, Options{Depth: &depth})
	require.NoError(t, r.err)
	assert.Equal(t, []string{"src/main.c", "src/util.c"}, r.compiled)
}

func TestCompileFailureStopsBuild(t *testing.T) {
	p := newProject(t, "")
	p.write(t, "src/bad.c", "COMPILE_ERROR\n")

	r := p.build(t, Options{})
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "src/bad.c")
	assert.Equal(t, []string{"src/bad.c"}, r.compiled)
	assert.False(t, r.linked)
}

func TestRelentlessKeepsGoing(t *testing.T) {
	p := newProject(t, "")
	p.write(t, "src/bad.c", "COMPILE_ERROR\n")

	r := p.build(t, Options{Relentless: true})
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "src/bad.c")
	assert.Equal(t, []string{"src/bad.c", "src/main.c", "src/other.c", "src/util.c"}, r.compiled)
	assert.False(t, r.linked)

	// the good ones were recorded
	r = p.build(t, Options{Relentless: true})
	require.Error(t, r.err)
	assert.Equal(t, []string{"src/bad.c"}, r.compiled)

	p.write(t, "src/bad.c", "int bad(void) { return 0; }\n")
	p.touch(t, "src/bad.c", time.Now())
	r = p.build(t, Options{})
	require.NoError(t, r.err)
	assert.Equal(t, []string{"src/bad.c"}, r.compiled)
	assert.True(t, r.linked)
}

func TestOutputCollisionIsFatal(t *testing.T) {
	p := newProject(t, "")
	p.write(t, ConfigFile, strings.Replace(mustRead(t, p.path(ConfigFile)), `"src/*.c"`, `"src/**/*.c"`, 1))
	p.write(t, "src/sub/util.c", "int util2(void) { return 2; }\n")

	err := p.build(t, Options{}).err
	require.ErrorIs(t, err, target.ErrOutputCollision)
	assert.Contains(t, err.Error(), "util.o")
}

func TestPlan(t *testing.T) {
	p := newProject(t, "")
	b, err := NewBuilderInDirectory(p.dir)
	require.NoError(t, err)

	plan, err := b.Plan(Options{})
	require.NoError(t, err)
	require.Len(t, plan, 3)
	for _, pt := range plan {
		assert.True(t, pt.Rebuild, pt.Output)
		assert.Equal(t, "c", pt.Compiler)
	}
	assert.Equal(t, "build/obj/main.o", plan[0].Output)
	assert.Equal(t, []string{"src/main.c"}, plan[0].Sources)

	require.NoError(t, p.build(t, Options{}).err)
	p.touch(t, "src/other.c", p.base.Add(time.Minute))

	plan, err = b.Plan(Options{})
	require.NoError(t, err)
	var stale []string
	for _, pt := range plan {
		if pt.Rebuild {
			stale = append(stale, pt.Output)
		}
	}
	assert.Equal(t, []string{"build/obj/other.o"}, stale)
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
