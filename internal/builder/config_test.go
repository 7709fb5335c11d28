package builder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(basedir string) ConfigEnv {
	return ConfigEnv{
		TargetOS:   "linux",
		TargetArch: "amd64",
		Environ:    map[string]string{"PREFIX": "/opt/hello"},
		basedir:    basedir,
	}
}

const sampleConfig = `
[project]
name = "hello"
build = "target_os == 'linux'"

[build]
sources = ["src/**/*.c"]
dependency-depth = 2

[build."target_os == 'windows'"]
relentless = true

[build."target_os == 'linux'"]
sources = ["extra/*.c"]

[[compiler]]
name = "c"
language = "c"
extensions = [".c"]
flags = ["-Wall"]
defines = { PREFIX = "{{ environ.PREFIX }}" }
if = "target_arch == 'amd64'"

[[compiler]]
name = "asm"
extensions = [".s"]
if = "target_arch == 'arm64'"

[linker]
output = "{{ project_name }}-{{ target_os }}"
libs = ["m"]

[profile.fast]
opt-level = "fast"

[profile.small]
opt-level = 2
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(sampleConfig), testEnv(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, "hello", cfg.Project.Name)
	assert.Equal(t, []string{"src/**/*.c", "extra/*.c"}, cfg.Build.Sources)
	assert.Equal(t, 2, cfg.Build.Depth())
	assert.False(t, cfg.Build.Relentless)
	assert.Equal(t, filepath.Join("build", "obj"), cfg.Build.ObjDir)
	assert.Equal(t, "build", cfg.Build.OutDir)

	require.Len(t, cfg.Compiler, 1)
	assert.Equal(t, "c", cfg.Compiler[0].Name)
	assert.Equal(t, []string{"-Wall"}, cfg.Compiler[0].Flags)
	assert.Equal(t, map[string]string{"PREFIX": "/opt/hello"}, cfg.Compiler[0].Defines)

	assert.Equal(t, "hello-linux", cfg.Linker.Output)
	assert.Equal(t, "exe", cfg.Linker.Kind)
	assert.Equal(t, []string{"m"}, cfg.Linker.Libs)

	assert.Equal(t, []string{"debug", "fast", "release", "small"}, cfg.Profiles())
	fast := cfg.Profile["fast"]
	small := cfg.Profile["small"]
	release := cfg.Profile["release"]
	assert.Equal(t, "fast", fast.OptLevel.String())
	assert.Equal(t, "2", small.OptLevel.String())
	assert.Equal(t, "3", release.OptLevel.String())

	assert.NoError(t, cfg.RunBuildScript(testEnv(t.TempDir())))
	windows := testEnv(t.TempDir())
	windows.TargetOS = "windows"
	assert.Error(t, cfg.RunBuildScript(windows))
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
[project]
name = "tiny"
`), testEnv(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Build.Depth())
	require.Len(t, cfg.Compiler, len(defaultCompilers))
	assert.Equal(t, []string{"c", "c++", "fortran"}, []string{cfg.Compiler[0].Name, cfg.Compiler[1].Name, cfg.Compiler[2].Name})
	assert.Equal(t, "exe", cfg.Linker.Kind)
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]string{
		"no name":       "[project]\n",
		"bad kind":      "[project]\nname = \"x\"\n[linker]\nkind = \"shared\"\n",
		"invalid toml":  "[project\nname = \"x\"\n",
		"bad condition": "[project]\nname = \"x\"\n[[compiler]]\nname = \"c\"\nif = \"target_os ==\"\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(input), testEnv(t.TempDir()))
			assert.Error(t, err)
		})
	}
}

func TestDependencyDepthFromConditionalSection(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
[project]
name = "x"

[build."target_os == 'linux'"]
dependency-depth = 0
`), testEnv(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Build.Depth())
}

func TestPatchAndReadFile(t *testing.T) {
	dir := t.TempDir()
	orig := "int main(void) { return 1; }\n"
	want := "int main(void) { return 0; }\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte(orig), 0o644))

	dmp := diffmatchpatch.New()
	patch := dmp.PatchToText(dmp.PatchMake(orig, want))

	env := testEnv(dir)
	assert.True(t, env.Patch("main.c", patch))
	got, err := env.ReadFile("main.c")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Panics(t, func() { env.ReadFile("../outside.c") })
}
