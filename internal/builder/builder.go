// Package builder drives a build: it reads the build description, decides
// which targets are stale and runs the compilers and the linker.
package builder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/qobs-build/ccbuild/internal/depend"
	"github.com/qobs-build/ccbuild/internal/history"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/qobs-build/ccbuild/internal/mtime"
	"github.com/qobs-build/ccbuild/internal/target"
	"github.com/qobs-build/ccbuild/internal/toolchain"
)

var (
	// ErrDependencyDepth is returned after compiling with a bounded
	// dependency depth, which never links.
	ErrDependencyDepth = errors.New("dependency depth is limited")

	errCantRunLib = errors.New("can't run a library target (linker.kind is static)")
)

type Builder struct {
	cfg     *Config
	basedir string
	env     ConfigEnv

	// Stdout receives action lines and tool output.
	Stdout io.Writer
}

// Options adjust a single build.
type Options struct {
	Profile string
	// Depth overrides [build] dependency-depth when non-nil.
	Depth      *int
	Relentless bool
}

func NewBuilderInDirectory(path string) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv(path)
	cfg, err := ParseConfigFromFile(filepath.Join(path, ConfigFile), env)
	if err != nil {
		return nil, err
	}
	env.ProjectName = cfg.Project.Name
	return &Builder{cfg: cfg, basedir: path, env: env, Stdout: os.Stdout}, nil
}

func (b *Builder) Config() *Config { return b.cfg }
func (b *Builder) BaseDir() string { return b.basedir }

func (b *Builder) objDir() string { return depend.AbsPath(b.basedir, b.cfg.Build.ObjDir) }
func (b *Builder) outDir() string { return depend.AbsPath(b.basedir, b.cfg.Build.OutDir) }

// outputName returns the desired artifact name (e.g., `my_app.exe` or `libmy_lib.a`)
func (b *Builder) outputName() string {
	if b.cfg.Linker.Output != "" {
		return b.cfg.Linker.Output
	}
	name := b.cfg.Project.Name
	if b.cfg.Linker.Kind == toolchain.LinkStatic {
		if runtime.GOOS == "windows" {
			return name + ".lib"
		}
		return "lib" + name + ".a"
	}
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// DefaultProfile is used when no profile is requested.
const DefaultProfile = "debug"

func (b *Builder) makeCflags(profile string) ([]string, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	if prof, ok := b.cfg.Profile[profile]; ok {
		var cflags []string
		optLevel := prof.OptLevel.String()
		if optLevel != "" {
			cflags = append(cflags, "-O"+optLevel)
		}
		return append(cflags, prof.Flags...), nil
	}
	return nil, fmt.Errorf("unknown profile %q, known profiles: %s", profile, strings.Join(b.cfg.Profiles(), ", "))
}

// toolchain turns the build description into compiler and linker
// configurations, in declaration order.
func (b *Builder) toolchain(profile string) ([]*toolchain.Compiler, *toolchain.Linker, error) {
	cflags, err := b.makeCflags(profile)
	if err != nil {
		return nil, nil, err
	}

	compilers := make([]*toolchain.Compiler, 0, len(b.cfg.Compiler))
	for _, sec := range b.cfg.Compiler {
		command := sec.Command
		if command == "" {
			command = toolchain.FindCompiler(sec.Language)
		}
		c := &toolchain.Compiler{
			Name:           sec.Name,
			Language:       sec.Language,
			Command:        command,
			Extensions:     sec.Extensions,
			Headers:        sec.Headers,
			IncludeDirs:    sec.Includes,
			SysIncludeDirs: sec.SysIncludes,
			Defines:        sec.Defines,
			Flags:          append(slices.Clone(cflags), sec.Flags...),
			Outputs:        sec.Outputs,
			AlwaysRebuild:  sec.Rebuild,
		}
		excluded, err := collectFiles(b.basedir, sec.Exclude)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to collect excluded files of compiler %q: %w", sec.Name, err)
		}
		for _, file := range excluded {
			c.Exclude(file)
		}
		compilers = append(compilers, c)
	}

	linker := &toolchain.Linker{
		Command:       b.cfg.Linker.Command,
		Kind:          b.cfg.Linker.Kind,
		Output:        b.outputName(),
		Libs:          b.cfg.Linker.Libs,
		LibDirs:       b.cfg.Linker.LibDirs,
		Flags:         b.cfg.Linker.Flags,
		AlwaysRebuild: b.cfg.Linker.Rebuild,
	}
	return compilers, linker, nil
}

// session is the state of one build invocation.
type session struct {
	compilers  []*toolchain.Compiler
	linker     *toolchain.Linker
	objDir     string
	outDir     string
	deps       *depend.Table
	hist       *history.Table
	targets    []*target.Info
	objects    []string
	depth      int
	relentless bool
}

func (b *Builder) rel(path string) string { return depend.RelPath(b.basedir, path) }

// prepare assigns files to compilers and decides which targets are stale.
func (b *Builder) prepare(opts Options) (*session, error) {
	compilers, linker, err := b.toolchain(opts.Profile)
	if err != nil {
		return nil, err
	}

	s := &session{
		compilers:  compilers,
		linker:     linker,
		objDir:     b.objDir(),
		outDir:     b.outDir(),
		depth:      b.cfg.Build.Depth(),
		relentless: b.cfg.Build.Relentless || opts.Relentless,
	}
	if opts.Depth != nil {
		s.depth = max(*opts.Depth, -1)
	}

	s.deps = depend.NewTable(b.basedir, s.objDir)
	if err := s.deps.Load(); err != nil {
		msg.Warn("failed to load dependency data: %v", err)
	}
	if limit := b.cfg.Build.IncludeFrameLimit; limit > 0 {
		s.deps.SetFrameLimit(limit)
	}
	s.hist = history.New(b.basedir, s.objDir)
	if err := s.hist.Load(); err != nil {
		msg.Warn("failed to load build history: %v", err)
	}

	configs := make([]target.CompilerConfiguration, len(compilers))
	for i, c := range compilers {
		configs[i] = c
	}
	m := target.NewMatcher(s.objDir, configs, linker)
	for i, sec := range b.cfg.Compiler {
		files, err := collectFiles(b.basedir, sec.Sources)
		if err != nil {
			return nil, fmt.Errorf("failed to collect sources of compiler %q: %w", sec.Name, err)
		}
		for _, file := range files {
			if err := m.Claim(compilers[i], filepath.Dir(file), filepath.Base(file)); err != nil {
				return nil, err
			}
		}
	}
	sources, err := collectFiles(b.basedir, b.cfg.Build.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to collect sources: %w", err)
	}
	for _, file := range sources {
		if err := m.Visit(filepath.Dir(file), filepath.Base(file)); err != nil {
			return nil, err
		}
	}
	s.targets = m.SortedTargets()
	s.objects = m.Objects()

	s.hist.MarkForRebuild(s.targets)
	for _, t := range s.targets {
		if t.Rebuild() {
			continue
		}
		comp, ok := t.Compiler()
		if !ok {
			continue
		}
		stale, err := s.deps.NeedsRebuild(comp, t, s.depth)
		if err != nil {
			b.commit(s)
			return nil, fmt.Errorf("failed to check dependencies of %s: %w", b.rel(t.Output()), err)
		}
		if stale {
			t.MustRebuild()
		}
	}
	if err := s.deps.Commit(); err != nil {
		msg.Warn("failed to save dependency data: %v", err)
	}
	return s, nil
}

// commit saves dependency data and history. Failures are only reported.
func (b *Builder) commit(s *session) {
	if err := s.deps.Commit(); err != nil {
		msg.Warn("failed to save dependency data: %v", err)
	}
	if err := s.hist.Commit(); err != nil {
		msg.Warn("failed to save build history: %v", err)
	}
}

// Build compiles every stale target and links the result.
func (b *Builder) Build(opts Options) error {
	if err := b.cfg.RunBuildScript(b.env); err != nil {
		return err
	}

	s, err := b.prepare(opts)
	if err != nil {
		return err
	}

	compiled, err := b.compile(s)
	b.recordDependencies(s, compiled)
	b.commit(s)
	if err != nil {
		return err
	}

	if s.depth >= 0 && len(compiled) > 0 {
		return fmt.Errorf("%w: all files at depth %d from changes successfully compiled; remove or change dependency-depth to -1 before attempting link", ErrDependencyDepth, s.depth)
	}

	linked, err := b.link(s, len(compiled) > 0)
	b.commit(s)
	if err != nil {
		return err
	}

	if len(compiled) == 0 && !linked {
		msg.Info("no work to do")
	}
	return nil
}

// compile runs the compilers one configuration at a time. In relentless
// mode it keeps going after a failure and returns the first error.
func (b *Builder) compile(s *session) (compiled []*target.Info, firstErr error) {
	for _, c := range s.compilers {
		var group []*target.Info
		for _, t := range s.targets {
			if t.Rebuild() && t.Config() == target.Configuration(c) {
				group = append(group, t)
			}
		}
		if len(group) == 0 {
			continue
		}

		err := b.compileGroup(s, c, group)
		for _, t := range group {
			s.hist.Update(t)
		}
		compiled = append(compiled, group...)
		if err == nil {
			continue
		}
		if !s.relentless {
			return compiled, err
		}
		if firstErr == nil {
			firstErr = err
		} else {
			msg.Error("%v", err)
		}
	}
	return compiled, firstErr
}

func (b *Builder) compileGroup(s *session, c *toolchain.Compiler, group []*target.Info) error {
	if c.Command == "" {
		return fmt.Errorf("no %s compiler found; set `command` of compiler %q or the environment", c.Language, c.Name)
	}

	var firstErr error
	done := make(map[string]bool)
	for _, t := range group {
		src := t.Sources()[0]
		if done[src] {
			continue
		}
		done[src] = true

		output := target.OutputPath(s.objDir, c.OutputFileNames(src)[0])
		if err := c.Compile(b.basedir, src, output, b.Stdout); err != nil {
			if !s.relentless {
				return err
			}
			if firstErr == nil {
				firstErr = err
			} else {
				msg.Error("%v", err)
			}
		}
	}
	return firstErr
}

// recordDependencies walks the include closure of freshly compiled
// targets, so that the next build finds their records ready.
func (b *Builder) recordDependencies(s *session, compiled []*target.Info) {
	for _, t := range compiled {
		if _, ok := mtime.Stat(t.Output()); !ok {
			continue
		}
		comp, ok := t.Compiler()
		if !ok {
			continue
		}
		if _, err := s.deps.NeedsRebuild(comp, t, -1); err != nil {
			msg.Warn("failed to record dependencies of %s: %v", b.rel(t.Output()), err)
		}
	}
}

// objectFiles returns the primary outputs of all compile targets followed
// by the files passed straight to the linker.
func (s *session) objectFiles() []string {
	var objects []string
	seen := make(map[string]bool)
	for _, t := range s.targets {
		comp, ok := t.Compiler()
		if !ok {
			continue
		}
		obj := target.OutputPath(s.objDir, comp.OutputFileNames(t.Sources()[0])[0])
		if !seen[obj] {
			seen[obj] = true
			objects = append(objects, obj)
		}
	}
	return append(objects, s.objects...)
}

// linkLanguage picks the compiler driver used for linking when none is
// configured.
func (s *session) linkLanguage() string {
	language := toolchain.LanguageC
	for _, t := range s.targets {
		c, ok := t.Config().(*toolchain.Compiler)
		if !ok {
			continue
		}
		switch c.Language {
		case toolchain.LanguageCxx:
			return toolchain.LanguageCxx
		case toolchain.LanguageFortran:
			language = toolchain.LanguageFortran
		}
	}
	return language
}

func (b *Builder) link(s *session, compiledAny bool) (bool, error) {
	objects := s.objectFiles()
	if len(objects) == 0 {
		msg.Warn("no sources matched [build] sources, nothing to link")
		return false, nil
	}

	linker := s.linker
	if linker.Command == "" && linker.Kind == toolchain.LinkExecutable {
		linker.Command = toolchain.FindCompiler(s.linkLanguage())
	}
	output := target.OutputPath(s.outDir, linker.OutputFileNames("")[0])

	lt := target.New(linker, objects, target.DedupLibraries(linker, linker.Libs), output, linker.Rebuild())
	if compiledAny {
		lt.MustRebuild()
	}
	s.hist.MarkForRebuild([]*target.Info{lt})
	if !lt.Rebuild() {
		built, _ := mtime.Stat(output)
		for _, obj := range objects {
			if t, ok := mtime.Stat(obj); !ok || mtime.IsSignificantlyAfter(t, built) {
				lt.MustRebuild()
				break
			}
		}
	}
	if !lt.Rebuild() {
		return false, nil
	}

	if linker.Kind == toolchain.LinkExecutable && linker.Command == "" {
		return false, errors.New("no linker found; set `command` in [linker] or the environment")
	}
	err := linker.Link(b.basedir, output, objects, lt.SysSources(), b.Stdout)
	s.hist.Update(lt)
	return true, err
}

// PlannedTarget is one entry of a build plan.
type PlannedTarget struct {
	Output   string
	Sources  []string
	Compiler string
	Rebuild  bool
}

// Plan decides which targets a build would compile without compiling
// anything. Dependency data gathered on the way is saved.
func (b *Builder) Plan(opts Options) ([]PlannedTarget, error) {
	s, err := b.prepare(opts)
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedTarget, 0, len(s.targets))
	for _, t := range s.targets {
		p := PlannedTarget{Output: b.rel(t.Output()), Rebuild: t.Rebuild()}
		for _, src := range t.Sources() {
			p.Sources = append(p.Sources, b.rel(src))
		}
		if c, ok := t.Config().(*toolchain.Compiler); ok {
			p.Compiler = c.Name
		}
		plan = append(plan, p)
	}
	return plan, nil
}

// Dependencies loads the persisted dependency records.
func (b *Builder) Dependencies() (*depend.Table, error) {
	deps := depend.NewTable(b.basedir, b.objDir())
	return deps, deps.Load()
}

func (b *Builder) BuildAndRun(args []string, opts Options) error {
	if b.cfg.Linker.Kind == toolchain.LinkStatic {
		return errCantRunLib
	}

	if err := b.Build(opts); err != nil {
		return err
	}

	cmd := exec.Command(target.OutputPath(b.outDir(), b.outputName()), args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
