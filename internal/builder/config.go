package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/qobs-build/ccbuild/internal/toolchain"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ConfigFile is the build description looked up in the project directory.
const ConfigFile = "ccbuild.toml"

var defaultProfiles = map[string]ProfileSection{
	"release": {
		OptLevel: intOrString{Value: 3},
	},
	"debug": {
		OptLevel: intOrString{Value: ""}, // no -O
		Flags:    []string{"-g"},
	},
}

// defaultCompilers are used when the build description has no
// [[compiler]] entries.
var defaultCompilers = []CompilerSection{
	{
		Name:       "c",
		Language:   toolchain.LanguageC,
		Extensions: []string{".c"},
		Headers:    []string{".h"},
	},
	{
		Name:       "c++",
		Language:   toolchain.LanguageCxx,
		Extensions: []string{".cc", ".cpp", ".cxx", ".c++", ".C"},
		Headers:    []string{".h", ".hh", ".hpp", ".hxx", ".h++", ".inl"},
	},
	{
		Name:       "fortran",
		Language:   toolchain.LanguageFortran,
		Extensions: []string{".f", ".for", ".ftn", ".f77", ".f90", ".f95", ".f03", ".f08", ".F", ".F90"},
		Headers:    []string{".inc", ".fi", ".fh"},
	},
}

type Config struct {
	Project  ProjectSection            `toml:"project"`
	Build    BuildSection              `toml:"build"`
	Compiler []CompilerSection         `toml:"compiler"`
	Linker   LinkerSection             `toml:"linker"`
	Profile  map[string]ProfileSection `toml:"profile"`
}

func (c Config) Profiles() []string {
	profiles := make([]string, 0, len(c.Profile))
	for k := range c.Profile {
		profiles = append(profiles, k)
	}
	slices.Sort(profiles)
	return profiles
}

type intOrString struct {
	Value any
}

// UnmarshalText receives the raw TOML value, quoted or not.
func (o *intOrString) UnmarshalText(b []byte) error {
	if n, err := strconv.Atoi(string(b)); err == nil {
		o.Value = n
		return nil
	}
	o.Value = string(b)
	return nil
}

func (o *intOrString) String() string {
	if o == nil || o.Value == nil {
		return ""
	}

	switch v := o.Value.(type) {
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return ""
	}
}

// ProfileSection defines the [profile.*] section
type ProfileSection struct {
	OptLevel intOrString `toml:"opt-level"`
	Flags    []string    `toml:"flags"`
}

// ProjectSection defines the [project] section
type ProjectSection struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Build       string `toml:"build"`
}

// BuildSection defines the [build(.*)] section
type BuildSection struct {
	ObjDir  string   `toml:"objdir"`
	OutDir  string   `toml:"outdir"`
	Sources []string `toml:"sources"`

	// DependencyDepth limits how deep includes are followed. Unset or
	// negative follows all of them.
	DependencyDepth *int `toml:"dependency-depth"`
	// IncludeFrameLimit caps full-depth include walks; an include chain
	// longer than this forces a rebuild. 0 means no cap.
	IncludeFrameLimit int  `toml:"include-frame-limit"`
	Relentless        bool `toml:"relentless"`
}

func (s BuildSection) Depth() int {
	if s.DependencyDepth == nil || *s.DependencyDepth < 0 {
		return -1
	}
	return *s.DependencyDepth
}

// CompilerSection defines one [[compiler]] entry
type CompilerSection struct {
	Name        string            `toml:"name"`
	Language    string            `toml:"language"`
	Command     string            `toml:"command"`
	Extensions  []string          `toml:"extensions"`
	Headers     []string          `toml:"headers"`
	Includes    []string          `toml:"includes"`
	SysIncludes []string          `toml:"sysincludes"`
	Defines     map[string]string `toml:"defines"`
	Flags       []string          `toml:"flags"`
	Outputs     []string          `toml:"outputs"`
	Rebuild     bool              `toml:"rebuild"`
	Sources     []string          `toml:"sources"`
	Exclude     []string          `toml:"exclude"`
	If          string            `toml:"if"`
}

// LinkerSection defines the [linker(.*)] section
type LinkerSection struct {
	Command string   `toml:"command"`
	Kind    string   `toml:"kind"`
	Output  string   `toml:"output"`
	Libs    []string `toml:"libs"`
	LibDirs []string `toml:"libdirs"`
	Flags   []string `toml:"flags"`
	Rebuild bool     `toml:"rebuild"`
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := toml.Unmarshal([]byte(mustMarshal(data)), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalCompilers parses the [[compiler]] array and drops entries whose
// `if` condition is false
func unmarshalCompilers(rawCfg map[string]any, env ConfigEnv) ([]CompilerSection, error) {
	data, ok := rawCfg["compiler"]
	if !ok {
		return nil, nil
	}

	var doc struct {
		Compiler []CompilerSection `toml:"compiler"`
	}
	if err := toml.Unmarshal([]byte(mustMarshal(map[string]any{"compiler": data})), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse [[compiler]] section: %w", err)
	}

	compilers := make([]CompilerSection, 0, len(doc.Compiler))
	for i, c := range doc.Compiler {
		if c.Name == "" {
			c.Name = fmt.Sprintf("compiler%d", i)
		}
		if c.If != "" {
			ok, err := evaluateCondition(c.If, env)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate condition of compiler %q: %w", c.Name, err)
			}
			if !ok {
				continue
			}
		}
		compilers = append(compilers, c)
	}
	return compilers, nil
}

// unmarshalConditionalSection is a helper to parse, evaluate and merge multiple sections with conditional logic
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ConfigEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			_, err := expr.Compile(key, expr.Env(env))
			if err == nil {
				conditionalFields[key] = subMap
			} else {
				baseFields[key] = val
			}
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	// sorted so that overlapping sections merge the same way every time
	expressions := make([]string, 0, len(conditionalFields))
	for expression := range conditionalFields {
		expressions = append(expressions, expression)
	}
	slices.Sort(expressions)

	for _, expression := range expressions {
		matched, err := evaluateCondition(expression, env)
		if err != nil {
			return fmt.Errorf("failed to evaluate expression for [%s.%q]: %w", name, expression, err)
		}
		if !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(conditionalFields[expression])), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

// evaluateCondition runs a boolean expression. Anything but true is false.
func evaluateCondition(expression string, env ConfigEnv) (bool, error) {
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to run expression %q: %w", expression, err)
	}
	matched, ok := result.(bool)
	return ok && matched, nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ConfigEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		builder.WriteString(fmt.Sprintf("%v", result))
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		if derr, ok := err.(*toml.DecodeError); ok {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	// the project name is available to every other expression
	if project, ok := rawConfig["project"].(map[string]any); ok {
		if name, ok := project["name"].(string); ok {
			env.ProjectName = name
		}
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := new(Config)
	cfg.Profile = make(map[string]ProfileSection, len(defaultProfiles))
	for name, prof := range defaultProfiles {
		cfg.Profile[name] = prof
	}

	if err := unmarshalSection(rawConfig, "project", &cfg.Project); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "build", &cfg.Build, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "linker", &cfg.Linker, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "profile", &cfg.Profile, env); err != nil {
		return nil, err
	}
	if cfg.Compiler, err = unmarshalCompilers(rawConfig, env); err != nil {
		return nil, err
	}
	if _, ok := rawConfig["compiler"]; !ok {
		cfg.Compiler = slices.Clone(defaultCompilers)
	}

	if cfg.Project.Name == "" {
		return nil, errors.New("[project] needs a name")
	}
	switch cfg.Linker.Kind {
	case "":
		cfg.Linker.Kind = toolchain.LinkExecutable
	case toolchain.LinkExecutable, toolchain.LinkStatic:
	default:
		return nil, fmt.Errorf("unknown linker kind %q, expected %q or %q", cfg.Linker.Kind, toolchain.LinkExecutable, toolchain.LinkStatic)
	}
	if cfg.Build.ObjDir == "" {
		cfg.Build.ObjDir = filepath.Join("build", "obj")
	}
	if cfg.Build.OutDir == "" {
		cfg.Build.OutDir = "build"
	}

	return cfg, nil
}

// ParseConfigFromFile parses and validates a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(bufio.NewReader(f), env)
}

//
// expr-lang helpers
//

func (cfg Config) RunBuildScript(env ConfigEnv) error {
	if cfg.Project.Build == "" {
		return nil
	}

	program, err := expr.Compile(cfg.Project.Build, expr.Env(env))
	if err != nil {
		return fmt.Errorf("failed to compile build script for project %q: %w", cfg.Project.Name, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to run build script for project %q: %w", cfg.Project.Name, err)
	}

	if result, ok := result.(bool); !ok || !result {
		return fmt.Errorf("build script for project %q returned false\n%s", cfg.Project.Name, cfg.Project.Build)
	}

	return nil
}

type ConfigEnv struct {
	TargetOS    string            `expr:"target_os"`
	TargetArch  string            `expr:"target_arch"`
	Environ     map[string]string `expr:"environ"`
	ProjectName string            `expr:"project_name"`
	basedir     string
}

func NewConfigEnv(basedir string) ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environ,
		basedir:    basedir,
	}
}

// Patch applies a diff-match-patch patch to a project file, for use in
// the build script. It reports whether any hunk applied.
func (env ConfigEnv) Patch(path, patchText string) bool {
	fullPath := filepath.Join(env.basedir, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}
	origText := string(data)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patchedText, results := dmp.PatchApply(patches, origText)
	if !slices.Contains(results, true) || patchedText == origText {
		return false // nothing was applied, nothing to write
	}

	if err = os.WriteFile(fullPath, []byte(patchedText), 0644); err != nil {
		panic(err)
	}

	return true
}

func (env ConfigEnv) ReadFile(path string) (string, error) {
	fullPath := filepath.Join(env.basedir, path)
	rel, err := filepath.Rel(env.basedir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		panic(fmt.Sprintf("path %q is outside of project directory %q", path, env.basedir))
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}

	return string(data), nil
}
