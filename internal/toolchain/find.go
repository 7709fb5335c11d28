package toolchain

import (
	"os"
	"os/exec"
)

// TODO: zig cc
var (
	commonCCompilers       = []string{"clang", "gcc", "icx", "icc", "tcc", "cl"}
	commonCxxCompilers     = []string{"clang++", "g++", "clang", "gcc", "icpx", "icx", "icpc", "icc", "cl"}
	commonFortranCompilers = []string{"gfortran", "flang-new", "flang", "ifx", "ifort"}
)

const (
	LanguageC       = "c"
	LanguageCxx     = "c++"
	LanguageFortran = "fortran"
)

// FindCompiler attempts to find a compiler for language on the system.
// CC, CXX and FC take precedence over PATH. It returns "" if nothing
// was found.
func FindCompiler(language string) string {
	cc := os.Getenv("CC")
	cxx := os.Getenv("CXX")

	var compilersToTry []string
	switch language {
	case LanguageCxx:
		if cxx != "" {
			return cxx
		}
		if cc != "" {
			return cc
		}
		compilersToTry = commonCxxCompilers
	case LanguageFortran:
		if fc := os.Getenv("FC"); fc != "" {
			return fc
		}
		compilersToTry = commonFortranCompilers
	default:
		if cc != "" {
			return cc
		}
		if cxx != "" {
			return cxx
		}
		compilersToTry = commonCCompilers
	}

	for _, compiler := range compilersToTry {
		path, err := exec.LookPath(compiler)
		if err == nil {
			return path
		}
	}

	return ""
}
