package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	out     io.Writer = color.Output
	verbose bool
)

// SetOutput redirects all messages to w.
func SetOutput(w io.Writer) { out = w }

// SetVerbose enables Verbose messages.
func SetVerbose(v bool) { verbose = v }

// SetColor applies a --color mode: "always", "never" or "auto".
func SetColor(mode string) error {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto", "":
	default:
		return fmt.Errorf("unknown color mode %q", mode)
	}
	return nil
}

func print(prefix string, format string, a ...any) {
	fmt.Fprint(out, prefix)
	fmt.Fprint(out, ": ")
	fmt.Fprintf(out, format, a...)
	fmt.Fprint(out, "\n")
}

func Error(format string, a ...any) {
	print(color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	print(color.YellowString("warn"), format, a...)
}

func Fatal(format string, a ...any) {
	print(color.RedString("fatal"), format, a...)
	os.Exit(1)
}

func Info(format string, a ...any) {
	print(color.HiGreenString("info"), format, a...)
}

// Verbose prints only when verbose output was requested.
func Verbose(format string, a ...any) {
	if !verbose {
		return
	}
	print(color.HiBlackString("verbose"), format, a...)
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	for _, c := range p {
		if !w.didIndent {
			w.W.Write([]byte(w.Indent))
			w.didIndent = true
		}
		w.W.Write([]byte{c}) // FIXME-perf: buffer this
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	return len(p), nil
}
