// ccbuild deps [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/qobs-build/ccbuild/internal/builder"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps [target path]",
	Short: "Print the recorded header dependencies",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		b, err := builder.NewBuilderInDirectory(targetDir(args))
		if err != nil {
			msg.Fatal("%v", err)
		}
		deps, err := b.Dependencies()
		if err != nil {
			msg.Warn("%v", err)
		}
		if deps.Len() == 0 {
			msg.Info("no dependency data in %s, build first", deps.Path())
			return
		}

		w := &msg.IndentWriter{Indent: "    ", W: os.Stdout}
		for _, sig := range deps.Signatures() {
			fmt.Printf("%s %q\n", color.HiCyanString("include path"), sig)
			for _, info := range deps.Records(sig) {
				fmt.Printf("  %s\n", info.Source)
				for _, inc := range info.Includes {
					fmt.Fprintln(w, inc)
				}
				for _, inc := range info.SysIncludes {
					fmt.Fprintf(w, "%s %s\n", inc, color.HiBlackString("(system)"))
				}
			}
		}
	},
}

func init() {
	// ccbuild deps subcommand
	rootCmd.AddCommand(depsCmd)
}
