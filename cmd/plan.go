// ccbuild plan [path]
package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/ccbuild/internal/builder"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan [target path]",
	Short: "Show which targets a build would compile",
	Long: `Show which targets a build would compile, without compiling anything.
Dependency data gathered while deciding is saved for the next build.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		b, err := builder.NewBuilderInDirectory(targetDir(args))
		if err != nil {
			msg.Fatal("%v", err)
		}
		plan, err := b.Plan(buildOptions(cmd))
		if err != nil {
			msg.Fatal("%v", err)
		}

		stale := 0
		for _, t := range plan {
			state := color.HiGreenString("up to date")
			if t.Rebuild {
				state = color.YellowString("rebuild   ")
				stale++
			}
			fmt.Printf("%s %s (%s: %s)\n", state, t.Output, t.Compiler, strings.Join(t.Sources, ", "))
		}
		msg.Info("%d of %d targets need rebuilding", stale, len(plan))
	},
}

func init() {
	// ccbuild plan subcommand
	rootCmd.AddCommand(planCmd)
	addProfileFlags(planCmd)
}
