// ccbuild [path], ccbuild build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/qobs-build/ccbuild/internal/builder"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagProfile    string
	flagDepth      int
	flagRelentless bool
	flagVerbose    bool
	flagColor      EnumValue = NewEnumValue("auto", map[string]string{
		"auto":   "Color when writing to a terminal (default)",
		"always": "Always color output",
		"never":  "Never color output",
	})
)

func targetDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// buildOptions turns the build flags of cmd into builder options.
func buildOptions(cmd *cobra.Command) builder.Options {
	opts := builder.Options{Profile: flagProfile, Relentless: flagRelentless}
	if cmd.Flags().Changed("depth") {
		depth := flagDepth
		opts.Depth = &depth
	}
	return opts
}

func doBuild(cmd *cobra.Command, args []string) {
	b, err := builder.NewBuilderInDirectory(targetDir(args))
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.Build(buildOptions(cmd)); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ccbuild [target path]",
	Short: "Incremental C, C++ and FORTRAN builds",
	Long: `Incremental C, C++ and FORTRAN builds.

ccbuild remembers the headers every source includes and rebuilds exactly
the targets whose sources, headers or configuration changed.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		msg.SetVerbose(flagVerbose)
		return msg.SetColor(flagColor.Value())
	},
	Run: doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [target path]",
	Short: "Build the project",
	Long:  `Build the project. If no target path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print what is parsed and why targets are rebuilt")
	rootCmd.PersistentFlags().Var(&flagColor, "color", "When to color output, one of "+flagColor.HelpString())
	rootCmd.RegisterFlagCompletionFunc("color", flagColor.CompletionFunc())

	addBuildFlags(rootCmd)

	// ccbuild build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

// addProfileFlags adds the flags that select what a build looks like.
func addProfileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagProfile, "profile", "p", builder.DefaultProfile, "Build with the given profile")
	cmd.Flags().IntVarP(&flagDepth, "depth", "d", -1, "Follow includes this many levels deep, -1 for all (overrides dependency-depth)")
	cmd.RegisterFlagCompletionFunc("profile", completeProfiles)
	if cmd.ValidArgsFunction == nil {
		cmd.ValidArgsFunction = completeProjectDir
	}
}

func addBuildFlags(cmd *cobra.Command) {
	addProfileFlags(cmd)
	cmd.Flags().BoolVar(&flagRelentless, "relentless", false, "Keep compiling after a failure")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
