package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
var (
	Version   = "0.1.0"
	Commit    = ""
	BuildTime = ""
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupDiag,
	Short:   "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	s := "medic version " + Version
	if commit != "" {
		s += fmt.Sprintf(" (%s)", shortCommit(commit))
	}
	if BuildTime != "" {
		s += " built " + BuildTime
	}
	return s
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
