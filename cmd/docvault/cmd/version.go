package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X github.com/javi11/docvault/cmd/docvault/cmd.Version=..." at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func versionString() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

func init() {
	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("docvault {{.Version}}\n")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the docvault version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docvault %s\n  Go: %s\n  Platform: %s/%s\n",
				versionString(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.AddCommand(versionCmd)
}
