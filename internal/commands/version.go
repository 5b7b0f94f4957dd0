package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Siddharth-777/ECHO/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "echo %s\n", version.Version)
	},
}
