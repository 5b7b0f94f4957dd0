package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Siddharth-777/ECHO/internal/ui"
	"github.com/Siddharth-777/ECHO/internal/version"
)

var flagConfig string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "echo",
	Short:   "Join mesh video rooms from the terminal",
	Long:    `ECHO connects everyone in a room directly to everyone else over WebRTC. A small relay server only forwards signaling and chat; audio, video and screen shares flow peer to peer.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $HOME/.echo.yaml)")
	rootCmd.AddCommand(joinCmd, versionCmd)
}

// configFile returns the explicit --config path or the default file when
// it exists.
func configFile() string {
	if flagConfig != "" {
		return flagConfig
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".echo.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
