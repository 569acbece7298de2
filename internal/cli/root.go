// Package cli implements the deskclaw command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/DeskClaw/DeskClaw/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  ____            _     ____ _\n" +
		" |  _ \\  ___  ___| | __/ ___| | __ ___      __\n" +
		" | | | |/ _ \\/ __| |/ / |   | |/ _` \\ \\ /\\ / /\n" +
		" | |_| |  __/\\__ \\   <| |___| | (_| |\\ V  V /\n" +
		" |____/ \\___||___/_|\\_\\\\____|_|\\__,_| \\_/\\_/\n"
)

var rootCmd = &cobra.Command{
	Use:   "deskclaw",
	Short: "DeskClaw - computer-use agent gateway",
	Long:  color.CyanString(logo) + "\nA session-scoped computer-use agent gateway written in Go.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(displayCmd)
}
