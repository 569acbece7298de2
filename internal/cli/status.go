package cli

import (
	"fmt"
	"os"

	"github.com/DeskClaw/DeskClaw/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ DeskClaw Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 DeskClaw Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, serr := os.Stat(configPath); serr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults will be used)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("API Key: ? Unable to load config")
			return
		}
		if cfg.Anthropic.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found (set DESKCLAW_ANTHROPIC_API_KEY)")
		}
		fmt.Printf("Gateway: http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
		if _, serr := os.Stat(cfg.DBPath()); serr == nil {
			fmt.Println("Store:   ✓ " + cfg.DBPath())
		} else {
			fmt.Println("Store:   ✗ Not initialized (run 'deskclaw serve' first)")
		}
		fmt.Println("Status:  Ready")
	},
}
