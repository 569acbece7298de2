package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Manage the virtual display",
}

var displayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the virtual display and VNC bridge",
	Run: func(cmd *cobra.Command, args []string) {
		displayRequest(http.MethodPost, "/api/v1/display/start")
	},
}

var displayStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the virtual display",
	Run: func(cmd *cobra.Command, args []string) {
		displayRequest(http.MethodPost, "/api/v1/display/stop")
	},
}

var displayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show display status",
	Run: func(cmd *cobra.Command, args []string) {
		displayRequest(http.MethodGet, "/api/v1/display")
	},
}

func init() {
	displayCmd.AddCommand(displayStartCmd)
	displayCmd.AddCommand(displayStopCmd)
	displayCmd.AddCommand(displayStatusCmd)
}

func displayRequest(method, path string) {
	req, err := http.NewRequest(method, gatewayBase()+path, nil)
	if err != nil {
		fmt.Printf("Request error: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Gateway unreachable: %v (is 'deskclaw serve' running?)\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var status struct {
		State   string `json:"state"`
		Display string `json:"display"`
		VNCAddr string `json:"vnc_addr"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Printf("Response error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("State:   %s\n", status.State)
	if status.Display != "" {
		fmt.Printf("Display: %s\n", status.Display)
	}
	if status.VNCAddr != "" {
		fmt.Printf("VNC:     %s\n", status.VNCAddr)
	}
	if strings.TrimSpace(status.Error) != "" {
		fmt.Printf("Error:   %s\n", status.Error)
	}
}
