package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/DeskClaw/DeskClaw/internal/config"
	"github.com/spf13/cobra"
)

var (
	chatMessage string
	chatSession string
	chatSystem  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a message to a session and stream the reply",
	Run:   runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "message to send")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "existing session id (a new session is created when empty)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt for a new session")
}

func gatewayBase() string {
	cfg, err := config.Load()
	if err != nil {
		return "http://127.0.0.1:8000"
	}
	return fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
}

func runChat(cmd *cobra.Command, args []string) {
	if strings.TrimSpace(chatMessage) == "" {
		fmt.Println("Usage: deskclaw chat -m \"your message\"")
		os.Exit(1)
	}
	base := gatewayBase()

	sessionID := chatSession
	if sessionID == "" {
		id, err := createSession(base, chatSystem)
		if err != nil {
			fmt.Printf("Create session error: %v\n", err)
			os.Exit(1)
		}
		sessionID = id
		fmt.Printf("Session: %s\n", sessionID)
	}

	// Subscribe before sending so no events are missed.
	events, err := http.Get(base + "/api/v1/sessions/" + sessionID + "/events")
	if err != nil {
		fmt.Printf("Event stream error: %v\n", err)
		os.Exit(1)
	}
	defer events.Body.Close()
	if events.StatusCode != http.StatusOK {
		fmt.Printf("Event stream error: HTTP %d\n", events.StatusCode)
		os.Exit(1)
	}

	if err := sendMessage(base, sessionID, chatMessage); err != nil {
		fmt.Printf("Send error: %v\n", err)
		os.Exit(1)
	}

	if err := streamEvents(events.Body); err != nil {
		fmt.Printf("\nStream error: %v\n", err)
		os.Exit(1)
	}
}

func createSession(base, systemPrompt string) (string, error) {
	body, _ := json.Marshal(map[string]string{"system_prompt": systemPrompt})
	resp, err := http.Post(base+"/api/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var sess struct {
		ID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

func sendMessage(base, sessionID, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	resp, err := http.Post(base+"/api/v1/sessions/"+sessionID+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("session busy")
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// streamEvents prints the live event stream until the turn finishes.
// Assistant text arrives as deltas; tool activity is shown as one line each.
func streamEvents(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev struct {
				Payload map[string]any `json:"payload"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			switch eventType {
			case "assistant_partial":
				if text, ok := ev.Payload["text"].(string); ok {
					fmt.Print(text)
				}
			case "tool_started":
				fmt.Printf("\n🔧 %v\n", ev.Payload["tool"])
			case "tool_result":
				// Tool output is fed back to the model; keep the console quiet.
			case "turn_complete":
				fmt.Println()
				if status, ok := ev.Payload["status"].(string); ok && status != "completed" {
					fmt.Printf("Turn %s\n", status)
				}
				return nil
			case "error":
				fmt.Println()
				return fmt.Errorf("%v (%v)", ev.Payload["error"], ev.Payload["kind"])
			}
		}
	}
	return scanner.Err()
}
