package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running orchestrator",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "orchestrator URL (default from config)")
	return cmd
}

func runChat(serverURL string) {
	cfg := loadConfig()
	if serverURL == "" {
		serverURL = "http://localhost" + cfg.Server.Addr
	}
	client := &http.Client{Timeout: 5 * time.Minute}

	fmt.Println("Connected to", serverURL)
	fmt.Println("Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}

		answer, newSession, err := sendChat(client, serverURL, cfg.Server.Token, line, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		sessionID = newSession
		fmt.Println(answer)
	}
}

func sendChat(client *http.Client, serverURL, token, message, sessionID string) (string, string, error) {
	body, err := json.Marshal(map[string]string{
		"message":    message,
		"session_id": sessionID,
	})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		Response  string `json:"response"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	return out.Response, out.SessionID, nil
}
