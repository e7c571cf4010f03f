package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/reconcile"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/webhook"
)

// TriggerConfig configures a manual trigger of the driver
type TriggerConfig struct {
	DriverURL string
	Secret    string
	DryRun    bool
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "help") {
		fmt.Printf("🔧 Cloud users driver trigger script\n\n")
		fmt.Printf("Usage: %s [dry-run|apply] [driver_url]\n", os.Args[0])
		fmt.Printf("Examples:\n")
		fmt.Printf("  %s                                # Dry run against http://localhost:3000\n", os.Args[0])
		fmt.Printf("  %s apply                          # Apply changes\n", os.Args[0])
		fmt.Printf("  %s dry-run http://localhost:3001  # Custom driver URL\n", os.Args[0])
		fmt.Printf("\nThe bearer token is signed with TRIGGER_SECRET.\n")
		return
	}

	config := TriggerConfig{
		DriverURL: "http://localhost:3000",
		Secret:    os.Getenv("TRIGGER_SECRET"),
		DryRun:    true,
	}
	if len(os.Args) > 1 {
		config.DryRun = os.Args[1] != "apply"
	}
	if len(os.Args) > 2 {
		config.DriverURL = os.Args[2]
	}

	fmt.Printf("🚀 Triggering cloud users driver\n\n")
	fmt.Printf("📋 Configuration:\n")
	fmt.Printf("   🔗 Driver URL: %s\n", config.DriverURL)
	fmt.Printf("   🧪 Dry run: %t\n", config.DryRun)
	fmt.Printf("   🔐 Signed token: %t\n\n", config.Secret != "")

	summary, err := trigger(config)
	if err != nil {
		fmt.Printf("❌ Trigger failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Run %s finished in state %s\n", summary.RunID, summary.FinalState)
	fmt.Printf("   ➕ Created: %d\n", len(summary.Created))
	fmt.Printf("   ⛔ Disabled: %d\n", len(summary.Disabled))
	fmt.Printf("   ⏭️  Skipped: %d\n", len(summary.Skipped))
}

func trigger(config TriggerConfig) (*reconcile.Summary, error) {
	jsonPayload, err := json.Marshal(reconcile.Event{DryRun: config.DryRun})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger event: %w", err)
	}

	url := fmt.Sprintf("%s/reconcile", config.DriverURL)
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if config.Secret != "" {
		token, err := webhook.NewTriggerVerifier(config.Secret).IssueToken(5 * time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to sign trigger token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	fmt.Printf("📡 Sending trigger to %s...\n", url)

	client := &http.Client{Timeout: 15 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send trigger: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	fmt.Printf("📨 Response Status: %s\n", resp.Status)

	var response webhook.ReconcileResponse
	if err := json.Unmarshal(body, &response); err != nil || response.Summary == nil {
		return nil, fmt.Errorf("driver returned status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return response.Summary, fmt.Errorf("run aborted (%s) after %d mutations", response.Error, response.Summary.Mutations())
	}
	return response.Summary, nil
}
