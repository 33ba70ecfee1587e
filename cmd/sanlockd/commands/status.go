package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a running sanlockd instance is reachable",
	Long: `Status loads the configuration and probes the Prometheus metrics
endpoint it names, reporting whether a sanlockd process appears to be
running. sanlockd has no client-protocol framing of its own, so this
is a best-effort liveness check
rather than a query against the supervisor's in-process STATUS command.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !cfg.Metrics.Enabled {
		fmt.Println("Status:  unknown (metrics endpoint disabled in configuration)")
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + cfg.Metrics.ListenAddr + "/metrics")
	if err != nil {
		fmt.Println("Status:  not reachable")
		fmt.Printf("  %v\n", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("Status:  running")
	} else {
		fmt.Printf("Status:  unexpected response (HTTP %d)\n", resp.StatusCode)
	}
	return nil
}
