package commands

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `replyclaw health` command that checks the
// HTTP API liveness route. Used by Docker HEALTHCHECK and monitoring.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check service liveness via the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			address, _ := cmd.Flags().GetString("address")

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(address)
			if err != nil {
				return fmt.Errorf("service unreachable: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
			}

			fmt.Println(string(body))
			return nil
		},
	}
	cmd.Flags().String("address", "http://localhost:8000/", "liveness URL to probe")
	return cmd
}
