package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the relay",
	Long:  `Call the relay's root endpoint and report the round trip time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		start := time.Now()
		var resp struct {
			Message string `json:"message"`
		}
		if err := newClient().do(ctx, http.MethodGet, "/", nil, &resp); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		elapsed := time.Since(start)

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, map[string]any{"message": resp.Message, "rtt_ms": elapsed.Milliseconds()})
		}
		fmt.Fprintf(w, "%s (%s)\n", resp.Message, elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
