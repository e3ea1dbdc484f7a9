package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type destinationView struct {
	ID        string    `json:"destination_id"`
	OwnerID   string    `json:"owner_id"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

var destinationCmd = &cobra.Command{
	Use:     "destination",
	Aliases: []string{"dest"},
	Short:   "Manage delivery destinations",
	Long:    `Register and list the URLs the relay forwards events to. The newest active destination receives new events.`,
}

var destinationCreateCmd = &cobra.Command{
	Use:   "create <url>",
	Short: "Register a destination URL",
	Long: `Register a destination URL for the current identity. A URL without a scheme
is stored with https://.

Examples:
  relayctl --user alice destination create https://example.com/hook
  relayctl --user alice destination create example.com/hook`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		var resp struct {
			Status      string          `json:"status"`
			UserID      string          `json:"user_id"`
			Destination destinationView `json:"destination"`
		}
		if err := newClient().do(ctx, http.MethodPost, "/v1/destinations", map[string]string{"url": args[0]}, &resp); err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, resp)
		}
		fmt.Fprintln(w, "Destination created")
		fmt.Fprintf(w, "  ID: %s\n", resp.Destination.ID)
		fmt.Fprintf(w, "  Owner: %s\n", resp.UserID)
		fmt.Fprintf(w, "  URL: %s\n", resp.Destination.URL)
		fmt.Fprintf(w, "  Created: %s\n", formatTime(resp.Destination.CreatedAt))
		return nil
	},
}

var destinationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List destinations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		var resp struct {
			UserID       string            `json:"user_id"`
			Destinations []destinationView `json:"destinations"`
		}
		if err := newClient().do(ctx, http.MethodGet, "/v1/destinations", nil, &resp); err != nil {
			return fmt.Errorf("failed to list destinations: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, resp)
		}
		if len(resp.Destinations) == 0 {
			fmt.Fprintf(w, "No destinations for %s\n", resp.UserID)
			return nil
		}
		fmt.Fprintf(w, "Destinations for %s (%d):\n", resp.UserID, len(resp.Destinations))
		for _, d := range resp.Destinations {
			state := "active"
			if !d.Active {
				state = "inactive"
			}
			fmt.Fprintf(w, "  %s  %-8s  %s  %s\n", d.ID, state, formatTime(d.CreatedAt), d.URL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(destinationCmd)
	destinationCmd.AddCommand(destinationCreateCmd)
	destinationCmd.AddCommand(destinationListCmd)
}
