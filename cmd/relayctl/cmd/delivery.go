package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type deliveryView struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Source         string    `json:"source"`
	DestinationURL string    `json:"destination_url"`
	EventType      string    `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error"`
}

func (d deliveryView) terminal() bool {
	return d.Status == "delivered" || d.Status == "failed"
}

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect delivery records",
	Long:  `Look up delivery records and follow their attempts.`,
}

var deliveryGetCmd = &cobra.Command{
	Use:   "get <delivery-id>",
	Short: "Show one delivery record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		d, err := getDelivery(ctx, newClient(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get delivery: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, d)
		}
		printDelivery(w, d)
		return nil
	},
}

var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent deliveries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := requestContext()
		defer cancel()

		path := "/v1/deliveries"
		if limit > 0 {
			path += "?limit=" + strconv.Itoa(limit)
		}
		var resp struct {
			UserID     string         `json:"user_id"`
			Deliveries []deliveryView `json:"deliveries"`
		}
		if err := newClient().do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, resp)
		}
		if len(resp.Deliveries) == 0 {
			fmt.Fprintf(w, "No deliveries for %s\n", resp.UserID)
			return nil
		}
		fmt.Fprintf(w, "Deliveries for %s (%d):\n", resp.UserID, len(resp.Deliveries))
		for _, d := range resp.Deliveries {
			fmt.Fprintf(w, "  %s  %-9s  %d  %s  %s\n", d.ID, d.Status, d.Attempts, formatTime(d.OccurredAt), d.EventType)
		}
		return nil
	},
}

var deliveryWatchCmd = &cobra.Command{
	Use:   "watch <delivery-id>",
	Short: "Poll a delivery until it is delivered or failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = time.Second
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		d, err := watchDelivery(ctx, newClient(), args[0], interval, func(d deliveryView) {
			if !outputJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  status=%s attempts=%d\n", time.Now().Format("15:04:05"), d.Status, d.Attempts)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to watch delivery: %w", err)
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), d)
		}
		printDelivery(cmd.OutOrStdout(), d)
		return nil
	},
}

func getDelivery(ctx context.Context, c *apiClient, id string) (deliveryView, error) {
	var d deliveryView
	err := c.do(ctx, http.MethodGet, "/v1/deliveries/"+url.PathEscape(id), nil, &d)
	return d, err
}

// watchDelivery polls until the record reaches a terminal status, calling onChange
// whenever the status or attempt count moves
func watchDelivery(ctx context.Context, c *apiClient, id string, interval time.Duration, onChange func(deliveryView)) (deliveryView, error) {
	var last deliveryView
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for first := true; ; first = false {
		d, err := getDelivery(ctx, c, id)
		if err != nil {
			return last, err
		}
		if first || d.Status != last.Status || d.Attempts != last.Attempts {
			onChange(d)
		}
		last = d
		if d.terminal() {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printDelivery(w io.Writer, d deliveryView) {
	fmt.Fprintf(w, "Delivery %s\n", d.ID)
	fmt.Fprintf(w, "  Status: %s\n", d.Status)
	fmt.Fprintf(w, "  Attempts: %d\n", d.Attempts)
	fmt.Fprintf(w, "  Source: %s\n", d.Source)
	fmt.Fprintf(w, "  Event Type: %s\n", d.EventType)
	fmt.Fprintf(w, "  Destination: %s\n", d.DestinationURL)
	fmt.Fprintf(w, "  Occurred: %s\n", formatTime(d.OccurredAt))
	if d.LastError != nil {
		fmt.Fprintf(w, "  Last Error: %s\n", *d.LastError)
	}
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(deliveryGetCmd)
	deliveryCmd.AddCommand(deliveryListCmd)
	deliveryCmd.AddCommand(deliveryWatchCmd)

	deliveryListCmd.Flags().Int("limit", 0, "maximum records to return (server default 20, max 100)")
	deliveryWatchCmd.Flags().Duration("interval", time.Second, "poll interval")
}
