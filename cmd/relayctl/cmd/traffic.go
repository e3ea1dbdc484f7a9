package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// trafficConfig controls a traffic run
type trafficConfig struct {
	Count     int     `json:"count"`
	Rate      float64 `json:"rate"` // requests per second
	Source    string  `json:"source"`
	EventType string  `json:"event_type"`
}

// trafficSummary holds the outcome of a traffic run
type trafficSummary struct {
	Sent        int           `json:"sent"`
	Accepted    int           `json:"accepted"`
	Rejected    int           `json:"rejected"`
	Duration    time.Duration `json:"duration"`
	RPS         float64       `json:"rps"`
	DeliveryIDs []string      `json:"delivery_ids,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Send a stream of test events through the relay",
	Long: `Send --count events from --source at --rate events per second. Point the
destination at the fake receiver with FAIL_FIRST_N set to watch retries and
failures show up in "delivery list".

Examples:
  relayctl --user alice traffic --count 50 --rate 10
  relayctl --user alice traffic --count 5 --event-type order.created --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg trafficConfig
		cfg.Count, _ = cmd.Flags().GetInt("count")
		cfg.Rate, _ = cmd.Flags().GetFloat64("rate")
		cfg.Source, _ = cmd.Flags().GetString("source")
		cfg.EventType, _ = cmd.Flags().GetString("event-type")

		var progress io.Writer = cmd.ErrOrStderr()
		if outputJSON {
			progress = io.Discard
		}
		summary, err := generateTraffic(cmd.Context(), newClient(), cfg, progress)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, summary)
		}
		fmt.Fprintln(w, "Traffic summary:")
		fmt.Fprintf(w, "  Sent: %d\n", summary.Sent)
		fmt.Fprintf(w, "  Accepted: %d\n", summary.Accepted)
		fmt.Fprintf(w, "  Rejected: %d\n", summary.Rejected)
		fmt.Fprintf(w, "  Duration: %s\n", summary.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  Rate: %.1f req/s\n", summary.RPS)
		if summary.LastError != "" {
			fmt.Fprintf(w, "  Last Error: %s\n", summary.LastError)
		}
		return nil
	},
}

// generateTraffic posts cfg.Count events, paced by cfg.Rate. A connection
// failure stops the run; rejected requests are counted and the run continues.
func generateTraffic(ctx context.Context, c *apiClient, cfg trafficConfig, progress io.Writer) (trafficSummary, error) {
	if cfg.Count <= 0 {
		return trafficSummary{}, fmt.Errorf("count must be positive")
	}
	if cfg.Rate <= 0 {
		return trafficSummary{}, fmt.Errorf("rate must be positive")
	}
	if cfg.Source == "" {
		cfg.Source = "relayctl"
	}

	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.Rate))
	defer ticker.Stop()

	path := "/v1/ingest/" + url.PathEscape(cfg.Source)
	var summary trafficSummary
	start := time.Now()
	for i := 0; i < cfg.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				summary.Duration = time.Since(start)
				return summary, ctx.Err()
			case <-ticker.C:
			}
		}

		body := map[string]any{"seq": i + 1, "sent_at": time.Now().UTC().Format(time.RFC3339Nano)}
		if cfg.EventType != "" {
			body["event"] = cfg.EventType
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.http.Timeout)
		var resp struct {
			DeliveryID string `json:"delivery_id"`
		}
		err := c.do(reqCtx, http.MethodPost, path, body, &resp)
		cancel()
		summary.Sent++

		var apiErr *apiError
		switch {
		case err == nil:
			summary.Accepted++
			summary.DeliveryIDs = append(summary.DeliveryIDs, resp.DeliveryID)
		case errors.As(err, &apiErr):
			summary.Rejected++
			summary.LastError = apiErr.Error()
		default:
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("traffic stopped after %d requests: %w", summary.Sent, err)
		}

		if summary.Sent%10 == 0 || summary.Sent == cfg.Count {
			fmt.Fprintf(progress, "\rSent %d/%d (accepted %d, rejected %d)", summary.Sent, cfg.Count, summary.Accepted, summary.Rejected)
		}
	}
	fmt.Fprintln(progress)

	summary.Duration = time.Since(start)
	if secs := summary.Duration.Seconds(); secs > 0 {
		summary.RPS = float64(summary.Sent) / secs
	}
	return summary, nil
}

func init() {
	rootCmd.AddCommand(trafficCmd)
	trafficCmd.Flags().Int("count", 10, "number of events to send")
	trafficCmd.Flags().Float64("rate", 5, "events per second")
	trafficCmd.Flags().String("source", "relayctl", "source name used in the ingest path")
	trafficCmd.Flags().String("event-type", "relayctl.traffic", "value of the payload's event field")
}
