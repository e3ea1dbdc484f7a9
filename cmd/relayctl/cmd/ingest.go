package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>",
	Short: "Send an event through the relay",
	Long: `Send a JSON object to the relay as an event from <source>. The relay answers
as soon as the delivery is recorded; use "delivery get" to follow it.

Examples:
  relayctl --user alice ingest stripe --data '{"event":"invoice.paid","amount":10}'
  relayctl --user alice ingest github --file push.json
  cat event.json | relayctl --user alice ingest github --file -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := ingestBody(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		var resp struct {
			Status         string `json:"status"`
			UserID         string `json:"user_id"`
			DeliveryID     string `json:"delivery_id"`
			DestinationURL string `json:"destination_url"`
			Event          struct {
				EventID   string `json:"event_id"`
				EventType string `json:"event_type"`
			} `json:"event"`
		}
		path := "/v1/ingest/" + url.PathEscape(args[0])
		if err := newClient().do(ctx, http.MethodPost, path, body, &resp); err != nil {
			return fmt.Errorf("failed to ingest event: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(w, resp)
		}
		fmt.Fprintf(w, "Event %s\n", resp.Status)
		fmt.Fprintf(w, "  Delivery ID: %s\n", resp.DeliveryID)
		fmt.Fprintf(w, "  Event ID: %s\n", resp.Event.EventID)
		fmt.Fprintf(w, "  Event Type: %s\n", resp.Event.EventType)
		fmt.Fprintf(w, "  Destination: %s\n", resp.DestinationURL)
		return nil
	},
}

// ingestBody reads --data or --file and checks it is a JSON object before sending
func ingestBody(cmd *cobra.Command) ([]byte, error) {
	data, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")

	var raw []byte
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("use either --data or --file, not both")
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		raw = b
	default:
		raw = []byte("{}")
	}

	var payload structpb.Struct
	if err := protojson.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return raw, nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringP("data", "d", "", "event payload as a JSON object")
	ingestCmd.Flags().StringP("file", "f", "", "read the payload from a file (- for stdin)")
}
