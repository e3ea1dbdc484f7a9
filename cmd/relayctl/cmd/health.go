package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// relayHealthService is the gRPC health service name the relay reports under
const relayHealthService = "hookrelay.Relay"

type healthView struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Store   bool   `json:"store"`
	Driver  string `json:"driver,omitempty"`
}

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the relay",
	Long: `Check the relay's health. By default this queries the HTTP /healthz endpoint,
which pings the store. With --grpc it asks the gRPC health service instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useGRPC, _ := cmd.Flags().GetBool("grpc")

		ctx, cancel := requestContext()
		defer cancel()

		w := cmd.OutOrStdout()
		if useGRPC {
			status, err := grpcHealth(ctx, grpcAddr)
			if err != nil {
				return fmt.Errorf("gRPC health check failed: %w", err)
			}
			if outputJSON {
				return printJSON(w, map[string]string{"status": status.String()})
			}
			if status == healthpb.HealthCheckResponse_SERVING {
				fmt.Fprintln(w, "✓ Relay is serving (gRPC)")
			} else {
				fmt.Fprintf(w, "✗ Relay is %s (gRPC)\n", status)
			}
			return nil
		}

		h, code, err := httpHealth(ctx, newClient())
		if err != nil {
			return fmt.Errorf("HTTP health check failed: %w", err)
		}
		if outputJSON {
			return printJSON(w, h)
		}
		if code == http.StatusOK && h.OK {
			fmt.Fprintf(w, "✓ Relay is healthy (store: %s)\n", h.Driver)
		} else {
			fmt.Fprintf(w, "✗ Relay is unhealthy (HTTP %d): %s\n", code, h.Message)
		}
		return nil
	},
}

// httpHealth reads /healthz; a 503 still carries a status body
func httpHealth(ctx context.Context, c *apiClient) (healthView, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return healthView{}, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return healthView{}, 0, err
	}
	defer resp.Body.Close()

	var h healthView
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return healthView{}, resp.StatusCode, fmt.Errorf("decode health response: %w", err)
	}
	return h, resp.StatusCode, nil
}

func grpcHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: relayHealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Bool("grpc", false, "use the gRPC health service on --grpc-server")
}
