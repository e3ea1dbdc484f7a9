package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Request a development token from the JWKS server",
	Long: `Request a signed token for <tenant-id> from the development JWKS server.
With --save the token is written to the config file and used for later calls.

Examples:
  relayctl token alice
  relayctl token alice --ttl 600 --save`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuerURL, _ := cmd.Flags().GetString("issuer")
		ttl, _ := cmd.Flags().GetInt("ttl")
		save, _ := cmd.Flags().GetBool("save")

		ctx, cancel := requestContext()
		defer cancel()

		c := newClient()
		c.base = issuerURL
		c.token, c.user = "", ""

		var resp struct {
			Token     string `json:"token"`
			ExpiresIn int    `json:"expires_in"`
			TokenType string `json:"token_type"`
		}
		body := map[string]any{"tenant_id": args[0], "ttl_seconds": ttl}
		if err := c.do(ctx, http.MethodPost, "/token", body, &resp); err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}

		w := cmd.OutOrStdout()
		if save {
			path, err := configPath()
			if err != nil {
				return err
			}
			viper.Set("token", resp.Token)
			if err := viper.WriteConfigAs(path); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Token saved to: %s\n", path)
		}
		if outputJSON {
			return printJSON(w, resp)
		}
		fmt.Fprintln(w, resp.Token)
		return nil
	},
}

// configPath is the config file in use, or ~/.relayctl.yaml
func configPath() (string, error) {
	if p := viper.ConfigFileUsed(); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".relayctl.yaml"), nil
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("issuer", "http://localhost:8082", "JWKS server base URL")
	tokenCmd.Flags().Int("ttl", 3600, "token lifetime in seconds")
	tokenCmd.Flags().Bool("save", false, "store the token in the config file")
}
