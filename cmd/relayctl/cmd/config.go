package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configKeys are the settings relayctl reads from its config file
var configKeys = map[string]string{
	"server":      "string",
	"grpc-server": "string",
	"timeout":     "duration",
	"json":        "bool",
	"pretty":      "bool",
	"user":        "string",
	"token":       "string",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage relayctl configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		token := "none"
		if jwtToken != "" {
			token = "set"
		}
		if outputJSON {
			return printJSON(w, map[string]any{
				"server":      serverAddr,
				"grpc-server": grpcAddr,
				"timeout":     timeout.String(),
				"json":        outputJSON,
				"pretty":      prettyJSON,
				"user":        userID,
				"token":       token,
			})
		}
		fmt.Fprintln(w, "Current configuration:")
		fmt.Fprintf(w, "  Server: %s\n", serverAddr)
		fmt.Fprintf(w, "  gRPC Server: %s\n", grpcAddr)
		fmt.Fprintf(w, "  Timeout: %s\n", timeout)
		fmt.Fprintf(w, "  JSON Output: %v\n", outputJSON)
		fmt.Fprintf(w, "  Pretty JSON: %v\n", prettyJSON)
		fmt.Fprintf(w, "  User: %s\n", userID)
		fmt.Fprintf(w, "  Token: %s\n", token)
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(w, "  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintln(w, "  Config file: none (using defaults)")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  relayctl config set server http://localhost:8080
  relayctl config set timeout 60s
  relayctl config set user alice`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		v, err := parseConfigValue(key, value)
		if err != nil {
			return err
		}
		if key == "pretty" && v == true && !checkJQAvailable() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: jq not found in PATH. Pretty formatting will fall back to standard formatting.")
		}
		viper.Set(key, v)

		path, err := configPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Set %s = %s\n", key, value)
		fmt.Fprintf(w, "Configuration saved to: %s\n", path)
		return nil
	},
}

// parseConfigValue checks key and converts value to the type viper should store
func parseConfigValue(key, value string) (any, error) {
	kind, ok := configKeys[key]
	if !ok {
		keys := make([]string, 0, len(configKeys))
		for k := range configKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("invalid configuration key: %s. Valid keys are: %s", key, strings.Join(keys, ", "))
	}

	switch kind {
	case "bool":
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid duration for %s: %s", key, value)
		}
		return d.String(), nil
	default:
		return value, nil
	}
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path := home + string(os.PathSeparator) + ".relayctl.yaml"

		if _, err := os.Stat(path); err == nil {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}
		}

		viper.Set("server", "http://localhost:8080")
		viper.Set("grpc-server", "localhost:50051")
		viper.Set("timeout", "30s")
		viper.Set("json", false)
		viper.Set("pretty", false)

		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and server connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Configuration check:")
		fmt.Fprintf(w, "  ✅ relayctl version: %s\n", Version)
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(w, "  ✅ Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintln(w, "  ⚠️  Config file: not found (using defaults)")
		}
		if checkJQAvailable() {
			fmt.Fprintln(w, "  ✅ jq: available")
		} else {
			fmt.Fprintln(w, "  ❌ jq: not found in PATH")
		}
		if jwtToken == "" && userID == "" {
			fmt.Fprintln(w, "  ⚠️  Identity: neither token nor user set")
		}

		ctx, cancel := requestContext()
		defer cancel()
		if h, code, err := httpHealth(ctx, newClient()); err != nil {
			fmt.Fprintf(w, "  ❌ Server %s: %v\n", serverAddr, err)
		} else if !h.OK {
			fmt.Fprintf(w, "  ❌ Server %s: HTTP %d %s\n", serverAddr, code, h.Message)
		} else {
			fmt.Fprintf(w, "  ✅ Server %s: OK\n", serverAddr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
