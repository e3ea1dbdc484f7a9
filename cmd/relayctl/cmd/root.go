package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	serverAddr string
	grpcAddr   string
	timeout    time.Duration
	outputJSON bool
	prettyJSON bool
	jwtToken   string
	userID     string
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "hookrelay CLI - interact with the webhook relay",
	Long: `relayctl is a command line tool for the hookrelay webhook relay.

Register destinations, send events through the relay and follow the delivery
records it keeps for every attempt.`,
	SilenceUsage: true,
}

// Execute runs the command line
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.relayctl.yaml)")
	pf.StringVar(&serverAddr, "server", "http://localhost:8080", "relay HTTP base URL")
	pf.StringVar(&grpcAddr, "grpc-server", "localhost:50051", "relay gRPC address, used by health --grpc")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "per-command timeout")
	pf.BoolVar(&outputJSON, "json", false, "print raw JSON")
	pf.BoolVar(&prettyJSON, "pretty", false, "pipe JSON through jq when available")
	pf.StringVar(&jwtToken, "token", "", "bearer token (falls back to JWT_TOKEN)")
	pf.StringVar(&userID, "user", "", "owner sent as X-Demo-User when no token is set")
}

// initConfig loads $HOME/.relayctl.yaml and RELAYCTL_* variables. Values there
// fill in any global flag the user did not pass explicitly.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".relayctl")
	}
	viper.SetEnvPrefix("RELAYCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	fromConfig := map[string]func(){
		"server":      func() { serverAddr = viper.GetString("server") },
		"grpc-server": func() { grpcAddr = viper.GetString("grpc-server") },
		"timeout":     func() { timeout = viper.GetDuration("timeout") },
		"json":        func() { outputJSON = viper.GetBool("json") },
		"pretty":      func() { prettyJSON = viper.GetBool("pretty") },
		"user":        func() { userID = viper.GetString("user") },
		"token":       func() { jwtToken = viper.GetString("token") },
	}
	flags := rootCmd.PersistentFlags()
	for name, apply := range fromConfig {
		if !flags.Changed(name) && viper.IsSet(name) {
			apply()
		}
	}
	if jwtToken == "" {
		jwtToken = os.Getenv("JWT_TOKEN")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
}

// checkJQAvailable reports whether --pretty can use jq
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ runs data through `jq .`
func formatWithJQ(data []byte) (string, error) {
	path, err := exec.LookPath("jq")
	if err != nil {
		return "", fmt.Errorf("jq not found in PATH")
	}
	var stdout, stderr bytes.Buffer
	jq := exec.Command(path, ".")
	jq.Stdin = bytes.NewReader(data)
	jq.Stdout, jq.Stderr = &stdout, &stderr
	if err := jq.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// printJSON writes v as indented JSON, through jq when --pretty is set
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if prettyJSON {
		formatted, jqErr := formatWithJQ(data)
		if jqErr == nil {
			_, err = fmt.Fprint(w, formatted)
			return err
		}
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
