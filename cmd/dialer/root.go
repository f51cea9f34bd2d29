package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"outbound-dialer/internal/guardclient"
	"outbound-dialer/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DIALER"

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dialer",
		Short:         "Agent-side outbound dialer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cobra.OnInitialize(initConfig)

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file path (optional).")
	pf.String("server", "http://localhost:8080", "Guard API base URL.")
	pf.String("token", "", "Access token for the guard API.")
	pf.String("caller-id", "", "Agent id the guard records as caller.")
	pf.Duration("timeout", 10*time.Second, "Per-request timeout against the guard API.")
	pf.String("log-level", "info", "debug, info, warn or error.")
	for _, name := range []string{"config", "server", "token", "caller-id", "timeout", "log-level"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCanCallCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReclaimCmd())
	cmd.AddCommand(newReleaseCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

// remoteClient builds a guard API client from the persistent settings.
func remoteClient() (*guardclient.Client, error) {
	server := strings.TrimSpace(viper.GetString("server"))
	if server == "" {
		return nil, fmt.Errorf("missing --server (or %s_SERVER)", envPrefix)
	}
	token := strings.TrimSpace(viper.GetString("token"))
	if token == "" {
		return nil, fmt.Errorf("missing --token (or %s_TOKEN)", envPrefix)
	}
	return guardclient.New(server, token, strings.TrimSpace(viper.GetString("caller-id")), viper.GetDuration("timeout")), nil
}

func flagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	v, _ := cmd.Flags().GetString(flagName)
	if cmd.Flags().Changed(flagName) {
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetString(viperKey)
	}
	return v
}

func flagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	v, _ := cmd.Flags().GetBool(flagName)
	if cmd.Flags().Changed(flagName) {
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetBool(viperKey)
	}
	return v
}

func flagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	v, _ := cmd.Flags().GetDuration(flagName)
	if cmd.Flags().Changed(flagName) {
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetDuration(viperKey)
	}
	return v
}

func flagOrViperStringSlice(cmd *cobra.Command, flagName, viperKey string) []string {
	v, _ := cmd.Flags().GetStringSlice(flagName)
	if cmd.Flags().Changed(flagName) {
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetStringSlice(viperKey)
	}
	return v
}

func cliLogger() *slog.Logger {
	return logger.NewText(os.Stderr, viper.GetString("log-level"))
}
