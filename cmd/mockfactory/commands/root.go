package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/afterdarksys/mockfactory/pkg/config"
	"github.com/afterdarksys/mockfactory/pkg/version"
)

var (
	cfgFile string
	cfg     = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "mockfactory",
	Short: "Ephemeral infrastructure control plane",
	Long: `MockFactory - Throwaway Infrastructure On Demand

Provision. Emulate. Destroy.`,
	Version: version.Current,
	Run:     nil,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSONLogs, "json-logs", true, "Emit JSON logs")

	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(UserCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.SetConfigFile(filepath.Join(home, ".mockfactory.yaml"))
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("MOCKFACTORY")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	if v := viper.GetString("listen_addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := viper.GetString("base_domain"); v != "" {
		cfg.BaseDomain = v
	}
	if v := viper.GetString("docker_host"); v != "" {
		cfg.DockerHost = v
	}
	if v := viper.GetString("object_store_endpoint"); v != "" {
		cfg.ObjectStoreEndpoint = v
	}
	if v := viper.GetString("object_store_key"); v != "" {
		cfg.ObjectStoreKey = v
	}
	if v := viper.GetString("object_store_secret"); v != "" {
		cfg.ObjectStoreSecret = v
	}
	if v := viper.GetString("otel_endpoint"); v != "" {
		cfg.OtelEndpoint = v
	}
	if viper.IsSet("dns_enabled") {
		cfg.DNSEnabled = viper.GetBool("dns_enabled")
	}
}

// newLogger builds the process logger. Sensitive attributes are scrubbed at
// the handler so no call site can leak a credential by accident.
func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{ReplaceAttr: redactSensitiveData}
	var handler slog.Handler
	if cfg.JSONLogs {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	sensitiveKeys := map[string]bool{
		"password": true, "api_key": true, "token": true, "secret": true,
		"access_key": true, "credential": true, "connection_string": true,
		"receipt_handle": true,
	}
	if sensitiveKeys[a.Key] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
