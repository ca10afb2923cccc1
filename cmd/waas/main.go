package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/waas"
)

var Version = "dev"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "waas",
		Short:         "OPay WAAS signing gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("WAAS_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "waas.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to the YAML config (env WAAS_CONFIG)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(paymentCmd())

	return rootCmd
}

func loadConfig() (*waas.Config, *slog.Logger, error) {
	cfg, err := waas.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log), nil
}

func newLogger(cfg waas.LogConfig) *slog.Logger {
	opts := slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(opts.NewJSONHandler(os.Stderr))
	}
	return slog.New(opts.NewTextHandler(os.Stderr))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
