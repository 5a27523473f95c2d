package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "spendguard"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Ad performance anomaly detection and root cause analysis",
		Version: version,
		Long: `SpendGuard detects anomalies in advertising performance time series,
diagnoses their root causes through model-selected diagnostic probes, and
produces grounded optimization recommendations with dry-run execution plans.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newProbeCmd())

	cobra.OnInitialize(func() {
		level, err := zerolog.ParseLevel(mustString(rootCmd, "log-level"))
		if err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.PersistentFlags().GetString(name)
	return v
}
