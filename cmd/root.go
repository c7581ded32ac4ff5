package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dex-console/config"
	"dex-console/pkg/client"
	"dex-console/pkg/logger"
	"dex-console/pkg/metrics"
)

var (
	chainFlag   string
	baseURLFlag string
	logEnvFlag  string

	appConfig *config.Config
	collector *metrics.Collector

	// one reader for every prompt so buffered input is not lost between them
	stdin = bufio.NewReader(os.Stdin)
)

var rootCmd = &cobra.Command{
	Use:   "dex-console",
	Short: "A terminal console for aggregated DEX swaps",
	Long: `dex-console compares DEX quotes for a swap, checks the destination token's
risk, walks you through a safety checklist and then builds, signs and submits
the trade through the trading backend.

Examples:
  dex-console quotes 1 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
  dex-console swap 1 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 --slippage 0.5
  dex-console risk 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
  dex-console chains`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { logger.Sync() },
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output (development logs on stderr)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&chainFlag, "chain", "", "Chain to trade on (default from config)")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Trading backend address (default from config)")
	rootCmd.PersistentFlags().StringVar(&logEnvFlag, "log-env", "", "Log mode: quiet, development or production")
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if chainFlag != "" {
		cfg.Chain = strings.ToLower(chainFlag)
	}
	if baseURLFlag != "" {
		cfg.BaseURL = baseURLFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogEnv = "development"
	}
	if logEnvFlag != "" {
		cfg.LogEnv = logEnvFlag
	}
	config.Set(cfg)
	appConfig = cfg

	if err := logger.Init(cfg.LogEnv); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.MetricsAddr != "" {
		collector, err = metrics.NewCollector(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		go serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logger.Named("metrics")
	log.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server stopped", zap.Error(err))
	}
}

func newGateway() *client.Gateway {
	t := appConfig.Timeouts
	opts := []client.Option{
		client.WithTimeouts(client.Timeouts{
			Aggregate:   t.Aggregate,
			Risk:        t.Risk,
			Refresh:     t.Refresh,
			GasEstimate: t.GasEstimate,
			Build:       t.Build,
			Execute:     t.Execute,
		}),
		client.WithLogger(logger.Named("gateway")),
	}
	if collector != nil {
		opts = append(opts, client.WithMetricsCollector(collector))
	}
	return client.NewGateway(appConfig.BaseURL, opts...)
}

func printError(err error) {
	fmt.Printf("\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

// prompt reads one line; an error or EOF reads as empty
func prompt(question string) string {
	fmt.Print(question)
	response, err := stdin.ReadString('\n')
	if err != nil && response == "" {
		return ""
	}
	return strings.TrimRight(response, "\r\n")
}

func confirmYes(question string) bool {
	response := strings.TrimSpace(strings.ToLower(prompt(question + " (y/N): ")))
	return response == "y" || response == "yes"
}
