// Package main provides the semreview binary entry point.
// Semreview is an automated pull-request review platform: a webhook
// gateway verifies and classifies forge deliveries into a durable
// queue, and a review worker runs a two-stage LLM pipeline that posts
// findings back to the pull request.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	// Register LLM providers via init()
	_ "github.com/c360studio/semreview/llm/providers"

	"github.com/spf13/cobra"

	"github.com/c360studio/semreview/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semreview"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "semreview",
		Short: "Automated pull-request review platform",
		Long: `Semreview reviews pull requests with a two-stage LLM pipeline.

A webhook gateway verifies forge deliveries, classifies them against
the trigger matrix, and enqueues canonical review events on JetStream.
A review worker consumes the queue, plans and reviews the change under
per-repo policy, and posts the findings back as a PR review and a
check run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	cmd.AddCommand(policyCmd())
	cmd.AddCommand(patchCmd())

	return cmd
}

func run(configPath, logLevel string) error {
	printBanner()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(logLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.NewLoader(logger).Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The flag wins; otherwise the config decides.
	if logLevel == "" && cfg.Service.LogLevel != "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Service.LogLevel)}))
		slog.SetDefault(logger)
	}

	return newApp(cfg, logger).Run(ctx)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            Semreview v" + Version + "                  ║")
	fmt.Println("║      AI Pull Request Review Platform          ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
