package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"taskorch/internal/bootstrap"
	"taskorch/internal/config"
	"taskorch/internal/logging"
	"taskorch/internal/registry"
)

// isTTY reports whether stdout is an interactive terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "taskorch",
		Short:         "Priority-scheduled AI task orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !isTTY() {
				color.NoColor = true
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or JSON config file")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newModelsCommand(opts))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (o *rootOptions) load() (config.Config, error) {
	var loadOpts []config.Option
	if o.configPath != "" {
		loadOpts = append(loadOpts, config.WithFile(o.configPath))
	}
	return config.Load(loadOpts...)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			logger := logging.New(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: os.Stderr,
			})
			logging.SetDefault(logger)

			rt, err := bootstrap.Build(cfg, logger, prometheus.DefaultRegisterer, bootstrap.WithVersion(version))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("taskorch %s listening on %s", version, cfg.Server.Addr)
			return rt.Run(ctx)
		},
	}
}

func newModelsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models and the task kinds they serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			reg, err := bootstrap.LoadRegistry(cfg)
			if err != nil {
				return err
			}
			printModels(cmd.OutOrStdout(), reg.List())
			return nil
		},
	}
}

func printModels(w io.Writer, models []registry.Descriptor) {
	if len(models) == 0 {
		fmt.Fprintln(w, yellow("No models configured"))
		return
	}
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("%d models", len(models))))
	for _, m := range models {
		endpoint := m.Endpoint
		if endpoint == "" {
			endpoint = "simulated"
		}
		fmt.Fprintf(w, "  %s %s\n", green(m.Name), gray(endpoint))
		fmt.Fprintf(w, "    capabilities: %s\n", cyan(strings.Join(m.Capabilities, ", ")))
		fmt.Fprintf(w, "    cost/unit: %.4f  max_tokens: %d  temperature: %.2f\n", m.CostPerUnit, m.MaxTokens, m.Temperature)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskorch %s (%s)\n", version, commit)
		},
	}
}
