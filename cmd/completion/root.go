package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kitbuilder587/completion-source/internal/config"
	"github.com/kitbuilder587/completion-source/internal/llm"
	"github.com/kitbuilder587/completion-source/internal/llm/factory"
	"github.com/kitbuilder587/completion-source/internal/metrics"
)

// commandContext is shared by all subcommands; it is filled in
// PersistentPreRunE once flags are parsed.
type commandContext struct {
	configPath  string
	sourceName  string
	model       string
	metricsAddr string

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "completion",
		Short:         "Request text completions from a configured LLM backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cc.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cc.configPath, "config", "c", "", "Configuration file path (YAML)")
	flags.StringVar(&cc.sourceName, "source", "", "Completion source, overrides completion_source")
	flags.StringVar(&cc.model, "model", "", "Model, overrides the configured default")
	flags.StringVar(&cc.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	rootCmd.AddCommand(newCompleteCommand(cc))
	rootCmd.AddCommand(newValidateCommand(cc))
	rootCmd.AddCommand(newGenerateCommand(cc))
	rootCmd.AddCommand(newSourcesCommand())

	return rootCmd
}

func (cc *commandContext) init() error {
	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return err
	}
	if cc.sourceName != "" {
		cfg.Completion.Source = cc.sourceName
	}
	if cc.model != "" {
		cfg.Completion.Model = cc.model
	}
	if cc.metricsAddr != "" {
		cfg.Metrics.Addr = cc.metricsAddr
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	cc.cfg = cfg
	cc.logger = logger
	cc.registry = prometheus.NewRegistry()
	cc.metrics = metrics.New(cc.registry)
	return nil
}

// source builds the configured backend. The returned func releases it.
func (cc *commandContext) source() (llm.Source, func(), error) {
	src, err := factory.Get(cc.cfg.Completion, factory.Deps{
		Logger:   cc.logger,
		Recorder: cc.metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
		cc.logger.Sync()
	}
	return src, release, nil
}

// serveMetrics exposes the registry until ctx ends. No-op without an address.
func (cc *commandContext) serveMetrics(ctx context.Context) (func(), error) {
	addr := cc.cfg.Metrics.Addr
	if addr == "" {
		return func() {}, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(cc.registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cc.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	cc.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

func newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List known completion sources",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range factory.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
