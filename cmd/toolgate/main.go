package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"toolgate/internal/app"
)

type serveOptions struct {
	configPath    string
	listenAddress string
	storePath     string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := serveOptions{
		configPath: "toolgate.yaml",
	}

	root := &cobra.Command{
		Use:   "toolgate",
		Short: "Tool gateway aggregating JSON-RPC tool servers behind a chat API",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to gateway config file")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			serve := app.ServeConfig{ConfigPath: opts.configPath}
			applyServeFlagBindings(cmd.Flags(), &serve, opts)

			application := app.New(logger)
			return application.Serve(ctx, serve)
		},
	}

	cmd.Flags().StringVar(&opts.listenAddress, "listen", "", "listen address, overrides the config file")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "path to the bbolt store, overrides the config file")

	return cmd
}

// applyServeFlagBindings copies only explicitly set flags into the serve
// config, so unset flags never clobber file configuration.
func applyServeFlagBindings(flags *pflag.FlagSet, serve *app.ServeConfig, opts *serveOptions) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			serve.ListenAddress = opts.listenAddress
		case "store":
			serve.StorePath = opts.storePath
		}
	})
}

func newValidateCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate gateway configuration without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			return application.ValidateConfig(cmd.Context(), app.ValidateConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
