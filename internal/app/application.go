// Package app wires the gateway's components together and runs them.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"toolgate/internal/app/api"
	"toolgate/internal/app/orchestrator"
	"toolgate/internal/infra/aggregator"
	"toolgate/internal/infra/cache"
	"toolgate/internal/infra/config"
	"toolgate/internal/infra/convstore"
	"toolgate/internal/infra/credentials"
	"toolgate/internal/infra/registry"
	"toolgate/internal/infra/rpcclient"
	"toolgate/internal/infra/stream"
	"toolgate/internal/infra/telemetry"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string

	// ListenAddress and StorePath override the file configuration when
	// set explicitly on the command line.
	ListenAddress string
	StorePath     string
}

type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger.Named("app")}
}

// ValidateConfig loads and validates the configuration without serving.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	loader := config.NewLoader(a.logger)
	loaded, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(loaded.Servers)),
	)
	return nil
}

// Serve wires the gateway and blocks until ctx is canceled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	provider, err := config.NewProvider(ctx, cfg.ConfigPath, a.logger)
	if err != nil {
		return err
	}
	go provider.Watch(ctx)

	snapshot := provider.Snapshot()
	a.logger.Info("configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(snapshot.Servers)),
	)

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = snapshot.StorePath
	}
	if storePath == "" {
		storePath = "toolgate.db"
	}
	db, err := bolt.Open(filepath.Clean(storePath), 0o600, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(promRegistry)
	health := telemetry.NewHealthTracker()

	servers := registry.New(provider)
	client := rpcclient.New(rpcclient.Options{
		Logger:   a.logger,
		Observer: metrics,
	})
	distributor := credentials.NewDistributor(client, servers, a.logger)
	resolver := credentials.NewResolver(provider)

	toolCache, err := cache.New(db, a.logger)
	if err != nil {
		return err
	}
	provider.OnChange(func() {
		// A registry change can add or remove servers for every user;
		// cached lists may no longer reflect it, so they expire naturally
		// while new fan-outs pick up the fresh registry immediately.
		a.logger.Info("configuration reloaded")
	})

	agg := aggregator.New(aggregator.Options{
		Client:      client,
		Servers:     servers,
		Distributor: distributor,
		Resolver:    resolver,
		Cache:       toolCache,
		Observer:    metrics,
		Logger:      a.logger,
	})

	conversations, err := convstore.New(db)
	if err != nil {
		return err
	}
	credStore, err := credentials.NewStore(db, nil)
	if err != nil {
		return err
	}

	broker, err := stream.NewBroker(db, a.logger)
	if err != nil {
		// Resumability is the only loss; the chat path works without it.
		a.logger.Warn("stream broker unavailable, resumability disabled", zap.Error(err))
		broker = nil
	}

	chatModel, err := orchestrator.NewChatModel(ctx, snapshot.Model)
	if err != nil {
		return err
	}

	var openStream func(string) orchestrator.StreamSink
	if broker != nil {
		openStream = func(conversationID string) orchestrator.StreamSink {
			return broker.Open(conversationID)
		}
	}
	turns, err := orchestrator.New(orchestrator.Options{
		Model:        chatModel,
		Tools:        agg,
		Store:        conversations,
		OpenStream:   openStream,
		SystemPrompt: snapshot.Model.SystemPrompt,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	var resumer api.StreamResumer
	if broker != nil {
		resumer = broker
	}
	server, err := api.NewServer(api.Options{
		Tools:         agg,
		Turns:         turns,
		Streams:       resumer,
		Conversations: conversations,
		Credentials:   credStore,
		Auth:          api.NewTokenAuthenticator(provider),
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	health.SetReady()

	listenAddress := cfg.ListenAddress
	if listenAddress == "" {
		listenAddress = snapshot.ListenAddress
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// Flip /healthz to unavailable while the servers drain.
		<-groupCtx.Done()
		health.SetUnready("shutting down")
		return nil
	})
	group.Go(func() error {
		return server.Start(groupCtx, listenAddress)
	})
	group.Go(func() error {
		return telemetry.StartHTTPServer(groupCtx, telemetry.HTTPServerOptions{
			Addr:     snapshot.Observability.ListenAddress,
			Health:   health,
			Registry: promRegistry,
		}, a.logger)
	})
	return group.Wait()
}

var _ aggregator.ToolCache = (*cache.Cache)(nil)

var _ api.ToolService = (*aggregator.Aggregator)(nil)
