// Package aggregator fans discovery out across every enabled backend
// server and merges the results into one origin-tagged tool list. A
// backend that is down, slow, or misbehaving costs its own tools and
// nothing else.
package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/adapter"
)

// ProtocolClient is the per-server protocol surface discovery needs.
type ProtocolClient interface {
	Initialize(ctx context.Context, endpoint string) bool
	ListTools(ctx context.Context, endpoint string) ([]domain.ToolDescriptor, error)
	CallTool(ctx context.Context, endpoint, name string, args json.RawMessage) domain.ToolResult
}

// ServerSource yields the current set of backend servers.
type ServerSource interface {
	EnabledServers() []domain.ServerDescriptor
	ServerByID(id string) (domain.ServerDescriptor, bool)
}

// CredentialPusher distributes a profile to one server before its tools
// are listed.
type CredentialPusher interface {
	Distribute(ctx context.Context, server domain.ServerDescriptor, creds domain.Credentials) bool
}

// CredentialResolver picks the profile to distribute, falling back to
// environment defaults when no explicit profile is given.
type CredentialResolver interface {
	Resolve(explicit *domain.Credentials) (domain.Credentials, bool)
}

// ToolCache stores per-user discovery results.
type ToolCache interface {
	Get(userID string) ([]domain.OriginTaggedTool, bool)
	Put(userID string, tools []domain.OriginTaggedTool)
	Invalidate(userID string)
}

// Observer receives discovery outcomes for metrics.
type Observer interface {
	ObserveDiscovery(d time.Duration, servers, failed int, cacheHit bool)
}

type NopObserver struct{}

func (NopObserver) ObserveDiscovery(time.Duration, int, int, bool) {}

type Aggregator struct {
	client      ProtocolClient
	servers     ServerSource
	distributor CredentialPusher
	resolver    CredentialResolver
	cache       ToolCache
	observer    Observer
	logger      *zap.Logger
	workers     int
}

type Options struct {
	Client      ProtocolClient
	Servers     ServerSource
	Distributor CredentialPusher
	Resolver    CredentialResolver
	Cache       ToolCache
	Observer    Observer
	Logger      *zap.Logger
	// Workers caps fan-out parallelism. Zero means one worker per server.
	Workers int
}

func New(opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Aggregator{
		client:      opts.Client,
		servers:     opts.Servers,
		distributor: opts.Distributor,
		resolver:    opts.Resolver,
		cache:       opts.Cache,
		observer:    observer,
		logger:      logger.Named("aggregator"),
		workers:     opts.Workers,
	}
}

// Tools returns the aggregated tool list for one user, and whether it was
// served from the cache. Explicit credentials force a fresh fan-out; an
// anonymous caller (empty user id) never touches the cache. The result is
// never an error: servers that fail to answer contribute nothing.
func (a *Aggregator) Tools(ctx context.Context, userID string, explicit *domain.Credentials) ([]domain.OriginTaggedTool, bool) {
	started := time.Now()
	cacheable := a.cache != nil && userID != ""

	if explicit == nil && cacheable {
		if tools, ok := a.cache.Get(userID); ok {
			a.observer.ObserveDiscovery(time.Since(started), 0, 0, true)
			return tools, true
		}
	}
	if explicit != nil && cacheable {
		// Fresh credentials may change what the backends expose.
		a.cache.Invalidate(userID)
	}

	var creds *domain.Credentials
	if a.resolver != nil {
		if resolved, ok := a.resolver.Resolve(explicit); ok {
			creds = &resolved
		}
	} else {
		creds = explicit
	}

	servers := a.servers.EnabledServers()
	tools, failed := a.fanOut(ctx, servers, creds)
	a.observer.ObserveDiscovery(time.Since(started), len(servers), failed, false)

	if cacheable {
		a.cache.Put(userID, tools)
	}
	return tools, false
}

// Invalidate drops the user's cached discovery results.
func (a *Aggregator) Invalidate(userID string) {
	if a.cache != nil {
		a.cache.Invalidate(userID)
	}
}

// Adapt binds tagged tools to their owning servers' endpoints, producing
// callables for the orchestration loop. Tools whose server has vanished
// from the registry since discovery are dropped.
func (a *Aggregator) Adapt(tools []domain.OriginTaggedTool) []*adapter.AdaptedTool {
	adapted := make([]*adapter.AdaptedTool, 0, len(tools))
	for _, tagged := range tools {
		server, ok := a.servers.ServerByID(tagged.ServerID)
		if !ok || !server.Active() {
			a.logger.Debug("dropping tool with vanished server",
				zap.String("server", tagged.ServerID), zap.String("tool", tagged.Name))
			continue
		}
		adapted = append(adapted, adapter.Adapt(tagged, server.EndpointURL, a.client, a.logger))
	}
	return adapted
}

type serverResult struct {
	index int
	tools []domain.OriginTaggedTool
	err   error
}

// fanOut lists every server concurrently through a bounded worker pool
// and merges results preserving configuration order.
func (a *Aggregator) fanOut(ctx context.Context, servers []domain.ServerDescriptor, creds *domain.Credentials) ([]domain.OriginTaggedTool, int) {
	if len(servers) == 0 {
		return []domain.OriginTaggedTool{}, 0
	}

	jobs := make(chan int)
	results := make(chan serverResult, len(servers))

	// Every server gets its own worker unless an explicit bound was set;
	// discovery latency must not grow with the server count.
	workers := a.workers
	if workers <= 0 || workers > len(servers) {
		workers = len(servers)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				tools, err := a.discoverOne(ctx, servers[i], creds)
				results <- serverResult{index: i, tools: tools, err: err}
			}
		}()
	}

	for i := range servers {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	ordered := make([][]domain.OriginTaggedTool, len(servers))
	failed := 0
	for res := range results {
		if res.err != nil {
			failed++
			continue
		}
		ordered[res.index] = res.tools
	}

	merged := make([]domain.OriginTaggedTool, 0)
	for _, tools := range ordered {
		merged = append(merged, tools...)
	}
	return merged, failed
}

// discoverOne runs the per-server sequence: credential push (best
// effort), capability handshake (advisory), then tools/list.
func (a *Aggregator) discoverOne(ctx context.Context, server domain.ServerDescriptor, creds *domain.Credentials) ([]domain.OriginTaggedTool, error) {
	// One deadline covers the whole sequence, so a backend that accepts
	// the handshake and never answers still releases its worker on time.
	ctx, cancel := context.WithTimeout(ctx, domain.DiscoveryTimeout)
	defer cancel()

	if creds != nil && a.distributor != nil {
		a.distributor.Distribute(ctx, server, *creds)
	}

	// The handshake outcome is advisory; some backends list tools fine
	// without it.
	a.client.Initialize(ctx, server.EndpointURL)

	listed, err := a.client.ListTools(ctx, server.EndpointURL)
	if err != nil {
		a.logger.Warn("server dropped from aggregation",
			zap.String("server", server.ID), zap.Error(err))
		return nil, err
	}

	tools := make([]domain.OriginTaggedTool, 0, len(listed))
	for _, tool := range listed {
		tools = append(tools, domain.OriginTaggedTool{
			ToolDescriptor:    tool,
			ServerID:          server.ID,
			ServerDisplayName: server.DisplayName,
			ServerBadgeColor:  server.BadgeColor,
		})
	}
	return tools, nil
}
