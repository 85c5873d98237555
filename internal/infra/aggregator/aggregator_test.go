package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

type mockClient struct {
	mu          sync.Mutex
	initialized []string
	listFunc    func(endpoint string) ([]domain.ToolDescriptor, error)
}

func (m *mockClient) Initialize(_ context.Context, endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = append(m.initialized, endpoint)
	return true
}

func (m *mockClient) ListTools(_ context.Context, endpoint string) ([]domain.ToolDescriptor, error) {
	return m.listFunc(endpoint)
}

func (m *mockClient) CallTool(context.Context, string, string, json.RawMessage) domain.ToolResult {
	return domain.Ok(nil)
}

type mockServers struct {
	servers []domain.ServerDescriptor
}

func (m *mockServers) EnabledServers() []domain.ServerDescriptor { return m.servers }

func (m *mockServers) ServerByID(id string) (domain.ServerDescriptor, bool) {
	for _, s := range m.servers {
		if s.ID == id {
			return s, true
		}
	}
	return domain.ServerDescriptor{}, false
}

type mockPusher struct {
	mu     sync.Mutex
	pushed []string
}

func (m *mockPusher) Distribute(_ context.Context, server domain.ServerDescriptor, _ domain.Credentials) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, server.ID)
	return true
}

type passthroughResolver struct{}

func (passthroughResolver) Resolve(explicit *domain.Credentials) (domain.Credentials, bool) {
	if explicit == nil {
		return domain.Credentials{}, false
	}
	return *explicit, true
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]domain.OriginTaggedTool
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]domain.OriginTaggedTool{}}
}

func (c *fakeCache) Get(userID string) ([]domain.OriginTaggedTool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools, ok := c.entries[userID]
	return tools, ok
}

func (c *fakeCache) Put(userID string, tools []domain.OriginTaggedTool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = tools
	c.puts++
}

func (c *fakeCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func twoServers() *mockServers {
	return &mockServers{servers: []domain.ServerDescriptor{
		{ID: "notes", DisplayName: "Notes", EndpointURL: "http://notes/rpc", Enabled: true, BadgeColor: "blue"},
		{ID: "mail", DisplayName: "Mail", EndpointURL: "http://mail/rpc", Enabled: true},
	}}
}

func toolsByEndpoint(endpoint string) ([]domain.ToolDescriptor, error) {
	switch endpoint {
	case "http://notes/rpc":
		return []domain.ToolDescriptor{{Name: "search_notes"}, {Name: "create_note"}}, nil
	case "http://mail/rpc":
		return []domain.ToolDescriptor{{Name: "send_mail"}}, nil
	default:
		return nil, errors.New("unknown endpoint")
	}
}

func TestToolsMergePreservesServerOrder(t *testing.T) {
	agg := New(Options{
		Client:  &mockClient{listFunc: toolsByEndpoint},
		Servers: twoServers(),
		Cache:   newFakeCache(),
	})

	tools, _ := agg.Tools(context.Background(), "user-1", nil)
	require.Len(t, tools, 3)
	assert.Equal(t, "search_notes", tools[0].Name)
	assert.Equal(t, "create_note", tools[1].Name)
	assert.Equal(t, "send_mail", tools[2].Name)

	// Provenance tags carry the owning server's identity.
	assert.Equal(t, "notes", tools[0].ServerID)
	assert.Equal(t, "Notes", tools[0].ServerDisplayName)
	assert.Equal(t, "blue", tools[0].ServerBadgeColor)
	assert.Equal(t, "mail", tools[2].ServerID)
}

func TestFailedServerOnlyLosesItsOwnTools(t *testing.T) {
	agg := New(Options{
		Client: &mockClient{listFunc: func(endpoint string) ([]domain.ToolDescriptor, error) {
			if endpoint == "http://notes/rpc" {
				return nil, errors.New("connection refused")
			}
			return toolsByEndpoint(endpoint)
		}},
		Servers: twoServers(),
		Cache:   newFakeCache(),
	})

	tools, _ := agg.Tools(context.Background(), "user-1", nil)
	require.Len(t, tools, 1)
	assert.Equal(t, "send_mail", tools[0].Name)
}

func TestAllServersFailingYieldsEmptyList(t *testing.T) {
	agg := New(Options{
		Client: &mockClient{listFunc: func(string) ([]domain.ToolDescriptor, error) {
			return nil, errors.New("down")
		}},
		Servers: twoServers(),
		Cache:   newFakeCache(),
	})

	tools, _ := agg.Tools(context.Background(), "user-1", nil)
	assert.Empty(t, tools)
}

func TestDuplicateToolNamesKeepDistinctOrigins(t *testing.T) {
	agg := New(Options{
		Client: &mockClient{listFunc: func(string) ([]domain.ToolDescriptor, error) {
			return []domain.ToolDescriptor{{Name: "search"}}, nil
		}},
		Servers: twoServers(),
		Cache:   newFakeCache(),
	})

	tools, _ := agg.Tools(context.Background(), "user-1", nil)
	require.Len(t, tools, 2)

	// The same tool name from two servers stays two entries, told apart
	// by the owning server.
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "search", tools[1].Name)
	assert.Equal(t, "notes", tools[0].ServerID)
	assert.Equal(t, "mail", tools[1].ServerID)
}

// deadlineClient records whether each protocol call carried a deadline.
type deadlineClient struct {
	mu            sync.Mutex
	initDeadlines []bool
	listDeadlines []bool
}

func (c *deadlineClient) Initialize(ctx context.Context, _ string) bool {
	_, ok := ctx.Deadline()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initDeadlines = append(c.initDeadlines, ok)
	return true
}

func (c *deadlineClient) ListTools(ctx context.Context, _ string) ([]domain.ToolDescriptor, error) {
	_, ok := ctx.Deadline()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listDeadlines = append(c.listDeadlines, ok)
	return []domain.ToolDescriptor{{Name: "tool"}}, nil
}

func (c *deadlineClient) CallTool(context.Context, string, string, json.RawMessage) domain.ToolResult {
	return domain.Ok(nil)
}

func TestDiscoveryDeadlineCoversHandshakeAndList(t *testing.T) {
	client := &deadlineClient{}
	agg := New(Options{Client: client, Servers: twoServers(), Cache: newFakeCache()})

	agg.Tools(context.Background(), "user-1", nil)

	// A backend that swallows the handshake must still be cut off at the
	// discovery deadline, so initialize runs under one too.
	require.Len(t, client.initDeadlines, 2)
	require.Len(t, client.listDeadlines, 2)
	for i := range client.initDeadlines {
		assert.True(t, client.initDeadlines[i])
		assert.True(t, client.listDeadlines[i])
	}
}

func TestFanOutRunsEveryServerConcurrently(t *testing.T) {
	const n = 6
	servers := make([]domain.ServerDescriptor, 0, n)
	for i := 0; i < n; i++ {
		servers = append(servers, domain.ServerDescriptor{
			ID:          string(rune('a' + i)),
			EndpointURL: "http://backend/rpc",
			Enabled:     true,
		})
	}

	// Every list call parks on the barrier until all of them have
	// started; anything short of one worker per server deadlocks here.
	var barrier sync.WaitGroup
	barrier.Add(n)
	agg := New(Options{
		Client: &mockClient{listFunc: func(string) ([]domain.ToolDescriptor, error) {
			barrier.Done()
			barrier.Wait()
			return []domain.ToolDescriptor{{Name: "tool"}}, nil
		}},
		Servers: &mockServers{servers: servers},
		Cache:   newFakeCache(),
	})

	tools, _ := agg.Tools(context.Background(), "user-1", nil)
	assert.Len(t, tools, n)
}

func TestCacheHitSkipsFanOut(t *testing.T) {
	client := &mockClient{listFunc: toolsByEndpoint}
	cache := newFakeCache()
	agg := New(Options{Client: client, Servers: twoServers(), Cache: cache})

	first, cached := agg.Tools(context.Background(), "user-1", nil)
	second, cachedAgain := agg.Tools(context.Background(), "user-1", nil)
	assert.Equal(t, first, second)
	assert.False(t, cached)
	assert.True(t, cachedAgain)

	// The fan-out initializes each server exactly once across both calls.
	assert.Len(t, client.initialized, 2)
	assert.Equal(t, 1, cache.puts)
}

func TestExplicitCredentialsBypassCacheAndDistribute(t *testing.T) {
	client := &mockClient{listFunc: toolsByEndpoint}
	cache := newFakeCache()
	pusher := &mockPusher{}
	agg := New(Options{
		Client:      client,
		Servers:     twoServers(),
		Distributor: pusher,
		Resolver:    passthroughResolver{},
		Cache:       cache,
	})

	// Prime the cache without credentials: nothing distributed.
	agg.Tools(context.Background(), "user-1", nil)
	assert.Empty(t, pusher.pushed)

	creds := &domain.Credentials{AccountID: "a", Username: "u", Secret: "s"}
	agg.Tools(context.Background(), "user-1", creds)

	// Fresh credentials force a second fan-out with distribution first.
	assert.Len(t, client.initialized, 4)
	assert.ElementsMatch(t, []string{"notes", "mail"}, pusher.pushed)
}

func TestAnonymousCallerNeverTouchesCache(t *testing.T) {
	client := &mockClient{listFunc: toolsByEndpoint}
	cache := newFakeCache()
	agg := New(Options{Client: client, Servers: twoServers(), Cache: cache})

	tools, cached := agg.Tools(context.Background(), "", nil)
	require.Len(t, tools, 3)
	assert.False(t, cached)

	// Every anonymous call fans out again and nothing is stored.
	agg.Tools(context.Background(), "", nil)
	assert.Len(t, client.initialized, 4)
	assert.Equal(t, 0, cache.puts)
}

func TestInvalidateDropsCachedEntry(t *testing.T) {
	client := &mockClient{listFunc: toolsByEndpoint}
	cache := newFakeCache()
	agg := New(Options{Client: client, Servers: twoServers(), Cache: cache})

	agg.Tools(context.Background(), "user-1", nil)
	agg.Invalidate("user-1")
	agg.Tools(context.Background(), "user-1", nil)

	assert.Len(t, client.initialized, 4)
}

func TestAdaptDropsVanishedServers(t *testing.T) {
	servers := twoServers()
	agg := New(Options{Client: &mockClient{listFunc: toolsByEndpoint}, Servers: servers, Cache: newFakeCache()})

	tools, _ := agg.Tools(context.Background(), "user-1", nil)
	require.Len(t, tools, 3)

	// Mail disappears from the registry between discovery and adaptation.
	servers.servers = servers.servers[:1]

	adapted := agg.Adapt(tools)
	require.Len(t, adapted, 2)
	for _, tool := range adapted {
		assert.Equal(t, "notes", tool.ServerID())
	}
}
