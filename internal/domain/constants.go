package domain

import "time"

const (
	// ProtocolVersion is the JSON-RPC handshake version advertised to backends.
	ProtocolVersion = "2024-11-05"

	ClientName    = "toolgate"
	ClientVersion = "1.0.0"

	// DiscoveryTimeout bounds each per-server tools/list call.
	DiscoveryTimeout = 10 * time.Second
	// InvocationTimeout bounds each tools/call.
	InvocationTimeout = 30 * time.Second
	// CredentialTimeout bounds the credential-setting tool call.
	CredentialTimeout = 10 * time.Second

	// DiscoveryCacheTTL is how long a cached per-user tool list stays valid.
	DiscoveryCacheTTL = 5 * time.Minute

	// MaxModelSteps limits model/tool round-trips within one turn.
	MaxModelSteps = 5

	DefaultListenAddress              = "0.0.0.0:8080"
	DefaultObservabilityListenAddress = "0.0.0.0:9090"
)

// TimeoutErrMessage is the fixed payload returned when a tool call exceeds
// its deadline, so callers and tests can assert on it.
const TimeoutErrMessage = "timeout: tool took too long"
