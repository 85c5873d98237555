package domain

// GatewayConfig is the normalized configuration snapshot the process runs
// from. Loaded from YAML with env expansion; immutable once built.
type GatewayConfig struct {
	ListenAddress string
	StorePath     string

	Servers []ServerConfig

	Credentials CredentialConfig
	Model       ModelConfig
	Auth        AuthConfig

	Observability ObservabilityConfig
}

// ServerConfig is one registry entry from configuration. EndpointEnv, when
// set, names an environment variable that overrides (or supplies) the
// endpoint at read time.
type ServerConfig struct {
	ID             string
	DisplayName    string
	Endpoint       string
	EndpointEnv    string
	Description    string
	Enabled        bool
	Icon           string
	BadgeColor     string
	CredentialTool string
}

// CredentialConfig names the env vars consulted for environment-default
// credentials when no per-user profile exists.
type CredentialConfig struct {
	AccountIDEnv string
	UsernameEnv  string
	SecretEnv    string
	ProfileEnv   string
}

// ModelConfig configures the chat model behind the orchestrator.
type ModelConfig struct {
	Provider     string
	Model        string
	APIKey       string
	APIKeyEnvVar string
	BaseURL      string
	SystemPrompt string
}

// AuthConfig maps bearer tokens to user ids. Session issuance is owned by
// an external collaborator; this is the minimal static surface the gateway
// accepts directly.
type AuthConfig struct {
	Tokens map[string]string
}

type ObservabilityConfig struct {
	ListenAddress string
}
