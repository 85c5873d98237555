// Package credentials resolves backend integration profiles and pushes
// them to the servers that need them before tool calls are issued.
package credentials

import (
	"context"
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// ToolCaller dispatches the credential-setting tool call.
type ToolCaller interface {
	CallTool(ctx context.Context, endpoint, name string, args json.RawMessage) domain.ToolResult
}

// ToolTable maps a server id to its credential-setting tool name. Servers
// absent from the table are skipped silently.
type ToolTable interface {
	CredentialTool(serverID string) (string, bool)
}

// Distributor pushes per-user (or environment-default) credentials into
// backend servers. All distribution is best-effort: failures are logged
// with server id and profile label, never raised, and never block
// discovery.
type Distributor struct {
	caller ToolCaller
	table  ToolTable
	logger *zap.Logger
}

func NewDistributor(caller ToolCaller, table ToolTable, logger *zap.Logger) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{
		caller: caller,
		table:  table,
		logger: logger.Named("credentials"),
	}
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Snapshot() domain.GatewayConfig
}

// Resolver binds Resolve to the live configuration, so env var names
// follow config reloads.
type Resolver struct {
	source ConfigSource
}

func NewResolver(source ConfigSource) *Resolver {
	return &Resolver{source: source}
}

func (r *Resolver) Resolve(explicit *domain.Credentials) (domain.Credentials, bool) {
	return Resolve(explicit, r.source.Snapshot().Credentials)
}

// Resolve picks the profile to distribute. Explicit per-user credentials
// always win; environment defaults apply only when absent and only when
// account id, username and secret are all present.
func Resolve(explicit *domain.Credentials, cfg domain.CredentialConfig) (domain.Credentials, bool) {
	if explicit != nil {
		return *explicit, true
	}
	defaults := domain.Credentials{
		AccountID:    os.Getenv(cfg.AccountIDEnv),
		Username:     os.Getenv(cfg.UsernameEnv),
		Secret:       os.Getenv(cfg.SecretEnv),
		ProfileLabel: os.Getenv(cfg.ProfileEnv),
	}
	if !defaults.Complete() {
		return domain.Credentials{}, false
	}
	return defaults, true
}

// Distribute sends creds to one server under the credential deadline.
// Returns true when the backend acknowledged the call; false is
// informational only.
func (d *Distributor) Distribute(ctx context.Context, server domain.ServerDescriptor, creds domain.Credentials) bool {
	toolName, ok := d.table.CredentialTool(server.ID)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, domain.CredentialTimeout)
	defer cancel()

	args, err := json.Marshal(map[string]string{
		"account_id":   creds.AccountID,
		"username":     creds.Username,
		"api_token":    creds.Secret,
		"profile_name": creds.ProfileLabel,
	})
	if err != nil {
		d.logger.Warn("credential payload marshal failed",
			zap.String("server", server.ID), zap.String("profile", creds.ProfileLabel))
		return false
	}

	result := d.caller.CallTool(ctx, server.EndpointURL, toolName, args)
	if result.IsErr() {
		// The error message from a backend may echo request fields; log
		// only our own context, never the message verbatim alongside it.
		d.logger.Warn("credential distribution failed",
			zap.String("server", server.ID),
			zap.String("profile", creds.ProfileLabel),
			zap.String("tool", toolName))
		return false
	}
	d.logger.Info("credentials distributed",
		zap.String("server", server.ID), zap.Object("credentials", creds))
	return true
}
