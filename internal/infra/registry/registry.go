// Package registry resolves the set of backend tool servers from
// configuration. Resolution happens on every call so config reloads and
// endpoint env vars take effect without a restart.
package registry

import (
	"os"

	"toolgate/internal/domain"
)

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Snapshot() domain.GatewayConfig
}

type Registry struct {
	source ConfigSource
}

func New(source ConfigSource) *Registry {
	return &Registry{source: source}
}

// Servers returns every configured server, endpoint env vars resolved.
func (r *Registry) Servers() []domain.ServerDescriptor {
	cfg := r.source.Snapshot()
	out := make([]domain.ServerDescriptor, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, describe(s))
	}
	return out
}

// EnabledServers returns servers that are enabled and have a non-empty
// endpoint after env resolution.
func (r *Registry) EnabledServers() []domain.ServerDescriptor {
	all := r.Servers()
	out := make([]domain.ServerDescriptor, 0, len(all))
	for _, s := range all {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// ServerByID looks up one server descriptor.
func (r *Registry) ServerByID(id string) (domain.ServerDescriptor, bool) {
	for _, s := range r.Servers() {
		if s.ID == id {
			return s, true
		}
	}
	return domain.ServerDescriptor{}, false
}

// CredentialTool returns the per-server credential-setting tool name, if
// the server declares one.
func (r *Registry) CredentialTool(serverID string) (string, bool) {
	cfg := r.source.Snapshot()
	for _, s := range cfg.Servers {
		if s.ID == serverID && s.CredentialTool != "" {
			return s.CredentialTool, true
		}
	}
	return "", false
}

func describe(s domain.ServerConfig) domain.ServerDescriptor {
	endpoint := s.Endpoint
	if s.EndpointEnv != "" {
		if env := os.Getenv(s.EndpointEnv); env != "" {
			endpoint = env
		}
	}
	return domain.ServerDescriptor{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		EndpointURL: endpoint,
		Description: s.Description,
		Enabled:     s.Enabled,
		Icon:        s.Icon,
		BadgeColor:  s.BadgeColor,
	}
}
