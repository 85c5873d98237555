package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Loader reads and normalizes the gateway YAML config.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newGatewayViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("listenAddress", domain.DefaultListenAddress)
	v.SetDefault("storePath", "toolgate.db")
	v.SetDefault("model.provider", "openai")
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	return v
}

type rawConfig struct {
	ListenAddress string                 `mapstructure:"listenAddress"`
	StorePath     string                 `mapstructure:"storePath"`
	Servers       []rawServerConfig      `mapstructure:"servers"`
	Credentials   rawCredentialConfig    `mapstructure:"credentials"`
	Model         rawModelConfig         `mapstructure:"model"`
	Auth          rawAuthConfig          `mapstructure:"auth"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
}

type rawServerConfig struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Endpoint       string `mapstructure:"endpoint"`
	EndpointEnv    string `mapstructure:"endpointEnv"`
	Description    string `mapstructure:"description"`
	Enabled        bool   `mapstructure:"enabled"`
	Icon           string `mapstructure:"icon"`
	Color          string `mapstructure:"color"`
	CredentialTool string `mapstructure:"credentialTool"`
}

type rawCredentialConfig struct {
	AccountIDEnv string `mapstructure:"accountIdEnv"`
	UsernameEnv  string `mapstructure:"usernameEnv"`
	SecretEnv    string `mapstructure:"secretEnv"`
	ProfileEnv   string `mapstructure:"profileEnv"`
}

type rawModelConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"apiKey"`
	APIKeyEnvVar string `mapstructure:"apiKeyEnvVar"`
	BaseURL      string `mapstructure:"baseURL"`
	SystemPrompt string `mapstructure:"systemPrompt"`
}

type rawAuthConfig struct {
	Tokens map[string]string `mapstructure:"tokens"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

// Load reads, expands, and validates the config file at path.
func (l *Loader) Load(ctx context.Context, path string) (domain.GatewayConfig, error) {
	if path == "" {
		return domain.GatewayConfig{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.GatewayConfig{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandEnv(data)
	if err != nil {
		return domain.GatewayConfig{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newGatewayViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.GatewayConfig{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.GatewayConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.GatewayConfig{}, err
	}

	return normalize(raw)
}

func normalize(raw rawConfig) (domain.GatewayConfig, error) {
	var problems []string

	servers := make([]domain.ServerConfig, 0, len(raw.Servers))
	seen := make(map[string]struct{}, len(raw.Servers))
	for i, s := range raw.Servers {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			problems = append(problems, fmt.Sprintf("servers[%d]: id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("servers[%d]: duplicate id %q", i, id))
			continue
		}
		seen[id] = struct{}{}
		servers = append(servers, domain.ServerConfig{
			ID:             id,
			DisplayName:    orDefault(s.Name, id),
			Endpoint:       strings.TrimSpace(s.Endpoint),
			EndpointEnv:    strings.TrimSpace(s.EndpointEnv),
			Description:    s.Description,
			Enabled:        s.Enabled,
			Icon:           s.Icon,
			BadgeColor:     s.Color,
			CredentialTool: strings.TrimSpace(s.CredentialTool),
		})
	}

	if len(problems) > 0 {
		return domain.GatewayConfig{}, errors.New(strings.Join(problems, "; "))
	}

	return domain.GatewayConfig{
		ListenAddress: raw.ListenAddress,
		StorePath:     raw.StorePath,
		Servers:       servers,
		Credentials: domain.CredentialConfig{
			AccountIDEnv: raw.Credentials.AccountIDEnv,
			UsernameEnv:  raw.Credentials.UsernameEnv,
			SecretEnv:    raw.Credentials.SecretEnv,
			ProfileEnv:   raw.Credentials.ProfileEnv,
		},
		Model: domain.ModelConfig{
			Provider:     raw.Model.Provider,
			Model:        raw.Model.Model,
			APIKey:       raw.Model.APIKey,
			APIKeyEnvVar: raw.Model.APIKeyEnvVar,
			BaseURL:      raw.Model.BaseURL,
			SystemPrompt: raw.Model.SystemPrompt,
		},
		Auth: domain.AuthConfig{
			Tokens: raw.Auth.Tokens,
		},
		Observability: domain.ObservabilityConfig{
			ListenAddress: raw.Observability.ListenAddress,
		},
	}, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
