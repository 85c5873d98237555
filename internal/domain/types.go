package domain

import (
	"encoding/json"
	"time"
)

// ServerDescriptor describes one backend tool server from the registry.
// Descriptors are built from configuration and immutable once returned.
type ServerDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	EndpointURL string `json:"endpointURL"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Icon        string `json:"icon,omitempty"`
	BadgeColor  string `json:"badgeColor,omitempty"`
}

// Active reports whether the server should participate in discovery.
// An empty endpoint disables the server regardless of the enabled flag.
func (s ServerDescriptor) Active() bool {
	return s.Enabled && s.EndpointURL != ""
}

// ToolDescriptor is a tool as declared by one backend server. The name is
// unique within a server only.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// OriginTaggedTool is a ToolDescriptor plus the provenance of the server it
// came from. Identity after aggregation is (ServerID, Name).
type OriginTaggedTool struct {
	ToolDescriptor
	ServerID          string `json:"serverId"`
	ServerDisplayName string `json:"serverName"`
	ServerBadgeColor  string `json:"serverColor,omitempty"`
}

// Credentials is one backend integration profile. The secret must never be
// logged or surfaced to the model; see credentials.go for the redacting
// marshalers.
type Credentials struct {
	AccountID    string `json:"accountId"`
	Username     string `json:"username"`
	Secret       string `json:"secret"`
	ProfileLabel string `json:"profileLabel,omitempty"`
}

// Complete reports whether the profile carries every field required for a
// credential push. Environment defaults are only applied when complete.
func (c Credentials) Complete() bool {
	return c.AccountID != "" && c.Username != "" && c.Secret != ""
}

// DiscoveryCacheEntry is one per-user row of aggregated discovery results.
type DiscoveryCacheEntry struct {
	UserID    string             `json:"userId"`
	Tools     []OriginTaggedTool `json:"tools"`
	CachedAt  time.Time          `json:"cachedAt"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e DiscoveryCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// StreamHandle identifies a resumable output stream for one conversation
// turn. A new turn supersedes the previous handle.
type StreamHandle struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageRole is the author of a persisted conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one persisted conversation message.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	Parts          json.RawMessage `json:"parts,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Conversation is the persisted container for a chat's messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
