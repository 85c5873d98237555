// Package api exposes the gateway's HTTP surface: tool discovery, chat
// turns with server-sent event streaming, stream resumption, conversation
// management, and credential storage.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/app/orchestrator"
	"toolgate/internal/domain"
)

// ToolService supplies aggregated tools and cache control.
type ToolService interface {
	Tools(ctx context.Context, userID string, explicit *domain.Credentials) (tools []domain.OriginTaggedTool, cached bool)
	Invalidate(userID string)
}

// TurnRunner starts a conversational turn.
type TurnRunner interface {
	StreamTurn(ctx context.Context, req orchestrator.TurnRequest) (<-chan domain.StreamEvent, error)
}

// StreamResumer replays a live turn's events for a late subscriber.
type StreamResumer interface {
	Resume(conversationID string) (<-chan domain.StreamEvent, func(), error)
	Drop(conversationID string)
}

// ConversationReader serves and deletes persisted conversations.
type ConversationReader interface {
	Get(id string) (domain.Conversation, error)
	ListByUser(userID string) ([]domain.Conversation, error)
	Messages(conversationID string) ([]domain.Message, error)
	Delete(id string) error
}

// CredentialStore persists one credential profile per user.
type CredentialStore interface {
	Save(userID string, creds domain.Credentials) error
	Get(userID string) (domain.Credentials, error)
	Delete(userID string) error
}

type Server struct {
	tools         ToolService
	turns         TurnRunner
	streams       StreamResumer
	conversations ConversationReader
	credentials   CredentialStore
	auth          Authenticator
	logger        *zap.Logger
}

type Options struct {
	Tools         ToolService
	Turns         TurnRunner
	Streams       StreamResumer
	Conversations ConversationReader
	Credentials   CredentialStore
	Auth          Authenticator
	Logger        *zap.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Tools == nil || opts.Turns == nil || opts.Conversations == nil {
		return nil, errors.New("tools, turns and conversations are required")
	}
	if opts.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		tools:         opts.Tools,
		turns:         opts.Turns,
		streams:       opts.Streams,
		conversations: opts.Conversations,
		credentials:   opts.Credentials,
		auth:          opts.Auth,
		logger:        logger.Named("api"),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Tool listing works without a session; only authenticated users get
	// the per-user cache.
	mux.HandleFunc("GET /api/tools", s.optionalAuth(s.handleListTools))
	mux.HandleFunc("POST /api/tools/invalidate", s.requireAuth(s.handleInvalidateTools))

	mux.HandleFunc("POST /api/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /api/chat/{id}/stream", s.requireAuth(s.handleResume))
	mux.HandleFunc("DELETE /api/chat/{id}", s.requireAuth(s.handleDeleteConversation))

	mux.HandleFunc("GET /api/conversations", s.requireAuth(s.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.requireAuth(s.handleListMessages))

	if s.credentials != nil {
		mux.HandleFunc("GET /api/credentials", s.requireAuth(s.handleGetCredentials))
		mux.HandleFunc("POST /api/credentials", s.requireAuth(s.handlePutCredentials))
		mux.HandleFunc("DELETE /api/credentials", s.requireAuth(s.handleDeleteCredentials))
	}

	return mux
}

// Start serves the API until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	if addr == "" {
		addr = domain.DefaultListenAddress
	}
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("api server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("api server shutdown error", zap.Error(err))
			return err
		}
		s.logger.Info("api server stopped")
		return nil
	}
}

// ownedConversation loads the conversation and verifies ownership. A
// foreign conversation is indistinguishable from a missing one.
func (s *Server) ownedConversation(r *http.Request, id string) (domain.Conversation, error) {
	conv, err := s.conversations.Get(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.UserID != userFrom(r.Context()) {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return conv, nil
}
