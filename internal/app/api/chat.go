package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"toolgate/internal/app/orchestrator"
	"toolgate/internal/domain"
)

type chatRequest struct {
	ConversationID string              `json:"conversationId,omitempty"`
	MessageID      string              `json:"messageId,omitempty"`
	Content        string              `json:"content"`
	Credentials    *domain.Credentials `json:"credentials,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	userID := userFrom(r.Context())

	creds := req.Credentials
	if creds == nil && s.credentials != nil {
		if stored, err := s.credentials.Get(userID); err == nil {
			creds = &stored
		}
	}

	events, err := s.turns.StreamTurn(r.Context(), orchestrator.TurnRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Content:        req.Content,
		Credentials:    creds,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.streamEvents(w, r, events); err != nil {
		s.logger.Warn("chat stream interrupted", zap.Error(err))
		// The turn keeps running for resumed clients; keep its event
		// channel drained so the loop never blocks on a dead connection.
		go func() {
			for range events {
			}
		}()
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeError(w, s.logger, domain.ErrBrokerUnavailable)
		return
	}
	id := r.PathValue("id")
	if _, err := s.ownedConversation(r, id); err != nil {
		writeError(w, s.logger, err)
		return
	}

	events, cancel, err := s.streams.Resume(id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer cancel()

	if err := s.streamEvents(w, r, events); err != nil {
		s.logger.Warn("resumed stream interrupted", zap.Error(err))
	}
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.ownedConversation(r, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.conversations.Delete(id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if s.streams != nil {
		s.streams.Drop(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.conversations.ListByUser(userFrom(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.ownedConversation(r, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	messages, err := s.conversations.Messages(id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// streamEvents writes the event channel as server-sent events until the
// channel closes or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan domain.StreamEvent) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, s.logger, errStreamingUnsupported)
		return errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, open := <-events:
			if !open {
				_, err := fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return err
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
		case <-r.Context().Done():
			return errors.New("client disconnected")
		}
	}
}
