package api

import (
	"net/http"

	"toolgate/internal/domain"
)

type toolsResponse struct {
	Tools  []domain.OriginTaggedTool `json:"tools"`
	Cached bool                      `json:"cached"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())

	if userID != "" && r.URL.Query().Get("refresh") == "true" {
		s.tools.Invalidate(userID)
	}

	tools, cached := s.tools.Tools(r.Context(), userID, nil)
	if tools == nil {
		tools = []domain.OriginTaggedTool{}
	}

	w.Header().Set("Cache-Control", "private, max-age=60, stale-while-revalidate=120")
	writeJSON(w, http.StatusOK, toolsResponse{Tools: tools, Cached: cached})
}

func (s *Server) handleInvalidateTools(w http.ResponseWriter, r *http.Request) {
	s.tools.Invalidate(userFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
