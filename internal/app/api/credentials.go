package api

import (
	"errors"
	"net/http"

	"toolgate/internal/domain"
)

// credentialView is the read shape of a stored profile. The secret never
// leaves the gateway; only its presence is reported.
type credentialView struct {
	AccountID    string `json:"accountId"`
	Username     string `json:"username"`
	ProfileLabel string `json:"profileLabel,omitempty"`
	HasSecret    bool   `json:"hasSecret"`
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentials.Get(userFrom(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialView{
		AccountID:    creds.AccountID,
		Username:     creds.Username,
		ProfileLabel: creds.ProfileLabel,
		HasSecret:    creds.Secret != "",
	})
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !creds.Complete() {
		writeError(w, s.logger, domain.E(domain.CodeInvalidArgument, "api.credentials",
			"accountId, username and secret are required", nil))
		return
	}
	userID := userFrom(r.Context())
	if err := s.credentials.Save(userID, creds); err != nil {
		writeError(w, s.logger, err)
		return
	}
	// Stored credentials change what the backends expose to this user.
	s.tools.Invalidate(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	if err := s.credentials.Delete(userID); err != nil && !errors.Is(err, domain.ErrCredentialsNotFound) {
		writeError(w, s.logger, err)
		return
	}
	s.tools.Invalidate(userID)
	w.WriteHeader(http.StatusNoContent)
}
