package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mtzanidakis/directorate/internal/store"
	"github.com/mtzanidakis/directorate/internal/vault"
)

// Secret values are write-only over the API.

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	secrets, err := s.secrets.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Value == "" {
		jsonError(w, "value is required", http.StatusBadRequest)
		return
	}
	if err := s.secrets.Set(r.PathValue("name"), body.Description, body.Value); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.secrets.Delete(r.PathValue("name")); err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			jsonError(w, "secret not found", http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}
