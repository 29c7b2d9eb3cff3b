// Package web serves the runs API and pushes run events over a websocket.
package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/natsbus"
	"github.com/mtzanidakis/directorate/internal/pipeline"
	"github.com/mtzanidakis/directorate/internal/registry"
	"github.com/mtzanidakis/directorate/internal/store"
	"github.com/mtzanidakis/directorate/internal/vault"
	"github.com/nats-io/nats.go"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour
)

type Server struct {
	store     *store.Store
	pipeline  *pipeline.Pipeline
	registry  *registry.Registry
	secrets   *vault.Secrets
	bus       *natsbus.Bus
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	// runCtx outlives requests so runs started over HTTP keep going
	runCtx context.Context

	sessionMu sync.Mutex
	sessions  map[string]time.Time // token -> expiry
}

// NewServer wires the API. secrets and bus may be nil.
func NewServer(s *store.Store, p *pipeline.Pipeline, reg *registry.Registry, secrets *vault.Secrets, bus *natsbus.Bus, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		pipeline:  p,
		registry:  reg,
		secrets:   secrets,
		bus:       bus,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		runCtx:    context.Background(),
		sessions:  make(map[string]time.Time),
	}
}

// Handler returns the HTTP handler with auth and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	go s.hub.Run(ctx)

	if err := s.subscribeEvents(); err != nil {
		return err
	}
	defer func() {
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if r.URL.Path == "/api/login" || r.URL.Path == "/api/auth/check" {
				next.ServeHTTP(w, r)
				return
			}
			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth accepts a live session cookie or the configured password over
// basic auth.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.validSession(w, r) {
		return true
	}
	if _, pass, ok := r.BasicAuth(); ok && s.passwordMatches(pass) {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="directorate"`)
	jsonError(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) passwordMatches(pass string) bool {
	return subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1
}

// validSession refreshes and accepts an unexpired session cookie.
func (s *Server) validSession(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	expiry, ok := s.sessions[cookie.Value]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.sessions, cookie.Value)
		return false
	}
	s.sessions[cookie.Value] = time.Now().Add(sessionMaxAge)
	s.setSessionCookie(w, cookie.Value, int(sessionMaxAge.Seconds()))
	return true
}

func (s *Server) createSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionMu.Lock()
	s.sessions[token] = time.Now().Add(sessionMaxAge)
	s.sessionMu.Unlock()
	return token, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.passwordMatches(body.Password) {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.createSession()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, int(sessionMaxAge.Seconds()))
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionMu.Unlock()
	}
	s.setSessionCookie(w, "", -1)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.validSession(w, r) {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}
	jsonError(w, "unauthorized", http.StatusUnauthorized)
}

// subscribeEvents forwards every event topic to the websocket hub.
func (s *Server) subscribeEvents() error {
	if s.bus == nil {
		return nil
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		return fmt.Errorf("web nats client: %w", err)
	}
	s.nats = client

	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		if !json.Valid(msg.Data) {
			slog.Warn("invalid event payload", "topic", msg.Subject)
			return
		}
		s.hub.Broadcast(Event{Topic: msg.Subject, Data: json.RawMessage(msg.Data)})
	})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}
