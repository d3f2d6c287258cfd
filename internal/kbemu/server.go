package kbemu

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aistant/aistdoc/internal/kbclient"
	"go.uber.org/zap"
)

type ServerConfig struct {
	// Users maps usernames to passwords accepted by the token endpoint.
	Users        map[string]string
	TokenTTL     time.Duration
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Server exposes a Store over the same HTTP routes the publishing client
// talks to, plus a password-grant token endpoint and a read-only HTML
// dashboard.
type Server struct {
	store  *Store
	cfg    ServerConfig
	tokens *tokenIssuer
	logger *zap.Logger
}

func NewServer(store *Store, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:  store,
		cfg:    cfg,
		tokens: newTokenIssuer(cfg.Users, cfg.TokenTTL, store.now),
		logger: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/connect/token" && r.Method == http.MethodPost {
		s.handleToken(w, r)
		return
	}
	if r.URL.Path == "/dashboard" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	correlationID := getCorrelationID(r)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	var route string
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "stats" && r.Method == http.MethodGet:
		route = "stats"
	case len(parts) == 5 && parts[0] == "1.0" && parts[1] == "public" && parts[3] == "kbs" && r.Method == http.MethodGet:
		route = "knowledge_base"
	case len(parts) == 5 && parts[0] == "1.0" && parts[1] == "docs" && parts[2] == "index" && parts[4] == "all" && r.Method == http.MethodGet:
		route = "tree"
	case len(parts) == 2 && parts[0] == "1.0" && parts[1] == "articles" && r.Method == http.MethodPost:
		route = "create"
	case len(parts) == 3 && parts[0] == "1.0" && parts[1] == "articles" && parts[2] == "uri" && r.Method == http.MethodGet:
		route = "by_uri"
	case len(parts) == 3 && parts[0] == "1.0" && parts[1] == "articles" && r.Method == http.MethodGet:
		route = "by_id"
	case len(parts) == 4 && parts[0] == "1.0" && parts[1] == "articles" && parts[3] == "versions" && r.Method == http.MethodPost:
		route = "add_version"
	case len(parts) == 4 && parts[0] == "1.0" && parts[1] == "articles" && parts[3] == "versions" && r.Method == http.MethodGet:
		route = "list_versions"
	case len(parts) == 4 && parts[0] == "1.0" && parts[1] == "articles" && parts[3] == "publish" && r.Method == http.MethodPost:
		route = "publish"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if _, authErr := s.tokens.authorizeBearer(r.Header.Get("Authorization")); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}

	switch route {
	case "stats":
		writeJSON(w, http.StatusOK, s.store.Stats())
	case "knowledge_base":
		kb, ok := s.store.KnowledgeBase(parts[2], parts[4])
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "knowledge base not found", correlationID)
			return
		}
		writeJSON(w, http.StatusOK, kb)
	case "tree":
		s.handleTree(w, parts[3], correlationID)
	case "create":
		s.handleCreate(w, r, correlationID)
	case "by_uri":
		query := r.URL.Query()
		node, ok := s.store.NodeByURI(query.Get("kb"), query.Get("uri"))
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "node not found", correlationID)
			return
		}
		writeJSON(w, http.StatusOK, node)
	case "by_id":
		node, err := s.store.NodeByID(parts[2])
		if err != nil {
			s.writeStoreError(w, err, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, node)
	case "add_version":
		s.handleAddVersion(w, r, parts[2], correlationID)
	case "list_versions":
		versions, err := s.store.Versions(parts[2])
		if err != nil {
			s.writeStoreError(w, err, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": versions})
	case "publish":
		node, err := s.store.Publish(parts[2])
		if err != nil {
			s.writeStoreError(w, err, correlationID)
			return
		}
		s.logger.Debug("node published", zap.String("id", node.ID), zap.Int("pubVersion", node.PubVersion))
		writeJSON(w, http.StatusOK, node)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	token, ttl, ok := s.tokens.issue(r.PostForm.Get("username"), r.PostForm.Get("password"))
	if !ok {
		s.logger.Warn("token request rejected", zap.String("username", r.PostForm.Get("username")))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(ttl.Seconds()),
	})
}

func (s *Server) handleTree(w http.ResponseWriter, moniker, correlationID string) {
	docs, err := s.store.Tree(moniker)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, kbclient.DocumentPage{
		Page:  1,
		Count: len(docs),
		Total: len(docs),
		Items: docs,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var node kbclient.Node
	if !s.decodeJSONBody(w, r, correlationID, &node) {
		return
	}
	created, err := s.store.Create(node)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAddVersion(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	var payload kbclient.Node
	if !s.decodeJSONBody(w, r, correlationID, &payload) {
		return
	}
	if payload.ID != "" && payload.ID != id {
		writeError(w, http.StatusBadRequest, "bad_request", "node id does not match path", correlationID)
		return
	}
	revised, err := s.store.Revise(id, payload)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, revised)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), correlationID)
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	default:
		s.logger.Error("emulator request failed", zap.Error(err), zap.String("correlationId", correlationID))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error", correlationID)
	}
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", correlationID)
		return false
	}
	return true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
