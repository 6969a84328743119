package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/config"
)

type Server struct {
	cfg       *config.Config
	sandboxes SandboxService
	registry  SandboxRegistry
	logger    *zap.Logger
	mux       *http.ServeMux
}

func NewServer(cfg *config.Config, svc SandboxService, reg SandboxRegistry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		sandboxes: svc,
		registry:  reg,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1/pool", s.handleGetPool)
	s.mux.HandleFunc("PUT /v1/pool/config", s.handleUpdatePoolConfig)

	s.mux.HandleFunc("GET /v1/sandboxes", s.handleListSandboxes)
	s.mux.HandleFunc("GET /v1/sandboxes/{key}", withSandboxKey(s.handleGetSandbox))
	s.mux.HandleFunc("POST /v1/sandboxes/{key}/exec", withSandboxKey(s.handleExec))

	// Health check (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
