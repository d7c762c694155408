// Package rpc implements the JSON-RPC 2.0 server (spec §4.9, §6): bearer-
// token authentication, a table-driven method registry, and the HTTP
// surface (health, whoami, status, and the POST /api/nfs/{method} dispatch
// endpoint).
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/nexi-lab/nexus/pkg/apikey"
	"github.com/nexi-lab/nexus/pkg/appctx"
	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/fileservice"
	"github.com/nexi-lab/nexus/pkg/namespace"
	"github.com/nexi-lab/nexus/pkg/rebac"
	"github.com/nexi-lab/nexus/pkg/versioning"
)

// handlerFunc is one registry entry: given the authenticated caller and the
// method's raw params, it returns a JSON-marshalable result or an error
// mapError can translate.
type handlerFunc func(ctx *callContext, params json.RawMessage) (interface{}, error)

// callContext carries everything a handler needs from the request beyond
// its own params: the authenticated identity and the wired services.
type callContext struct {
	stdctx context.Context
	ident  appctx.Identity
	srv    *Server
}

// Server wires the domain services into the JSON-RPC method registry and
// serves the HTTP surface spec §4.9/§6 describe.
type Server struct {
	files   *fileservice.Service
	vers    *versioning.Service
	engine  *rebac.Engine
	keys    *apikey.Service
	router  *namespace.Router
	log     zerolog.Logger
	methods map[string]handlerFunc
	mux     *chi.Mux
}

// New constructs a Server and registers every method named in spec §6's
// method surface.
func New(files *fileservice.Service, vers *versioning.Service, engine *rebac.Engine, keys *apikey.Service, router *namespace.Router, log zerolog.Logger) *Server {
	s := &Server{files: files, vers: vers, engine: engine, keys: keys, router: router, log: log}
	s.methods = s.buildRegistry()
	s.mux = chi.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	s.mux.Use(corsMiddleware.Handler)

	s.mux.Get("/health", s.handleHealth)
	s.mux.Get("/api/auth/whoami", s.handleWhoami)
	s.mux.Get("/api/nfs/status", s.handleStatus)
	s.mux.Post("/api/nfs/{method}", s.handleRPC)
}

// Handler returns the server's http.Handler. The chi router itself stays
// unexported so callers can't reach past this method to mutate routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"method_count": len(s.methods),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(r, s.keys)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":    id.TenantID,
		"subject_type": id.SubjectType,
		"subject_id":   id.SubjectID,
		"is_admin":     id.IsAdmin,
		"key_id":       id.KeyID,
	})
}

// handleRPC dispatches POST /api/nfs/{method} to the registered handler.
// The method name is authoritative from the URL path; a mismatched
// body.method is rejected as INVALID_REQUEST rather than silently ignored.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	pathMethod := chi.URLParam(r, "method")

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, protocolErrorResponse(nil, codeParseError, "malformed json-rpc request: "+err.Error()))
		return
	}
	if req.Method != "" && req.Method != pathMethod {
		writeResponse(w, protocolErrorResponse(req.ID, codeInvalidRequest, "method in body does not match url path"))
		return
	}

	handler, ok := s.methods[pathMethod]
	if !ok {
		writeResponse(w, protocolErrorResponse(req.ID, codeMethodNotFound, "unknown method: "+pathMethod))
		return
	}

	id, err := authenticate(r, s.keys)
	if err != nil {
		writeResponse(w, errorResponse(req.ID, err))
		return
	}

	ctx := &callContext{stdctx: appctx.WithIdentity(r.Context(), id), ident: id, srv: s}
	result, err := handler(ctx, req.Params)
	if err != nil {
		writeResponse(w, errorResponse(req.ID, err))
		return
	}
	writeResponse(w, successResponse(req.ID, result))
}

// requireAdmin enforces spec §4.9's "admin_*_key operations require
// is_admin=true on the caller's key".
func requireAdmin(ctx *callContext) error {
	if !ctx.ident.IsAdmin {
		return errtypes.PermissionDenied("admin privileges required")
	}
	return nil
}

// writeResponse always answers 200; JSON-RPC carries its error code inside
// the envelope, not in the HTTP status line.
func writeResponse(w http.ResponseWriter, resp response) {
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
