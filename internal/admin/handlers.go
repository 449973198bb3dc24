package admin

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-agentops/internal/infra/auth"
	"go.uber.org/zap"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		http.Error(w, "scheduler is not running in this process", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) listSandbox(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sandbox == nil {
		http.Error(w, "sandbox manager is not configured", http.StatusServiceUnavailable)
		return
	}
	tenants := s.deps.Sandbox.Tenants()
	slices.Sort(tenants)
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

type sandboxRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setSandbox(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sandbox == nil {
		http.Error(w, "sandbox manager is not configured", http.StatusServiceUnavailable)
		return
	}
	tenantID := chi.URLParam(r, "id")

	var req sandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
		return
	}

	if err := s.deps.Sandbox.SetSandbox(r.Context(), tenantID, *req.Enabled); err != nil {
		s.logger.Error("failed to switch sandbox", zap.String("tenant_id", tenantID), zap.Error(err))
		http.Error(w, "failed to switch sandbox", http.StatusInternalServerError)
		return
	}

	s.logger.Info("sandbox switched by operator",
		zap.String("tenant_id", tenantID),
		zap.Bool("enabled", *req.Enabled),
		zap.String("operator", operator(r)))
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "sandbox": *req.Enabled})
}

type decisionRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	if s.deps.Decisions == nil {
		http.Error(w, "approval channel is not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		http.Error(w, `body must be {"approved": true|false}`, http.StatusBadRequest)
		return
	}

	if err := s.deps.Decisions.PublishDecision(r.Context(), id, *req.Approved); err != nil {
		s.logger.Error("failed to publish decision", zap.String("remediation_id", id), zap.Error(err))
		http.Error(w, "failed to publish decision", http.StatusInternalServerError)
		return
	}

	s.logger.Info("remediation decision published",
		zap.String("remediation_id", id),
		zap.Bool("approved", *req.Approved),
		zap.String("operator", operator(r)))
	w.WriteHeader(http.StatusAccepted)
}

func operator(r *http.Request) string {
	if c, ok := auth.ClaimsFrom(r.Context()); ok {
		return c.UserID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
