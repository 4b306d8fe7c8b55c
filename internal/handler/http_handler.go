package handler

import (
	"encoding/json"
	"net/http"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/logger"
	"github.com/craftdesk/be-workflow-core/internal/policy"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

// HTTPHandler exposes the policy and workflow operations over HTTP. Identity
// is taken from headers set by the authentication middleware upstream; this
// service never authenticates.
type HTTPHandler struct {
	catalog *policy.Catalog
	manager *workflow.Manager
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(catalog *policy.Catalog, manager *workflow.Manager, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		catalog: catalog,
		manager: manager,
		log:     log,
	}
}

// caller resolves the acting identity from request headers.
func caller(r *http.Request) (workflow.Actor, string) {
	return workflow.Actor{
		ID:   r.Header.Get("X-User-ID"),
		Role: workflow.Role(r.Header.Get("X-User-Role")),
	}, r.Header.Get("X-Tenant-ID")
}

// Evaluate handles POST /api/v1/policy/evaluate.
func (h *HTTPHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Action  string         `json:"action"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}

	actor, tenantID := caller(r)
	decision := h.catalog.Evaluate(policy.Context{
		TenantID: tenantID,
		UserID:   actor.ID,
		Role:     string(actor.Role),
		Action:   req.Action,
		Payload:  req.Payload,
	})

	writeJSON(w, http.StatusOK, decision)
}

// ReloadRules handles POST /api/v1/policy/reload. The swap is atomic;
// in-flight evaluations keep the previous catalog.
func (h *HTTPHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.catalog.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// RequestTransition handles POST /api/v1/workflow/transitions.
func (h *HTTPHandler) RequestTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntityType string         `json:"entity_type"`
		EntityID   string         `json:"entity_id"`
		ToState    string         `json:"to_state"`
		Meta       map[string]any `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.EntityID == "" || req.ToState == "" {
		writeError(w, apperr.InvalidInput("body", "entity_id and to_state are required"))
		return
	}

	actor, tenantID := caller(r)
	outcome, err := h.manager.RequestTransition(
		r.Context(), tenantID, workflow.EntityType(req.EntityType),
		req.EntityID, req.ToState, actor, req.Meta,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == workflow.OutcomePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

// Approve handles POST /api/v1/workflow/approvals.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
		Approved  *bool  `json:"approved"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.RequestID == "" || req.Approved == nil {
		writeError(w, apperr.InvalidInput("body", "request_id and approved are required"))
		return
	}

	actor, _ := caller(r)
	resolved, err := h.manager.Approve(r.Context(), req.RequestID, actor, *req.Approved, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// ListPending handles GET /api/v1/workflow/pending.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, tenantID := caller(r)
	pending, err := h.manager.ListPending(r.Context(), tenantID, actor.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": pending,
		"total":    len(pending),
	})
}

// GetHistory handles GET /api/v1/workflow/history.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		writeError(w, apperr.InvalidInput("query", "entity_type and entity_id are required"))
		return
	}

	_, tenantID := caller(r)
	entries, err := h.manager.History(r.Context(), tenantID, workflow.EntityType(entityType), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

// NextStates handles GET /api/v1/workflow/next-states.
func (h *HTTPHandler) NextStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		writeError(w, apperr.InvalidInput("query", "entity_type and entity_id are required"))
		return
	}

	actor, tenantID := caller(r)
	next, err := h.manager.NextStates(r.Context(), tenantID, workflow.EntityType(entityType), entityID, actor.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"next_states": next})
}

// ── response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"code":  string(apperr.CodeOf(err)),
		"error": err.Error(),
	})
}
