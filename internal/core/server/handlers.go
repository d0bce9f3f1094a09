package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lunaform/switchboard/internal/core/auth"
	"github.com/lunaform/switchboard/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tenants": s.registry.Tenants(),
	})
}

// handlePublishEvent accepts an event draft and enqueues it. 202: the
// response acknowledges intake, not evaluation.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var draft types.EventDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body: "+err.Error())
		return
	}
	if draft.Name == "" || draft.Group == "" || draft.Source == "" {
		writeError(w, http.StatusBadRequest, "name, group and source are required")
		return
	}

	// Under signature enforcement the event is pinned to the tenant whose
	// secret signed the request. A draft naming another tenant is rejected;
	// a tenant-less draft is scoped to the signer, so signed producers
	// cannot broadcast across tenants.
	if s.verifier != nil && s.verifier.Required() {
		signer, ok := auth.TenantFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated event")
			return
		}
		switch draft.Tenant {
		case "", signer:
			draft.Tenant = signer
		default:
			writeError(w, http.StatusForbidden, "event tenant does not match signing tenant")
			return
		}
	}

	ev, err := s.router.Publish(draft)
	if err != nil {
		if errors.Is(err, types.ErrRouterClosed) {
			writeError(w, http.StatusServiceUnavailable, "router is shutting down")
			return
		}
		if errors.Is(err, types.ErrQueueFull) {
			writeError(w, http.StatusTooManyRequests, "event queue full, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        ev.ID,
		"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	engine, err := s.registry.Engine(tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.RuleDocument{Rules: engine.Rules()})
}

// handlePutRules replaces the tenant's whole rule document. Validation
// failures reject the entire document; there is no partial apply.
func (s *Server) handlePutRules(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var doc types.RuleDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule document: "+err.Error())
		return
	}

	engine, err := s.registry.Engine(tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := engine.SaveRules(r.Context(), doc.Rules); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, types.RuleDocument{Rules: engine.Rules()})
}

// handleDeleteRules clears the tenant's rule document.
func (s *Server) handleDeleteRules(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	engine, err := s.registry.Engine(tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := engine.SaveRules(r.Context(), nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	engine, err := s.registry.Engine(tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := engine.LoadRules(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": len(engine.Rules())})
}

type indexedEvent struct {
	EventID          string `db:"event_id" json:"eventId"`
	TenantID         string `db:"tenant_id" json:"tenant"`
	Name             string `db:"name" json:"name"`
	Group            string `db:"grp" json:"group"`
	Source           string `db:"source" json:"source"`
	Topic            string `db:"topic" json:"topic,omitempty"`
	CorrelationID    string `db:"correlation_id" json:"correlationId,omitempty"`
	ReceivedAt       string `db:"received_at" json:"receivedAt"`
	JSONLFile        string `db:"jsonl_file" json:"jsonlFile"`
	MatchedRuleCount int    `db:"matched_rule_count" json:"matchedRuleCount"`
	CreatedAt        string `db:"created_at" json:"createdAt"`
}

// handleListIndexedEvents serves the database mirror of the triggered
// event log. 404 when no database is configured; the JSONL files are
// then the only record.
func (s *Server) handleListIndexedEvents(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusNotFound, "event index requires a database")
		return
	}
	tenant := chi.URLParam(r, "tenant")

	limit := 100
	var rows []indexedEvent
	if err := s.queries.SelectContext(r.Context(), "select-events-by-tenant", &rows, tenant, limit); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	// Total lets clients see how much history the page of rows covers.
	var total int
	if err := s.queries.GetContext(r.Context(), "count-events-by-tenant", &total, tenant); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": rows, "total": total})
}
