package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/recourse/internal/audit"
	"github.com/dativo-io/recourse/internal/complaint"
	"github.com/dativo-io/recourse/internal/llm"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	if s.memoryStore == nil {
		components["memory_store"] = "disabled"
	} else {
		components["memory_store"] = "ok"
	}
	if s.auditStore == nil {
		components["audit_store"] = "disabled"
	} else {
		components["audit_store"] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"components": components,
	})
}

// caseResponse is the customer-safe view of a finished case: only the
// guard-approved email draft and structured outcome fields, never the
// raw inbound email or internal scores.
type caseResponse struct {
	CaseID            string                       `json:"case_id"`
	Status            complaint.CaseStatus         `json:"status"`
	Decision          complaint.Decision           `json:"decision"`
	HITLRequired      bool                         `json:"hitl_required"`
	HITLReason        string                       `json:"hitl_reason,omitempty"`
	ResponseSubject   string                       `json:"response_subject"`
	ResponseBody      string                       `json:"response_body"`
	ToolActions       []complaint.ToolActionRecord `json:"tool_actions"`
	CaseSummary       string                       `json:"case_summary"`
	OutputGuardPassed bool                         `json:"output_guard_passed"`
	SecurityEvents    []string                     `json:"security_events"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var input complaint.CaseInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	rec, err := complaint.NewCaseRecord(input)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_case", err.Error())
		return
	}

	if err := s.pipeline.Run(r.Context(), rec); err != nil {
		log.Error().Err(err).Str("case_id", input.CaseID).Msg("case pipeline failed")
		switch {
		case errors.Is(err, llm.ErrProviderCall):
			writeError(w, http.StatusBadGateway, "provider_unavailable", "Model provider call failed")
		case errors.Is(err, complaint.ErrInvalidState):
			writeError(w, http.StatusUnprocessableEntity, "invalid_case", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", "Case processing failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, caseResponse{
		CaseID:            rec.Input.CaseID,
		Status:            rec.Finalize.Status,
		Decision:          rec.Resolution.Decision,
		HITLRequired:      rec.Resolution.HITLRequired,
		HITLReason:        rec.Resolution.HITLReason,
		ResponseSubject:   rec.Resolution.ResponseSubject,
		ResponseBody:      rec.Resolution.ResponseBody,
		ToolActions:       rec.Resolution.ToolActions,
		CaseSummary:       rec.Finalize.CaseSummary,
		OutputGuardPassed: rec.OutputGuardPassed,
		SecurityEvents:    rec.SecurityEvents,
	})
}

func (s *Server) handleCaseAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_disabled", "Audit store is not configured")
		return
	}
	caseID := chi.URLParam(r, "caseID")

	record, err := s.auditStore.Get(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, audit.ErrAuditNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "No audit record for case "+caseID)
			return
		}
		log.Error().Err(err).Str("case_id", caseID).Msg("reading audit record")
		writeError(w, http.StatusInternalServerError, "internal", "Audit lookup failed")
		return
	}
	valid, err := s.auditStore.Verify(r.Context(), caseID)
	if err != nil {
		log.Error().Err(err).Str("case_id", caseID).Msg("verifying audit record")
		writeError(w, http.StatusInternalServerError, "internal", "Audit verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audit":           record,
		"signature_valid": valid,
	})
}

func (s *Server) handleCustomerMemory(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		writeError(w, http.StatusServiceUnavailable, "memory_disabled", "Memory store is not configured")
		return
	}
	customerID := chi.URLParam(r, "customerID")

	view, err := s.memoryStore.CustomerView(r.Context(), customerID, 20)
	if err != nil {
		log.Error().Err(err).Str("customer_id", customerID).Msg("reading customer memory")
		writeError(w, http.StatusInternalServerError, "internal", "Memory lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}
