package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/service"
)

type sanitizeRequest struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type matchResponse struct {
	Category    privacy.Category `json:"category"`
	Placeholder string           `json:"placeholder"`
	Start       int              `json:"start"`
	End         int              `json:"end"`
	Confidence  float64          `json:"confidence"`
}

type sanitizeResponse struct {
	SanitizedText string          `json:"sanitized_text"`
	Matches       []matchResponse `json:"matches"`
	MappingID     string          `json:"mapping_id,omitempty"`
	Persisted     bool            `json:"persisted"`
	Reason        string          `json:"reason,omitempty"`
	Warning       string          `json:"warning,omitempty"`
}

type reidentifyRequest struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	MappingID string `json:"mapping_id"`
	Text      string `json:"text"`
	Approved  bool   `json:"approved"`
}

type restoredResponse struct {
	Category    privacy.Category `json:"category"`
	Index       int              `json:"index"`
	Placeholder string           `json:"placeholder"`
	Start       int              `json:"start"`
	End         int              `json:"end"`
}

type reidentifyResponse struct {
	OriginalText string             `json:"original_text"`
	Matches      []restoredResponse `json:"matches"`
}

type catalogEntry struct {
	Category    privacy.Category `json:"category"`
	Description string           `json:"description"`
	Patterns    int              `json:"patterns"`
	Confidence  float64          `json:"confidence"`
	Enabled     bool             `json:"enabled"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// handleSanitize redacts the request text and stores its mapping.
// An empty mapping_id with no matches means there was nothing to redact.
// With matches, persisted is false and reason says why no mapping was kept,
// e.g. reidentification_not_allowed for tenants that never reverse redactions.
// Tenants in manual mode are redacted the same way, since calling the
// endpoint is the explicit request.
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		s.writeError(w, r, http.StatusBadRequest, "tenant_id is required")
		return
	}

	owner := privacy.OwnerScope{TenantID: req.TenantID, SessionID: req.SessionID}
	policy := s.tenants.Policy(req.TenantID)

	outcome, err := s.service.Sanitize(r.Context(), owner, req.Text, policy)

	var persistErr *service.PersistenceError
	if err != nil && !errors.As(err, &persistErr) {
		s.requestLogger(r).Error("Sanitize failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "sanitization failed")
		return
	}

	resp := sanitizeResponse{
		SanitizedText: outcome.Result.SanitizedText,
		Matches:       make([]matchResponse, 0, len(outcome.Result.Matches)),
		MappingID:     outcome.Result.MappingID,
		Persisted:     outcome.Persisted,
		Reason:        outcome.Reason,
	}
	for _, m := range outcome.Result.Matches {
		resp.Matches = append(resp.Matches, matchResponse{
			Category:    m.Category,
			Placeholder: m.Placeholder,
			Start:       m.Start,
			End:         m.End,
			Confidence:  m.Confidence,
		})
	}
	if persistErr != nil {
		resp.Warning = "mapping could not be stored; re-identification is unavailable for this result"
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleReidentify restores placeholders for an earlier sanitization
func (s *Server) handleReidentify(w http.ResponseWriter, r *http.Request) {
	var req reidentifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		s.writeError(w, r, http.StatusBadRequest, "tenant_id is required")
		return
	}

	owner := privacy.OwnerScope{TenantID: req.TenantID, SessionID: req.SessionID}
	policy := s.tenants.Policy(req.TenantID)

	result, err := s.service.Reidentify(r.Context(), owner, req.MappingID, req.Text, policy, req.Approved)
	switch {
	case errors.Is(err, service.ErrReidentificationNotAllowed), errors.Is(err, service.ErrApprovalRequired):
		s.writeError(w, r, http.StatusForbidden, err.Error())
		return
	case err != nil:
		s.requestLogger(r).Error("Reidentify failed", zap.Error(err))
		s.writeError(w, r, http.StatusServiceUnavailable, "mapping store unavailable")
		return
	}

	resp := reidentifyResponse{
		OriginalText: result.OriginalText,
		Matches:      make([]restoredResponse, 0, len(result.Matches)),
	}
	for _, m := range result.Matches {
		resp.Matches = append(resp.Matches, restoredResponse{
			Category:    m.Category,
			Index:       m.Index,
			Placeholder: m.Placeholder,
			Start:       m.Start,
			End:         m.End,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleCatalog lists the rules in evaluation order, flagged for the tenant's policy
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	policy := s.tenants.Policy(r.URL.Query().Get("tenant_id"))

	rules := s.service.Catalog().Rules()
	entries := make([]catalogEntry, 0, len(rules))
	for _, rule := range rules {
		entries = append(entries, catalogEntry{
			Category:    rule.Category,
			Description: rule.Category.Description(),
			Patterns:    len(rule.Patterns),
			Confidence:  rule.Confidence,
			Enabled:     policy.Mode != privacy.ModeDisabled && policy.Enabled(rule.Category),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":  policy.Mode,
		"rules": entries,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "phi-guard",
		"version":        Version,
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
		"default_mode":   s.config.PHI.Mode,
		"store_driver":   s.config.Store.Driver,
		"tenants":        s.tenants.Tenants(),
		"categories":     len(privacy.AllCategories),
		"audit_stream":   s.wsHub != nil,
		"rate_limit_rpm": s.config.Security.RateLimit.RequestsPerMin,
	})
}

// decode reads a JSON body, writing the error response itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err == nil {
		if _, extra := dec.Token(); extra != io.EOF {
			err = errors.New("request body must contain a single JSON object")
		}
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, io.EOF):
		s.writeError(w, r, http.StatusBadRequest, "request body is empty")
	default:
		// Decoder errors can quote input; keep only the type of failure.
		msg := "invalid JSON body"
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			msg = err.Error()
		}
		s.writeError(w, r, http.StatusBadRequest, msg)
	}
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID(r.Context())})
}
