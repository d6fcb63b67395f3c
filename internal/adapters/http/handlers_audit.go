package web

import (
	"net/http"
	"strconv"
	"time"

	auditStore "leadmailer/internal/adapters/storage/audit"
	auditDomain "leadmailer/internal/domain/audit"
)

// Audit trail limits.
const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// handleAuditTrail handles GET /api/audit.
// Query: category, action, resource_id, from, to (RFC 3339) and limit.
// A lead's interactions are ?category=lead&resource_id=<lead id>.
// POST: Returns events newest first
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if s.deps.AuditLog == nil {
		writeJSON(w, http.StatusOK, []auditDomain.Event{})
		return
	}

	q := r.URL.Query()
	filter := auditStore.Filter{}
	if category := q.Get("category"); category != "" {
		cat := auditDomain.Category(category)
		filter.Category = &cat
	}
	if action := q.Get("action"); action != "" {
		act := auditDomain.Action(action)
		filter.Action = &act
	}
	if resourceID := q.Get("resource_id"); resourceID != "" {
		filter.ResourceID = &resourceID
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, p.key+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = &t
	}

	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.deps.AuditLog.List(r.Context(), filter, limit)
	if err != nil {
		internalError(w, err)
		return
	}
	if events == nil {
		events = []auditDomain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
