package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/livestatus"
	"outbound-dialer/internal/rbac"
	"outbound-dialer/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Guard   *guard.Service
	Live    *livestatus.Tracker
	Reports *reporting.Service
}

// defaultReclaimLimit bounds one admin-triggered reclamation pass.
const defaultReclaimLimit = 100

type identity struct{ auth.Identity }

func (i identity) supervises() bool {
	return i.Role == rbac.RoleSupervisor || rbac.IsAdmin(i.Role)
}

func identityFrom(c *gin.Context) identity {
	id, _ := auth.FromContext(c.Request.Context())
	return identity{id}
}

// --- Guard ---

// CanCall is the advisory pre-dial check. callerId defaults to the token's agent.
func (h Handlers) CanCall(c *gin.Context) {
	if h.Guard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "guard not configured"})
		return
	}
	id := identityFrom(c)
	callerID := c.DefaultQuery("callerId", id.AgentID)

	res, err := h.Guard.CanCall(c.Request.Context(), c.Param("contactId"), callerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StartCall acquires the contact lock for the calling agent.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Guard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "guard not configured"})
		return
	}
	id := identityFrom(c)

	var req calls.StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallerID == "" {
		req.CallerID = id.AgentID
	}
	if req.CallerID != id.AgentID && !id.supervises() {
		writeError(c, calls.ErrNotOwner)
		return
	}

	res, err := h.Guard.StartCall(c.Request.Context(), id.WorkspaceID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EndCall seals the attempt and releases its lock. Supervisors may end any
// agent's attempt.
func (h Handlers) EndCall(c *gin.Context) {
	if h.Guard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "guard not configured"})
		return
	}
	id := identityFrom(c)

	var req calls.EndCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	// system dispositions are the server's own; a client release of one is
	// automatic and never overwrites an agent's outcome
	if req.Source == calls.DispositionSystem {
		req.Source = calls.DispositionAuto
	}
	owner := id.AgentID
	if id.supervises() {
		owner = ""
	}

	if err := h.Guard.EndCall(c.Request.Context(), owner, req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CallStatus returns the live status of an attempt.
func (h Handlers) CallStatus(c *gin.Context) {
	if h.Live == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "live status not configured"})
		return
	}
	id := identityFrom(c)

	st, ok, err := h.Live.Status(c.Request.Context(), c.Param("attemptId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok || (st.CallerID != "" && st.CallerID != id.AgentID && !id.supervises()) {
		writeError(c, calls.ErrAttemptNotFound)
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Reports ---

// AttemptsReport summarises attempts over [from, to). Agents only see their own.
func (h Handlers) AttemptsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	id := identityFrom(c)
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	callerID := c.Query("callerId")
	if !id.supervises() {
		callerID = id.AgentID
	}

	out, err := h.Reports.AttemptsSummary(c.Request.Context(), reporting.AttemptsSummaryRequest{
		WorkspaceID: id.WorkspaceID,
		CallerID:    callerID,
		ContactID:   c.Query("contactId"),
		Range:       rng,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CallersReport returns per-agent totals. RBAC: supervisor or admin.
func (h Handlers) CallersReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	id := identityFrom(c)
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	rows, err := h.Reports.CallerBreakdown(c.Request.Context(), reporting.CallerBreakdownRequest{WorkspaceID: id.WorkspaceID, Range: rng})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callers": rows})
}

// parseRange reads RFC3339 from/to. A missing range means the last 24 hours.
func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		raw := strings.TrimSpace(c.Query(p.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		*p.dst = t.UTC()
	}
	return rng, true
}

// --- Admin ---

// ReclaimLocks runs one stale-lock reclamation pass now.
// RBAC: supervisor, admin or the hidden reclaimer role.
func (h Handlers) ReclaimLocks(c *gin.Context) {
	if h.Guard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "guard not configured"})
		return
	}
	limit := defaultReclaimLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}

	rep, err := h.Guard.ReclaimStale(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ForceRelease deletes a contact's lock regardless of age. Audited.
// RBAC: admin.
func (h Handlers) ForceRelease(c *gin.Context) {
	if h.Guard == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "guard not configured"})
		return
	}
	id := identityFrom(c)

	lock, err := h.Guard.ForceRelease(c.Request.Context(), c.Param("contactId"), guard.Actor{
		ID:   id.AgentID,
		Role: id.Role,
		IP:   c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

// EventsScope limits websocket pushes to the agent's own calls. Supervisors see
// everyone, or one agent with ?callerId=.
func EventsScope(c *gin.Context) string {
	id := identityFrom(c)
	if id.supervises() {
		return strings.TrimSpace(c.Query("callerId"))
	}
	return id.AgentID
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
