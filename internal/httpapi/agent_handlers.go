package httpapi

import (
	"errors"
	"net/http"

	"voicedesk/internal/agents"
	"voicedesk/internal/auth"
	"voicedesk/internal/calls"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

func (h Handlers) ListAgents(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	list, err := h.Agents.ListAgents(c.Request.Context(), uid)
	if err != nil {
		logger.FromGin(c).Error("list agents failed", "err", err)
		h.notifyError(c, "Could not load agents", "Please try again.")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}

// CreateAgent creates an agent in the caller's current organization.
// RBAC: owner or admin.
func (h Handlers) CreateAgent(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, err := auth.OrgID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no organization for this account"})
		return
	}
	var spec agents.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	spec.IdempotencyKey = c.GetHeader("Idempotency-Key")

	a, err := h.Agents.CreateAgent(ctx, audience(c), spec, orgID)
	if err != nil {
		status := agentStatus(err)
		if status >= 500 {
			logger.FromGin(c).Error("create agent failed", "org_id", orgID, "err", err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": agentMessage(err)})
		return
	}
	c.JSON(http.StatusCreated, a)
}

// DeleteAgent removes an agent of the caller's current organization.
// RBAC: owner or admin.
func (h Handlers) DeleteAgent(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, err := auth.OrgID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no organization for this account"})
		return
	}
	id := c.Param("id")
	if err := h.Agents.DeleteAgent(ctx, audience(c), orgID, id); err != nil {
		status := agentStatus(err)
		if status >= 500 {
			logger.FromGin(c).Error("delete agent failed", "agent_id", id, "err", err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": agentMessage(err)})
		return
	}
	c.Status(http.StatusNoContent)
}

// AgentCalls lists the calls handled by one agent the caller can see.
func (h Handlers) AgentCalls(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	a, err := h.Agents.AgentForUser(ctx, uid, c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(agentStatus(err), gin.H{"error": agentMessage(err)})
		return
	}
	list, err := h.Reports.AgentCalls(ctx, a.ID)
	if err != nil {
		h.notifyError(c, "Could not load calls", "Call data is temporarily unavailable.")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call data unavailable"})
		return
	}
	if list == nil {
		list = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"agent": a, "calls": list})
}

func agentStatus(err error) int {
	switch {
	case errors.Is(err, agents.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, agents.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agents.ErrNoOrganization):
		return http.StatusForbidden
	case errors.Is(err, agents.ErrLocalWriteFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func agentMessage(err error) string {
	switch {
	case errors.Is(err, agents.ErrInvalidSpec):
		return "name and voice_id are required"
	case errors.Is(err, agents.ErrNotFound):
		return "agent not found"
	case errors.Is(err, agents.ErrNoOrganization):
		return "no organization for this account"
	case errors.Is(err, agents.ErrLocalWriteFailed):
		return "agent could not be saved"
	default:
		return "voice service unavailable"
	}
}
