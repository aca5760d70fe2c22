package httpapi

import (
	"context"
	"errors"
	"net/http"

	"voicedesk/internal/auth"
	"voicedesk/internal/identity"
	"voicedesk/internal/session"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type lastPathRequest struct {
	Path string `json:"path"`
}

// SignIn authenticates with the identity store. The session itself is
// published by the auth event, so the snapshot returned already carries the
// organization.
func (h Handlers) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	sid := h.ensureSessionID(c)
	r := h.Sessions.GetOrCreate(ctx, sid)

	if err := r.SignIn(ctx, req.Email, req.Password); err != nil {
		c.AbortWithStatusJSON(identityStatus(err, http.StatusUnauthorized), gin.H{"error": session.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"redirect_to": h.landing(ctx, c, sid),
		"session":     r.Snapshot(),
	})
}

// SignUp registers a user. When the identity store requires email
// confirmation no session exists yet and 202 is returned.
func (h Handlers) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	sid := h.ensureSessionID(c)
	r := h.Sessions.GetOrCreate(ctx, sid)

	err := r.SignUp(ctx, req.Email, req.Password, req.DisplayName)
	switch {
	case errors.Is(err, identity.ErrConfirmationRequired):
		c.JSON(http.StatusAccepted, gin.H{"confirmation_required": true, "redirect_to": session.SignInPath})
		return
	case err != nil:
		c.AbortWithStatusJSON(identityStatus(err, http.StatusBadRequest), gin.H{"error": session.UserMessage(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"redirect_to": session.DefaultLandingPath,
		"session":     r.Snapshot(),
	})
}

// SignOut ends the identity session. The cookie is kept so pending
// notifications stay readable.
func (h Handlers) SignOut(c *gin.Context) {
	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusOK, gin.H{"redirect_to": session.SignInPath})
		return
	}
	ctx := c.Request.Context()
	r := h.Sessions.GetOrCreate(ctx, sid)
	if err := r.SignOut(ctx); err != nil {
		c.AbortWithStatusJSON(identityStatus(err, http.StatusBadGateway), gin.H{"error": session.UserMessage(err)})
		return
	}
	to := r.Snapshot().Navigate
	if to == "" {
		to = session.SignInPath
	}
	c.JSON(http.StatusOK, gin.H{"redirect_to": to})
}

// CurrentSession returns the browser's session state. It never fails with
// 401; a signed-out state is a valid answer.
func (h Handlers) CurrentSession(c *gin.Context) {
	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusOK, gin.H{"session": session.State{}})
		return
	}
	r := h.Sessions.GetOrCreate(c.Request.Context(), sid)
	c.JSON(http.StatusOK, gin.H{"session": r.Snapshot()})
}

func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	oid, _ := auth.OrgID(ctx)
	role, _ := auth.Role(ctx)
	out := gin.H{"user_id": uid, "org_id": oid, "role": role}

	if sid := sessionID(c); sid != "" && c.GetHeader("Authorization") == "" {
		if r, ok := h.Sessions.Get(sid); ok {
			st := r.Snapshot()
			out["user"] = st.User
			out["organization"] = st.Organization
			out["degraded"] = st.Degraded
			if st.OrgWarning != "" {
				out["org_warning"] = st.OrgWarning
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

// RememberPath stores the page the browser is on so sign-in can return to it.
func (h Handlers) RememberPath(c *gin.Context) {
	sid := sessionID(c)
	if sid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "browser session required"})
		return
	}
	var req lastPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Paths.Remember(c.Request.Context(), sid, req.Path); err != nil {
		if errors.Is(err, session.ErrPathNotRemembered) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "path cannot be remembered"})
			return
		}
		logger.FromGin(c).Error("remember path failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not store path"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) Notifications(c *gin.Context) {
	aud := audience(c)
	if aud == "" {
		c.JSON(http.StatusOK, gin.H{"notifications": []any{}})
		return
	}
	list, err := h.Notes.Drain(c.Request.Context(), aud)
	if err != nil {
		logger.FromGin(c).Error("drain notifications failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notifications unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h Handlers) landing(ctx context.Context, c *gin.Context, sid string) string {
	if h.Paths == nil {
		return session.DefaultLandingPath
	}
	p, err := h.Paths.Recall(ctx, sid)
	if err != nil {
		logger.FromGin(c).Warn("recall last path failed", "err", err)
	}
	if p == "" {
		return session.DefaultLandingPath
	}
	return p
}

// identityStatus maps identity-store failures: client errors become
// clientStatus, the rest 502.
func identityStatus(err error, clientStatus int) int {
	var apiErr *identity.APIError
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return clientStatus
	default:
		return http.StatusBadGateway
	}
}
