package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicedesk/internal/agents"
	"voicedesk/internal/auth"
	"voicedesk/internal/notify"
	"voicedesk/internal/reporting"
	"voicedesk/internal/session"
	"voicedesk/internal/telephony"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions *session.Registry
	Paths    session.PathMemory
	Notes    *notify.Service
	Reports  *reporting.Service
	Agents   *agents.Service
	Voices   VoiceCatalog
	Ready    []ReadyCheck

	CookieSecure bool
}

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// VoiceCatalog lists the voices an agent can use.
type VoiceCatalog interface {
	ListVoices(ctx context.Context) ([]telephony.Voice, error)
}

const (
	sessionCookieTTL = 30 * 24 * time.Hour
	defaultDays      = 7
	maxDays          = 90
	readyTimeout     = 2 * time.Second
)

// sessionID returns the browser session id from the cookie, or "".
func sessionID(c *gin.Context) string {
	sid, err := c.Cookie(auth.SessionCookie)
	if err != nil {
		return ""
	}
	return sid
}

// ensureSessionID returns the browser session id, issuing a new cookie when
// the browser has none.
func (h Handlers) ensureSessionID(c *gin.Context) string {
	if sid := sessionID(c); sid != "" {
		return sid
	}
	sid := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, sid, int(sessionCookieTTL.Seconds()), "/", "", h.CookieSecure, true)
	return sid
}

// audience is who receives notifications for this request: the browser
// session for cookie callers, the user for bearer-token callers.
func audience(c *gin.Context) string {
	if c.GetHeader("Authorization") == "" {
		if sid := sessionID(c); sid != "" {
			return sid
		}
	}
	uid, _ := auth.UserID(c.Request.Context())
	if uid == "" {
		return ""
	}
	return notify.UserAudience(uid)
}

func (h Handlers) notifyError(c *gin.Context, title, message string) {
	if h.Notes == nil {
		return
	}
	if aud := audience(c); aud != "" {
		h.Notes.Error(c.Request.Context(), aud, title, message)
	}
}

// daysParam reads ?days=, defaulting to a week and capped at maxDays.
func daysParam(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("days"))
	if raw == "" {
		return defaultDays, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxDays {
		return 0, false
	}
	return n, true
}

func limitParam(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness probes every dependency and answers 503 if any is down.
func (h Handlers) Readiness(c *gin.Context) {
	results := make(gin.H, len(h.Ready))
	status := http.StatusOK
	for _, rc := range h.Ready {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		err := rc.Check(ctx)
		cancel()
		if err != nil {
			logger.FromGin(c).Warn("readiness check failed", "check", rc.Name, "err", err)
			results[rc.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[rc.Name] = "ok"
	}
	c.JSON(status, gin.H{"checks": results})
}
