package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// SessionCookie carries the opaque browser session id.
const SessionCookie = "vd_sid"

// Principal is the resolved caller of a dashboard request.
type Principal struct {
	UserID      string
	Email       string
	OrgID       string
	Role        string
	AccessToken string
}

// SessionSource resolves a browser session id into the signed-in principal.
type SessionSource interface {
	Principal(ctx context.Context, sid string) (Principal, bool)
}

// OrgLookup resolves the default organization for a bearer-token caller.
type OrgLookup func(ctx context.Context, userID string) (orgID, role string, err error)

// RequireSession authenticates the request and injects identity into request context.
// A bearer access token wins over the session cookie. It does not perform RBAC
// checks; those belong to internal/rbac.
func RequireSession(m *Manager, sessions SessionSource, orgs OrgLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p Principal

		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		switch {
		case raw != "":
			if !strings.HasPrefix(raw, bearerPrefix) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
				return
			}
			tok := strings.TrimPrefix(raw, bearerPrefix)
			claims, err := m.Verify(tok, time.Now())
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			p = Principal{UserID: claims.UserID(), Email: claims.Email, AccessToken: tok}
			if orgs != nil {
				orgID, role, err := orgs(WithAccessToken(c.Request.Context(), tok), p.UserID)
				if err != nil {
					// Organization-less callers still reach handlers; RequireOrganization gates the rest.
					logger.FromGin(c).Warn("organization lookup failed", "user_id", p.UserID, "err", err)
				}
				p.OrgID, p.Role = orgID, role
			}
		default:
			sid, err := c.Cookie(SessionCookie)
			if err != nil || sid == "" || sessions == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
				return
			}
			got, ok := sessions.Principal(c.Request.Context(), sid)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
				return
			}
			p = got
		}

		ctx := WithIdentity(c.Request.Context(), p.UserID, p.OrgID, p.Role)
		ctx = WithAccessToken(ctx, p.AccessToken)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", p.UserID)
		c.Set("org_id", p.OrgID)
		c.Set("role", p.Role)

		c.Next()
	}
}
