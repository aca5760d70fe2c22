package httpapi

import (
	"voicedesk/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires every route. authMW authenticates the /v1 group.
func Register(r *gin.Engine, h Handlers, authMW gin.HandlerFunc) {
	r.GET("/healthz", Health)
	r.GET("/readyz", h.Readiness)

	a := r.Group("/auth")
	{
		a.POST("/sign-in", h.SignIn)
		a.POST("/sign-up", h.SignUp)
		a.POST("/sign-out", h.SignOut)
		a.GET("/session", h.CurrentSession)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)
		v1.PUT("/session/last-path", h.RememberPath)
		v1.GET("/notifications", h.Notifications)

		v1.GET("/stats", h.Stats)
		v1.GET("/stats/daily", h.DailyStats)
		v1.GET("/dashboard", h.Dashboard)
		v1.GET("/calls", h.Calls)
		v1.GET("/voices", h.ListVoices)

		ag := v1.Group("/agents")
		{
			ag.GET("", h.ListAgents)
			ag.GET("/:id/calls", h.AgentCalls)
			ag.POST("", append(RequireAgentManager(), h.CreateAgent)...)
			ag.DELETE("/:id", append(RequireAgentManager(), h.DeleteAgent)...)
		}
	}
}

// RequireAgentManager is the middleware bundle for agent writes.
func RequireAgentManager() []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOrganization(), rbac.RequireAnyRole(rbac.RoleAdmin)}
}
