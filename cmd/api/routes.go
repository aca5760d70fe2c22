package main

import (
	"log/slog"

	"voicedesk/internal/httpapi"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

// newRouter builds the gin engine.
// Keep this file free of business logic. Handlers delegate to internal modules.
func newRouter(log *slog.Logger, h httpapi.Handlers, authMW gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	httpapi.Register(r, h, authMW)
	return r
}
