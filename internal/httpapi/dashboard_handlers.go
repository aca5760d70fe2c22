package httpapi

import (
	"net/http"

	"voicedesk/internal/calls"
	"voicedesk/internal/telephony"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Stats returns call statistics for the last ?days= days. A failed fetch
// still answers with zeroed statistics so the dashboard renders.
func (h Handlers) Stats(c *gin.Context) {
	days, ok := daysParam(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
		return
	}
	stats, err := h.Reports.FetchWindow(c.Request.Context(), days)
	if err != nil {
		logger.FromGin(c).Error("fetch statistics failed", "days", days, "err", err)
		h.notifyError(c, "Could not load statistics", "Call data is temporarily unavailable.")
		c.JSON(http.StatusOK, gin.H{"statistics": stats, "error": "call data unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func (h Handlers) DailyStats(c *gin.Context) {
	days, ok := daysParam(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
		return
	}
	series, err := h.Reports.FetchDailySeries(c.Request.Context(), days)
	if err != nil {
		logger.FromGin(c).Error("fetch daily series failed", "days", days, "err", err)
		h.notifyError(c, "Could not load call history", "Call data is temporarily unavailable.")
		c.JSON(http.StatusOK, gin.H{"daily": series, "error": "call data unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"daily": series})
}

// Dashboard returns statistics and the daily series computed from one fetch
// of the call list. Failures degrade the same way as Stats.
func (h Handlers) Dashboard(c *gin.Context) {
	days, ok := daysParam(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
		return
	}
	d, err := h.Reports.FetchDashboard(c.Request.Context(), days)
	if err != nil {
		logger.FromGin(c).Error("fetch dashboard failed", "days", days, "err", err)
		h.notifyError(c, "Could not load statistics", "Call data is temporarily unavailable.")
		c.JSON(http.StatusOK, gin.H{"statistics": d.Statistics, "daily": d.Daily, "error": "call data unavailable"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) Calls(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	list, err := h.Reports.RecentCalls(c.Request.Context(), limit)
	if err != nil {
		h.notifyError(c, "Could not load calls", "Call data is temporarily unavailable.")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call data unavailable"})
		return
	}
	if list == nil {
		list = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

func (h Handlers) ListVoices(c *gin.Context) {
	voices, err := h.Voices.ListVoices(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("list voices failed", "err", err)
		h.notifyError(c, "Could not load voices", "The voice service is unavailable.")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "voice catalog unavailable"})
		return
	}
	if voices == nil {
		voices = []telephony.Voice{}
	}
	c.JSON(http.StatusOK, gin.H{"voices": voices})
}
