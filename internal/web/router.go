package web

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"kanshi/config"
	"kanshi/internal/mw"
)

// NewRouter creates the dashboard router.
func NewRouter(cfg config.ServerConfig, h *Handler) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", h.GetHealth)
	r.GET("/ws/live", h.LiveSocket)

	api := r.Group("/api")
	api.Use(mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, cfg.RequestIPHeader))
	{
		api.GET("/live", h.GetLive)
		api.GET("/history/view", h.GetHistory)
	}

	return r
}
