package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"kanshi/config"
	"kanshi/internal/conditions"
	"kanshi/internal/mw"
	"kanshi/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, s store.Store, svc *conditions.Service, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, svc, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, cfg.RequestIPHeader)

	// Past history days never change, so they can stay cached for the TTL.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	historyCache := mw.Cache(cacheStore, ttl, handler.pastHistoryDay)

	// The dashboard polls these every few seconds; they are not rate limited.
	r.GET("/update_conditions", handler.GetConditions)
	r.POST("/reset_counters", handler.PostResetCounters)

	api := r.Group("/api")
	{
		api.GET("/history/dates", handler.GetHistoryDates)
		api.GET("/history/data/:date", historyCache, handler.GetHistoryData)
		api.POST("/events", handler.PostEvent)
	}

	limited := r.Group("/api")
	limited.Use(rateLimiter)
	{
		limited.GET("/subscriptions", handler.GetSubscription)
		limited.PUT("/subscriptions", handler.PutSubscription)
		limited.DELETE("/subscriptions", handler.DeleteSubscription)
		limited.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
