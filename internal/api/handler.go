package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"kanshi/internal/conditions"
	"kanshi/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	conditions *conditions.Service
	webpush    *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, svc *conditions.Service, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:      s,
		conditions: svc,
		webpush:    webpushOptions,
	}
}
