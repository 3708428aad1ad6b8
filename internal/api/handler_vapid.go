package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type vapidKeyResponse struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"public_key,omitempty"`
}

// GetVAPIDPublicKey tells the browser whether push notifications are
// available and, if so, which application server key to subscribe with.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusOK, vapidKeyResponse{Enabled: false})
		return
	}
	c.JSON(http.StatusOK, vapidKeyResponse{Enabled: true, PublicKey: h.webpush.VAPIDPublicKey})
}
