package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kanshi/internal/conditions"
	"kanshi/internal/model"
)

type postEventRequest struct {
	MachineID string `json:"machine_id" binding:"required"`
	Status    string `json:"status" binding:"required"`
}

// PostEvent handles POST /api/events, the status report of a collector.
func (h *Handler) PostEvent(c *gin.Context) {
	var req postEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	// Collectors report Unknown for ambiguous or failed readings; anything
	// else that does not parse is a client error.
	status := model.ParseState(req.Status)
	if status == model.Unknown && !strings.EqualFold(strings.TrimSpace(req.Status), string(model.Unknown)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of On, Off, Prep, Unknown"})
		return
	}

	changed, err := h.conditions.Ingest(c.Request.Context(), model.MachineID(req.MachineID), status)
	switch {
	case errors.Is(err, conditions.ErrUnknownMachine):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown machine"})
		return
	case errors.Is(err, conditions.ErrOutsideWorkingHours):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "outside working hours"})
		return
	case err != nil:
		log.Printf("Error recording status for %s: %v", req.MachineID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"changed": changed})
}
