package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"kanshi/internal/conditions"
	"kanshi/internal/model"
)

// GetConditions handles GET /update_conditions.
func (h *Handler) GetConditions(c *gin.Context) {
	resp, err := h.conditions.Conditions(c.Request.Context())
	if err != nil {
		log.Printf("Error building conditions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve conditions"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostResetCounters handles POST /reset_counters.
func (h *Handler) PostResetCounters(c *gin.Context) {
	if err := h.conditions.ResetNow(c.Request.Context()); err != nil {
		log.Printf("Error resetting counters: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Counters reset successfully"})
}

// GetHistoryDates handles GET /api/history/dates.
func (h *Handler) GetHistoryDates(c *gin.Context) {
	dates, err := h.conditions.HistoryDates(c.Request.Context())
	if err != nil {
		log.Printf("Error listing history dates: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve history dates"})
		return
	}
	c.JSON(http.StatusOK, model.HistoryDatesResponse{Dates: dates})
}

// GetHistoryData handles GET /api/history/data/:date.
func (h *Handler) GetHistoryData(c *gin.Context) {
	day, err := h.conditions.HistoryDay(c.Request.Context(), c.Param("date"))
	if err != nil {
		if errors.Is(err, conditions.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format. Use YYYY-MM-DD"})
			return
		}
		log.Printf("Error building history for %s: %v", c.Param("date"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve history data"})
		return
	}
	c.JSON(http.StatusOK, day)
}

// pastHistoryDay accepts history data requests for days that can no
// longer change.
func (h *Handler) pastHistoryDay(c *gin.Context) bool {
	return c.Param("date") < h.conditions.Now().Format("2006-01-02")
}
