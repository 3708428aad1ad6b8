// Package web serves the dashboard boards over HTTP and websocket.
package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"kanshi/internal/board"
	"kanshi/internal/history"
)

// Handler holds the boards the dashboard exposes.
type Handler struct {
	live         *board.Board
	historyBoard *board.Board
	loader       *history.Loader
	hub          *Hub
}

// NewHandler creates a dashboard handler.
func NewHandler(live *board.Board, historyBoard *board.Board, loader *history.Loader, hub *Hub) *Handler {
	return &Handler{
		live:         live,
		historyBoard: historyBoard,
		loader:       loader,
		hub:          hub,
	}
}

// HistoryView is the response of the history endpoint.
type HistoryView struct {
	Selected string         `json:"selected"`
	Today    string         `json:"today"`
	Dates    []string       `json:"dates"`
	Board    board.Snapshot `json:"board"`
	Error    string         `json:"error,omitempty"`
}

// GetLive handles GET /api/live.
func (h *Handler) GetLive(c *gin.Context) {
	c.JSON(http.StatusOK, h.live.Snapshot())
}

// GetHistory handles GET /api/history/view. Without a date the most recent
// day is loaded. Upstream failures keep the previous display and are
// reported in the body.
func (h *Handler) GetHistory(c *gin.Context) {
	date := c.Query("date")

	var err error
	if date == "" {
		err = h.loader.LoadLatest(c.Request.Context())
	} else {
		err = h.loader.Load(c.Request.Context(), date)
	}
	if errors.Is(err, history.ErrInvalidDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format. Use YYYY-MM-DD"})
		return
	}

	view := HistoryView{
		Selected: h.loader.Selected(),
		Today:    h.loader.Today(),
		Dates:    h.loader.Dates(),
		Board:    h.historyBoard.Snapshot(),
	}
	if err != nil {
		log.Printf("web: history load failed: %v", err)
		view.Error = "history is temporarily unavailable"
	}
	c.JSON(http.StatusOK, view)
}

// GetHealth handles GET /healthz.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"live_version": h.live.Version(),
		"ws_clients":   h.hub.Clients(),
	})
}

// LiveSocket handles GET /ws/live.
func (h *Handler) LiveSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}
