package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ppe-safety-worker/internal/logging"
)

type AlertsHandler struct {
	history      AlertHistory
	defaultLimit int
}

func NewAlertsHandler(history AlertHistory, defaultLimit int) *AlertsHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &AlertsHandler{history: history, defaultLimit: defaultLimit}
}

// List returns recent delivery attempts
// @Summary Alert history
// @Description Recent notification and alert delivery attempts, newest first
// @Tags alerts
// @Produce json
// @Param limit query int false "Maximum number of records (default 100)"
// @Success 200 {object} AlertsResponse
// @Failure 503 {object} ErrorResponse
// @Router /alerts [get]
func (h *AlertsHandler) List(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "alert history is disabled"})
		return
	}

	limit := h.defaultLimit
	if s := c.Query("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to list alert history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read alert history"})
		return
	}

	c.JSON(http.StatusOK, AlertsResponse{Success: true, Count: len(records), Alerts: records})
}
