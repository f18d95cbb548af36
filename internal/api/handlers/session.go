package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ppe-safety-worker/internal/logging"
	"ppe-safety-worker/internal/models"
)

type SessionHandler struct {
	session SessionController
	state   StateSource
}

func NewSessionHandler(session SessionController, state StateSource) *SessionHandler {
	return &SessionHandler{session: session, state: state}
}

// Start begins safety detection
// @Summary Start detection
// @Description Open the camera and start the detection loop. Idempotent while running.
// @Tags session
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 409 {object} SessionResponse
// @Router /start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	info, err := h.session.Start()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, models.ErrResourceBusy) {
			code = http.StatusConflict
		}
		logging.Warn(c).Err(err).Str("state", info.State.String()).Msg("Failed to start detection")
		c.JSON(code, SessionResponse{Success: false, State: info.State, Error: err.Error()})
		return
	}

	logging.Info(c).Str("state", info.State.String()).Msg("Detection started")
	c.JSON(http.StatusOK, SessionResponse{
		Success: true,
		State:   info.State,
		Message: "Safety detection is now live",
	})
}

// Stop ends safety detection
// @Summary Stop detection
// @Description Ask the detection loop to stop after the current frame. Does not wait.
// @Tags session
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /stop [post]
func (h *SessionHandler) Stop(c *gin.Context) {
	info := h.session.Stop()

	logging.Info(c).Str("state", info.State.String()).Msg("Detection stop requested")
	c.JSON(http.StatusOK, SessionResponse{
		Success: true,
		State:   info.State,
		Message: "Detection stopped",
	})
}

// Status returns the latest detection state
// @Summary Detection status
// @Description Latest published compliance state plus the capture session state
// @Tags session
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /status [get]
func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, NewStatusResponse(h.state.Snapshot(), h.session.Info()))
}
