package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ppe-safety-worker/internal/logging"
	"ppe-safety-worker/internal/models"
	"ppe-safety-worker/internal/services/publisher/mjpeg"
)

type StreamHandler struct {
	session SessionController
	frames  *mjpeg.Publisher
}

func NewStreamHandler(session SessionController, frames *mjpeg.Publisher) *StreamHandler {
	return &StreamHandler{session: session, frames: frames}
}

// VideoFeed streams annotated frames
// @Summary Live annotated video
// @Description multipart/x-mixed-replace JPEG stream. Ends when detection stops.
// @Tags stream
// @Produce multipart/x-mixed-replace
// @Success 200
// @Failure 503 {object} ErrorResponse
// @Router /video_feed [get]
func (h *StreamHandler) VideoFeed(c *gin.Context) {
	if h.session.Info().State != models.SessionRunning {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "detection is not running"})
		return
	}

	sub := h.frames.Subscribe()
	logging.Info(c).Int("subscribers", h.frames.Subscribers()).Msg("Video feed client connected")
	h.frames.StreamMJPEGHTTP(c.Writer, c.Request, sub)
	logging.Debug(c).Msg("Video feed client disconnected")
}

// Snapshot returns the latest annotated frame
// @Summary Latest annotated frame
// @Tags stream
// @Produce image/jpeg
// @Success 200
// @Failure 404 {object} ErrorResponse
// @Router /snapshot [get]
func (h *StreamHandler) Snapshot(c *gin.Context) {
	frame := h.frames.Latest()
	if len(frame) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no frame available yet"})
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	if c.Query("download") != "" {
		c.Header("Content-Disposition", "attachment; filename=ppe_snapshot.jpg")
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}
