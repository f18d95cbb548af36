package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler reports process level statistics
type SystemHandler struct {
	WorkerID string
	started  time.Time
	session  SessionController
	streams  func() int
}

// NewSystemHandler creates a new system handler. streams reports open video
// feed clients and may be nil.
func NewSystemHandler(workerID string, session SessionController, streams func() int) *SystemHandler {
	return &SystemHandler{
		WorkerID: workerID,
		started:  time.Now(),
		session:  session,
		streams:  streams,
	}
}

// @Summary Get system stats
// @Description Process statistics and capture counters
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := h.session.Info()
	streams := 0
	if h.streams != nil {
		streams = h.streams()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"worker_id":        h.WorkerID,
			"uptime_seconds":   int64(time.Since(h.started).Seconds()),
			"memory_mb":        m.Alloc / 1024 / 1024,
			"cpu_cores":        runtime.NumCPU(),
			"goroutines":       runtime.NumGoroutine(),
			"go_version":       runtime.Version(),
			"session_state":    info.State,
			"frames_processed": info.Frames,
			"stream_clients":   streams,
		},
		"timestamp": unixNow(),
	})
}
