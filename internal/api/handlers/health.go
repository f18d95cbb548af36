package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	WorkerID string
	Version  string
	session  SessionController
	caps     []string
}

func NewHealthHandler(workerID, version string, session SessionController, capabilities []string) *HealthHandler {
	return &HealthHandler{WorkerID: workerID, Version: version, session: session, caps: capabilities}
}

type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	WorkerID string `json:"worker_id" example:"ppe-worker-1"`
	Session  string `json:"session" example:"RUNNING"`
}

type WorkerInfoResponse struct {
	WorkerID     string   `json:"worker_id" example:"ppe-worker-1"`
	Status       string   `json:"status" example:"running"`
	Version      string   `json:"version" example:"1.0.0"`
	Capabilities []string `json:"capabilities"`
}

// @Summary Health check
// @Description Check if the worker is healthy and responsive
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		WorkerID: h.WorkerID,
		Session:  h.session.Info().State.String(),
	})
}

// @Summary Worker information
// @Description Get basic worker information and capabilities
// @Tags health
// @Produce json
// @Success 200 {object} WorkerInfoResponse
// @Router / [get]
func (h *HealthHandler) WorkerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, WorkerInfoResponse{
		WorkerID:     h.WorkerID,
		Status:       "running",
		Version:      h.Version,
		Capabilities: h.caps,
	})
}
