package api

import (
	"github.com/gin-gonic/gin"

	"ppe-safety-worker/internal/api/middleware"
)

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	s.router.POST("/start", s.sessionHandler.Start)
	s.router.POST("/stop", s.sessionHandler.Stop)
	s.router.GET("/status", s.sessionHandler.Status)
	s.router.GET("/ws/status", s.statusSocket.Serve)

	s.router.GET("/video_feed", s.streamHandler.VideoFeed)
	s.router.GET("/snapshot", s.streamHandler.Snapshot)

	s.router.GET("/alerts", s.alertsHandler.List)

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}

	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}
