package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/api/handlers"
	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/services/publisher/mjpeg"
)

// Deps are the services the HTTP surface exposes. Alerts and Metrics may be nil.
type Deps struct {
	Session handlers.SessionController
	State   handlers.StateSource
	Frames  *mjpeg.Publisher
	Alerts  handlers.AlertHistory
	Metrics http.Handler
}

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server
	deps   Deps

	healthHandler  *handlers.HealthHandler
	sessionHandler *handlers.SessionHandler
	streamHandler  *handlers.StreamHandler
	statusSocket   *handlers.StatusSocket
	alertsHandler  *handlers.AlertsHandler
	systemHandler  *handlers.SystemHandler
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	caps := []string{"ppe_detection", "mjpeg_streaming", "status_websocket"}
	for _, t := range cfg.AlertTransports {
		caps = append(caps, t+"_alerts")
	}

	return &Server{
		config:         cfg,
		router:         router,
		deps:           deps,
		healthHandler:  handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, deps.Session, caps),
		sessionHandler: handlers.NewSessionHandler(deps.Session, deps.State),
		streamHandler:  handlers.NewStreamHandler(deps.Session, deps.Frames),
		statusSocket:   handlers.NewStatusSocket(deps.Session, deps.State, cfg.StatusPushInterval),
		alertsHandler:  handlers.NewAlertsHandler(deps.Alerts, cfg.AlertHistoryLimit),
		systemHandler:  handlers.NewSystemHandler(cfg.WorkerID, deps.Session, deps.Frames.Subscribers),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	return nil
}

// Start blocks serving HTTP until Stop is called
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting PPE safety worker API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping PPE safety worker API")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}
