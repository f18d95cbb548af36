package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ppe-safety-worker/internal/logging"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StatusSocket pushes every published detection state to websocket viewers
type StatusSocket struct {
	session  SessionController
	state    StateSource
	interval time.Duration
}

// NewStatusSocket also resends the current state every interval so idle
// dashboards keep seeing the session state; zero disables the resend.
func NewStatusSocket(session SessionController, state StateSource, interval time.Duration) *StatusSocket {
	return &StatusSocket{session: session, state: state, interval: interval}
}

// Serve upgrades the connection and streams StatusResponse messages
// @Summary Live status over websocket
// @Description Sends a StatusResponse JSON message on every processed frame
// @Tags session
// @Router /ws/status [get]
func (h *StatusSocket) Serve(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c).Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates, cancel := h.state.Subscribe()
	defer cancel()

	logging.Info(c).Msg("Status viewer connected")

	// reader: only control frames are expected, a read error means the peer left
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logging.Debug(c).Err(err).Msg("Status viewer read error")
				}
				return
			}
		}
	}()

	send := func(resp StatusResponse) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			logging.Debug(c).Err(err).Msg("Status viewer write failed")
			return false
		}
		return true
	}

	if !send(NewStatusResponse(h.state.Snapshot(), h.session.Info())) {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var resend <-chan time.Time
	if h.interval > 0 {
		t := time.NewTicker(h.interval)
		defer t.Stop()
		resend = t.C
	}

	for {
		select {
		case <-closed:
			logging.Info(c).Msg("Status viewer disconnected")
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if !send(NewStatusResponse(s, h.session.Info())) {
				return
			}
		case <-resend:
			if !send(NewStatusResponse(h.state.Snapshot(), h.session.Info())) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
