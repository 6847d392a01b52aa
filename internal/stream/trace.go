package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satindergrewal/phonoscope/internal/logging"
	"github.com/satindergrewal/phonoscope/internal/render"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// TraceBuffer is the per-client stroke queue (~1s at 60 fps).
	TraceBuffer = 64
)

// TraceHandler upgrades to a websocket and pushes every rendered stroke as a
// JSON text message, so a remote canvas can mirror the local raster.
type TraceHandler struct {
	strokes  *Broadcaster[render.Stroke]
	upgrader websocket.Upgrader
}

// NewTraceHandler creates a handler fed by strokes. Wire it with
// renderer.OnStroke(strokes.Publish).
func NewTraceHandler(strokes *Broadcaster[render.Stroke]) *TraceHandler {
	return &TraceHandler{
		strokes: strokes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *TraceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("trace upgrade failed", logging.KeyError, err)
		return
	}
	defer conn.Close()

	l := h.strokes.Subscribe()
	defer h.strokes.Unsubscribe(l)
	log.Info("trace client connected", "remote", r.RemoteAddr, "clients", h.strokes.ListenerCount())

	closed := make(chan struct{})
	go readPump(conn, closed)
	h.writePump(conn, l, closed)
	log.Info("trace client disconnected", "remote", r.RemoteAddr)
}

// readPump discards client messages and keeps the read deadline fresh.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("trace read error", logging.KeyError, err)
			}
			return
		}
	}
}

func (h *TraceHandler) writePump(conn *websocket.Conn, l *Listener[render.Stroke], closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-l.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case s := <-l.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(s); err != nil {
				log.Warn("trace write error", logging.KeyError, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
