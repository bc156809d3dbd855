package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/monitoring"
	"github.com/egsm/perftrace/internal/infrastructure/tracing"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// Source publishes lifecycle events. *tracing.Bus satisfies it.
type Source interface {
	Subscribe(fn tracing.Subscriber) (cancel func())
}

// Handler manages WebSocket connections
type Handler struct {
	source  Source
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu    sync.RWMutex
	conns map[string]struct{}
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(source Source, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		source:  source,
		metrics: metrics,
		logger:  logger.Named("ws"),
		conns:   make(map[string]struct{}),
	}
}

// Connections reports how many subscribers are connected.
func (h *Handler) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

type filter struct {
	process string
	kind    trace.EventKind
}

func (f filter) match(ev trace.Event) bool {
	if f.process != "" && ev.ProcessInstance != f.process {
		return false
	}
	return f.kind == "" || ev.Kind == f.kind
}

// HandleConnection handles WebSocket upgrade and streams events until
// the client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	f := filter{process: c.Query("process"), kind: trace.EventKind(c.Query("kind"))}
	send := make(chan any, sendBuffer)
	done := make(chan struct{})
	send <- gin.H{"type": "system", "subscriber_id": id}

	h.track(id, true)
	defer h.track(id, false)

	cancel := h.source.Subscribe(func(ev trace.Event) {
		if !f.match(ev) {
			return
		}
		select {
		case send <- gin.H{"type": "trace_event", "event": ev}:
		case <-done:
		default:
			h.logger.Debug("subscriber queue full, dropping event",
				zap.String("subscriber_id", id),
				zap.String("correlation_id", ev.CorrelationID))
		}
	})
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, send, done)
	}()

	// Listen for messages
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			h.logger.Debug("WebSocket read ended", zap.String("subscriber_id", id), zap.Error(err))
			break
		}

		var reply gin.H
		switch msg.Type {
		case "ping":
			reply = gin.H{"type": "pong"}
		default:
			reply = gin.H{"type": "error", "message": "unknown message type"}
		}
		select {
		case send <- reply:
		default:
		}
	}

	close(done)
	wg.Wait()
}

func (h *Handler) writeLoop(conn *websocket.Conn, send <-chan any, done <-chan struct{}) {
	for {
		select {
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.RecordWSMessage()
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) track(id string, connected bool) {
	h.mu.Lock()
	if connected {
		h.conns[id] = struct{}{}
	} else {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if h.metrics == nil {
		return
	}
	if connected {
		h.metrics.IncWSConnections()
	} else {
		h.metrics.DecWSConnections()
	}
}
