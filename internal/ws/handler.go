package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/generation"
	"github.com/bannerforge/bannerforge/internal/logging"
	"github.com/bannerforge/bannerforge/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origins are filtered by the CORS layer
	},
}

// Handler manages browser stream connections.
type Handler struct {
	coord   *generation.Coordinator
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new stream handler.
func NewHandler(coord *generation.Coordinator, log *logging.Logger, metrics *monitoring.Metrics) *Handler {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Handler{
		coord:   coord,
		log:     log,
		metrics: metrics,
	}
}

// clientMessage is one frame from the browser.
type clientMessage struct {
	Type    string            `json:"type"`
	Prompt  string            `json:"prompt,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// conn wraps a websocket connection with a write lock, since frames are
// written from both the update loop and the reader (pongs, errors).
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(data)
}

// HandleConnection upgrades the request and streams job updates until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer raw.Close()

	clientID := uuid.NewString()
	if h.metrics != nil {
		h.metrics.WSClients.Inc()
		defer h.metrics.WSClients.Dec()
	}
	h.log.Info("stream client connected", zap.String("client_id", clientID))
	defer h.log.Info("stream client disconnected", zap.String("client_id", clientID))

	wc := &conn{ws: raw}

	// One-slot mailbox holding the latest snapshot. The subscriber runs on
	// the coordinator loop and must not block, so when the writer lags, a
	// stale snapshot is replaced rather than queued. The writer diffs
	// against the last frame it sent, so coalescing loses nothing, and the
	// terminal snapshot is always the one left in the slot.
	updates := make(chan generation.Job, 1)
	unsubscribe, err := h.coord.Subscribe(func(job generation.Job) {
		for {
			select {
			case updates <- job:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	if err != nil {
		wc.send(gin.H{"type": "error", "message": err.Error()})
		return
	}
	defer unsubscribe()

	done := make(chan struct{})
	go h.readLoop(c, wc, clientID, done)

	// Replay current state so a reloading client repaints immediately.
	var prev generation.Job
	if job := h.coord.Job(); job.State != generation.StateIdle {
		if err := h.writeUpdate(wc, prev, job); err != nil {
			return
		}
		prev = job
	}

	for {
		select {
		case <-done:
			return
		case job := <-updates:
			if err := h.writeUpdate(wc, prev, job); err != nil {
				return
			}
			prev = job
		}
	}
}

// readLoop consumes client frames until the connection drops.
func (h *Handler) readLoop(c *gin.Context, wc *conn, clientID string, done chan struct{}) {
	defer close(done)
	for {
		var msg clientMessage
		if err := wc.ws.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "generate":
			jobID, err := h.coord.Start(c.Request.Context(), generation.Request{
				Prompt:  msg.Prompt,
				Kind:    msg.Kind,
				Context: msg.Context,
			})
			if err != nil {
				wc.send(gin.H{"type": "error", "message": err.Error()})
				continue
			}
			h.log.Info("generation started over stream",
				zap.String("client_id", clientID), zap.String("job_id", jobID))
			wc.send(gin.H{
				"type":      "generation_start",
				"job_id":    jobID,
				"timestamp": time.Now().Unix(),
			})
		case "cancel":
			if err := h.coord.Cancel(); err != nil && !errors.Is(err, generation.ErrClosed) {
				wc.send(gin.H{"type": "error", "message": err.Error()})
			}
		case "ping":
			wc.send(gin.H{"type": "pong"})
		default:
			wc.send(gin.H{"type": "error", "message": "unknown message type"})
		}
	}
}

// writeUpdate emits the frames implied by the difference between the last
// sent job value and the current one.
func (h *Handler) writeUpdate(wc *conn, prev, cur generation.Job) error {
	if cur.ID != prev.ID {
		prev = generation.Job{}
	}

	if cur.State != prev.State || cur.Progress != prev.Progress || cur.StatusMessage != prev.StatusMessage {
		if err := wc.send(gin.H{
			"type":     "status",
			"job_id":   cur.ID,
			"state":    cur.State,
			"progress": cur.Progress,
			"message":  cur.StatusMessage,
		}); err != nil {
			return err
		}
	}

	if len(cur.Buffer) > len(prev.Buffer) {
		if err := wc.send(gin.H{
			"type":    "generation_token",
			"job_id":  cur.ID,
			"content": cur.Buffer[len(prev.Buffer):],
		}); err != nil {
			return err
		}
	}

	if cur.State.Terminal() && !prev.State.Terminal() {
		if cur.State == generation.StateComplete {
			return wc.send(gin.H{
				"type":      "complete",
				"job_id":    cur.ID,
				"timestamp": time.Now().Unix(),
			})
		}
		return wc.send(gin.H{
			"type":    "error",
			"job_id":  cur.ID,
			"message": cur.Err,
		})
	}
	return nil
}
