package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/generation"
	"github.com/bannerforge/bannerforge/internal/logging"
	"github.com/bannerforge/bannerforge/internal/monitoring"
)

// ErrNotConfigured is returned by Open when no push endpoint is set.
var ErrNotConfigured = errors.New("push endpoint is not configured")

// PushConfig configures the websocket push channel.
type PushConfig struct {
	URL         string        // ws:// or wss:// endpoint; empty disables the channel
	Token       string        // bearer credential, optional
	BackoffBase time.Duration // delay before the first reconnect attempt
	BackoffMax  time.Duration // cap for reconnect delays
	MaxAttempts int           // consecutive failures before the channel degrades
}

// Push maintains one exclusive websocket subscription for a job id.
//
// On unexpected disconnect it reconnects with capped exponential backoff
// (base, 2·base, 4·base, ... up to BackoffMax) and re-announces the job id on
// every reconnect. After MaxAttempts consecutive failures it reports itself
// permanently degraded for the job and stops retrying. Events are delivered
// on the reader goroutine; the handler serializes them.
type Push struct {
	cfg     PushConfig
	log     *logging.Logger
	metrics *monitoring.Metrics
	dialer  *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     int // connection generation; bumping it retires the old reader
	closing bool
	stop    chan struct{} // closed to wake the current reader out of a backoff sleep
}

// NewPush creates a push transport. Zero config fields get defaults:
// 1s base, 30s cap, 5 attempts.
func NewPush(cfg PushConfig, log *logging.Logger, metrics *monitoring.Metrics) *Push {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = logging.NewDefault()
	}
	return &Push{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Open announces interest in jobID. It fails fast when no endpoint is
// configured and otherwise returns immediately; events arrive through the
// handler. An already-open channel is closed first so two subscriptions never
// deliver at once.
func (p *Push) Open(jobID string, handler generation.PushHandler) error {
	if p.cfg.URL == "" {
		return ErrNotConfigured
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.stop != nil {
		close(p.stop)
	}
	p.stop = make(chan struct{})
	stop := p.stop
	p.closing = false
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	go p.run(gen, stop, jobID, handler)
	return nil
}

// Close tears the channel down. Safe to call repeatedly. It never blocks on
// the reader goroutine; callbacks already in flight are the owner's problem
// to drop, which the coordinator does via terminal idempotence.
func (p *Push) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closing = true
	p.gen++
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// run dials, subscribes and reads until the channel is closed or the retry
// budget is exhausted.
func (p *Push) run(gen int, stop <-chan struct{}, jobID string, handler generation.PushHandler) {
	failures := 0
	for {
		if p.stale(gen) {
			return
		}

		conn, err := p.connect(gen, jobID)
		if err != nil {
			if p.stale(gen) {
				return
			}
			failures++
			if p.metrics != nil {
				p.metrics.PushReconnects.Inc()
			}
			p.log.Warn("push connect failed",
				zap.String("job_id", jobID),
				zap.Int("failures", failures),
				zap.Error(err))
			handler.HandlePushDown(err)
			if failures >= p.cfg.MaxAttempts {
				p.log.Warn("push retry budget exhausted, channel degraded",
					zap.String("job_id", jobID))
				handler.HandlePushDegraded(err)
				return
			}
			if !p.wait(gen, stop, backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}

		failures = 0
		if p.metrics != nil {
			p.metrics.PushConnects.Inc()
		}
		handler.HandlePushUp(jobID)

		readErr := p.read(gen, conn, handler)
		if p.stale(gen) {
			return
		}
		// Unexpected disconnect: report down and go straight back to dialing.
		handler.HandlePushDown(readErr)
	}
}

// connect dials the endpoint and announces the job id.
func (p *Push) connect(gen int, jobID string) (*websocket.Conn, error) {
	header := http.Header{}
	if p.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	conn, _, err := p.dialer.Dial(p.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial push endpoint: %w", err)
	}

	p.mu.Lock()
	if p.closing || gen != p.gen {
		p.mu.Unlock()
		conn.Close()
		return nil, errors.New("push channel closed during connect")
	}
	p.conn = conn
	p.mu.Unlock()

	if err := conn.WriteJSON(generation.Event{Type: generation.EventSubscribe, JobID: jobID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce job interest: %w", err)
	}
	return conn, nil
}

// read delivers frames until the connection drops. Malformed frames are
// logged and dropped, never fatal to the session.
func (p *Push) read(gen int, conn *websocket.Conn, handler generation.PushHandler) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev generation.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			p.log.Warn("dropping malformed push frame",
				zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if p.stale(gen) {
			return nil
		}
		if p.metrics != nil {
			p.metrics.PushEvents.WithLabelValues(string(ev.Type)).Inc()
		}
		handler.HandlePushEvent(ev)
	}
}

// wait sleeps for d and reports whether the channel is still current. A
// Close or replacement Open wakes the sleep immediately instead of leaving
// the goroutine parked for the rest of the backoff delay.
func (p *Push) wait(gen int, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !p.stale(gen)
	case <-stop:
		return false
	}
}

func (p *Push) stale(gen int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing || gen != p.gen
}

// backoffDelay returns base doubled per prior failure, capped at max.
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
