package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/generation"
	"github.com/bannerforge/bannerforge/internal/logging"
	"github.com/bannerforge/bannerforge/internal/monitoring"
)

// PollConfig configures the poll fallback cadence.
type PollConfig struct {
	Interval         time.Duration // healthy cadence
	DegradedInterval time.Duration // cadence after a poll error
}

// Poller periodically reads job status while the push channel is
// unavailable. Ticks are jittered so a fleet of sessions does not hit the
// upstream in lockstep after a shared outage.
type Poller struct {
	client  *Client
	cfg     PollConfig
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPoller creates a poll fallback. Zero intervals default to 2s active and
// 5s degraded.
func NewPoller(client *Client, cfg PollConfig, log *logging.Logger, metrics *monitoring.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.DegradedInterval <= 0 {
		cfg.DegradedInterval = 5 * time.Second
	}
	if log == nil {
		log = logging.NewDefault()
	}
	return &Poller{
		client:  client,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// Start begins polling jobID. A second Start while already running is a
// no-op; the poller follows one job at a time.
func (p *Poller) Start(jobID string, handler generation.PollHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx, jobID, handler)
}

// Stop halts polling. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context, jobID string, handler generation.PollHandler) {
	jitter := &jitterbug.Norm{Stdev: 50 * time.Millisecond}
	interval := p.cfg.Interval

	timer := time.NewTimer(jitter.Jitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		report, err := p.client.Status(ctx, jobID)
		switch {
		case errors.Is(err, ErrUnknownJob):
			// The server no longer recognizes the job; surface it as a
			// terminal failure and stop.
			if p.metrics != nil {
				p.metrics.PollRequests.WithLabelValues("error").Inc()
			}
			p.log.Warn("upstream does not recognize job", zap.String("job_id", jobID))
			handler.HandlePollStatus(jobID, generation.StatusReport{
				State: string(generation.StateFailed),
				Error: ErrUnknownJob.Error(),
			})
			return
		case ctx.Err() != nil:
			return
		case err != nil:
			if p.metrics != nil {
				p.metrics.PollRequests.WithLabelValues("error").Inc()
			}
			p.log.Warn("status poll failed", zap.String("job_id", jobID), zap.Error(err))
			interval = p.cfg.DegradedInterval
		default:
			if p.metrics != nil {
				p.metrics.PollRequests.WithLabelValues("ok").Inc()
			}
			interval = p.cfg.Interval
			handler.HandlePollStatus(jobID, *report)
		}

		timer.Reset(jitter.Jitter(interval))
	}
}
