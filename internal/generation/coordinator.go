package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/logging"
	"github.com/bannerforge/bannerforge/internal/monitoring"
	"github.com/bannerforge/bannerforge/internal/shared/id"
)

var (
	// ErrJobActive is returned by Start while a non-terminal job exists.
	ErrJobActive = errors.New("a generation job is already active; cancel it first")
	// ErrClosed is returned once the coordinator has been torn down.
	ErrClosed = errors.New("coordinator is closed")
)

// PushTransport is the persistent server-push channel for job events.
type PushTransport interface {
	// Open announces interest in jobID and starts delivering events through
	// handler. It fails fast when the channel is not configured; otherwise it
	// returns immediately and connection failures are retried internally.
	Open(jobID string, handler PushHandler) error
	// Close tears the channel down. Safe to call repeatedly, and must be
	// called before Open for a different job id.
	Close()
}

// PushHandler receives push transport callbacks. Calls arrive on the
// transport's reader goroutine; implementations must serialize themselves.
type PushHandler interface {
	HandlePushEvent(ev Event)
	// HandlePushDown fires on every unexpected disconnect, before the
	// transport starts its reconnect attempts.
	HandlePushDown(err error)
	// HandlePushUp fires after a successful (re)connect and resubscribe.
	HandlePushUp(jobID string)
	// HandlePushDegraded fires once the reconnect budget is exhausted; the
	// transport stops retrying for this job afterwards.
	HandlePushDegraded(err error)
}

// PollFallback periodically reads job status while the push channel is
// unavailable.
type PollFallback interface {
	Start(jobID string, handler PollHandler)
	Stop()
}

// PollHandler receives poll results.
type PollHandler interface {
	HandlePollStatus(jobID string, report StatusReport)
}

// Starter submits a generation request to the upstream service.
type Starter interface {
	StartJob(ctx context.Context, jobID string, req Request) error
}

// SnapshotStore persists the resumable projection of the current job.
// Read returns (nil, nil) when no usable record exists.
type SnapshotStore interface {
	Write(s Snapshot) error
	Read() (*Snapshot, error)
}

// Coordinator orchestrates the push transport and poll fallback against a
// single Job. All Job mutations are applied by one event loop goroutine;
// transports deliver callbacks which are funneled onto that loop, so no two
// mutations ever run concurrently.
type Coordinator struct {
	push    PushTransport
	poll    PollFallback
	starter Starter
	store   SnapshotStore
	log     *logging.Logger
	metrics *monitoring.Metrics

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Everything below is touched only from the event loop.
	job      Job
	asm      *ChunkAssembler
	subs     map[int]func(Job)
	nextSub  int
	polling  bool
	degraded bool
}

// NewCoordinator wires a coordinator from its collaborators. push and poll
// are required; starter, store and metrics may be nil (no upstream submit,
// no persistence, no metrics).
func NewCoordinator(push PushTransport, poll PollFallback, starter Starter, store SnapshotStore, log *logging.Logger, metrics *monitoring.Metrics) *Coordinator {
	if log == nil {
		log = logging.NewDefault()
	}
	c := &Coordinator{
		push:    push,
		poll:    poll,
		starter: starter,
		store:   store,
		log:     log,
		metrics: metrics,
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		job:     Job{State: StateIdle},
		asm:     NewChunkAssembler(),
		subs:    make(map[int]func(Job)),
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			return
		}
	}
}

// do runs fn on the event loop and waits for it.
func (c *Coordinator) do(fn func()) error {
	reply := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(reply) }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// dispatch queues fn on the event loop without waiting. Used by transport
// callbacks, which must not block on a closed coordinator.
func (c *Coordinator) dispatch(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.done:
	}
}

// Start creates a new job and opens the push transport. It returns the job id
// immediately; acceptance, progress and output arrive through Subscribe.
// A non-terminal job must be canceled first. Replacing a terminal job closes
// its transport handle before the new subscription opens.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	var (
		jobID    string
		startErr error
	)
	err := c.do(func() {
		if c.job.State.Active() {
			startErr = ErrJobActive
			return
		}
		c.releaseTransports()
		c.degraded = false

		jobID = id.NewJobID()
		c.asm = NewChunkAssembler()
		c.job = newJob(jobID, "Submitting request", time.Now())
		c.persist()
		c.notify()

		if err := c.push.Open(jobID, c); err != nil {
			// No push endpoint configured: polling is the only channel.
			c.log.Warn("push transport unavailable, polling only",
				zap.String("job_id", jobID), zap.Error(err))
			c.startPolling(jobID)
		}
	})
	if err != nil {
		return "", err
	}
	if startErr != nil {
		return "", startErr
	}
	// The submit call outlives the caller: an HTTP handler's context is
	// canceled the moment its response is written, and that must not abort
	// the upstream submission. Values (tracing, auth) are kept.
	go c.submit(context.WithoutCancel(ctx), jobID, req)
	return jobID, nil
}

// submit performs the upstream "start job" call off the event loop. A failed
// submit is a job-terminal error, not a transport error.
func (c *Coordinator) submit(ctx context.Context, jobID string, req Request) {
	if c.starter == nil {
		return
	}
	if err := c.starter.StartJob(ctx, jobID, req); err != nil {
		c.dispatch(func() {
			if c.job.ID != jobID {
				return
			}
			c.applyTerminal(OutcomeFailed, fmt.Sprintf("failed to submit job: %v", err))
		})
	}
}

// Subscribe registers fn to be invoked with the new Job value on every
// mutation. Callbacks run on the event loop and must not block. The returned
// disposer removes the subscription.
func (c *Coordinator) Subscribe(fn func(Job)) (func(), error) {
	var key int
	if err := c.do(func() {
		key = c.nextSub
		c.nextSub++
		c.subs[key] = fn
	}); err != nil {
		return nil, err
	}
	return func() {
		_ = c.do(func() { delete(c.subs, key) })
	}, nil
}

// Job returns the current job snapshot value.
func (c *Coordinator) Job() Job {
	j := Job{State: StateIdle}
	_ = c.do(func() { j = c.job })
	return j
}

// Cancel closes both channels and marks any active job Failed with a
// cancellation error. It is side-effect-free when no job is active, safe to
// call from any state, and both channels are closed before it returns; events
// that were already in flight are dropped by the terminal idempotence rule.
func (c *Coordinator) Cancel() error {
	return c.do(func() {
		c.releaseTransports()
		if !c.job.State.Active() {
			return
		}
		c.commit(c.job.withTerminal(OutcomeFailed, "generation canceled", time.Now()))
	})
}

// Restore loads the persisted snapshot once at startup. An in-flight job is
// reconstructed and both channels are opened for it: a restart is exactly
// when the push channel is most likely to have missed events. A terminal
// snapshot is restored as read-only history. Missing or unreadable records
// leave the coordinator Idle.
func (c *Coordinator) Restore(ctx context.Context) error {
	return c.do(func() {
		if c.job.State != StateIdle || c.store == nil {
			return
		}
		snap, err := c.store.Read()
		if err != nil {
			c.log.Warn("unreadable session snapshot, starting idle", zap.Error(err))
			return
		}
		if snap == nil {
			return
		}
		c.job = FromSnapshot(*snap)
		c.asm = NewChunkAssembler()
		c.asm.Seed(c.job.Buffer)
		c.notify()
		if !c.job.State.Active() {
			return
		}
		c.log.Info("resuming in-flight generation job",
			zap.String("job_id", c.job.ID),
			zap.Int("progress", c.job.Progress))
		if err := c.push.Open(c.job.ID, c); err != nil {
			c.log.Warn("push transport unavailable after restore", zap.Error(err))
		}
		c.startPolling(c.job.ID)
	})
}

// Close stops the event loop and releases both channels. The coordinator
// cannot be reused; Start, Subscribe and the rest return ErrClosed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.push.Close()
		c.poll.Stop()
	})
}

// HandlePushEvent implements PushHandler.
func (c *Coordinator) HandlePushEvent(ev Event) {
	c.dispatch(func() { c.applyEvent(ev) })
}

// HandlePushDown implements PushHandler. The poll fallback is activated
// pre-emptively on every disconnect, not only after the retry budget is
// exhausted, to close the observation gap during the reconnect window.
func (c *Coordinator) HandlePushDown(err error) {
	c.dispatch(func() {
		if !c.job.State.Active() {
			return
		}
		c.log.Warn("push channel down, poll fallback active",
			zap.String("job_id", c.job.ID), zap.Error(err))
		c.startPolling(c.job.ID)
	})
}

// HandlePushUp implements PushHandler. A healthy push channel makes the poll
// fallback redundant, so it is stopped.
func (c *Coordinator) HandlePushUp(jobID string) {
	c.dispatch(func() {
		if c.job.ID != jobID {
			return
		}
		c.degraded = false
		if c.polling {
			c.poll.Stop()
			c.polling = false
		}
	})
}

// HandlePushDegraded implements PushHandler. From here on the poll fallback
// is the sole source of updates for this job.
func (c *Coordinator) HandlePushDegraded(err error) {
	c.dispatch(func() {
		if !c.job.State.Active() {
			return
		}
		c.degraded = true
		c.log.Warn("push channel permanently degraded for job",
			zap.String("job_id", c.job.ID), zap.Error(err))
		c.startPolling(c.job.ID)
	})
}

// HandlePollStatus implements PollHandler.
func (c *Coordinator) HandlePollStatus(jobID string, report StatusReport) {
	c.dispatch(func() { c.applyReport(jobID, report) })
}

// applyEvent folds one push event into the job. Events for other job ids,
// or for a terminal job, are dropped.
func (c *Coordinator) applyEvent(ev Event) {
	if ev.JobID != c.job.ID || c.job.State == StateIdle || c.job.State.Terminal() {
		return
	}
	switch ev.Type {
	case EventStatus:
		c.commit(c.job.withStatus(State(ev.State), ev.Progress, ev.Message))
	case EventChunk:
		buf := c.asm.Append(ev.Chunk, ev.IsComplete)
		if c.metrics != nil {
			c.metrics.ChunksTotal.Inc()
		}
		c.commit(c.job.withBuffer(buf, !c.asm.Done()))
	case EventTerminal:
		c.applyTerminal(ev.Outcome, ev.Error)
	default:
		c.log.Warn("dropping push event of unknown type",
			zap.String("type", string(ev.Type)), zap.String("job_id", ev.JobID))
	}
}

// applyReport folds one poll report into the job under the same transition
// rules as push events.
func (c *Coordinator) applyReport(jobID string, report StatusReport) {
	if jobID != c.job.ID || c.job.State == StateIdle || c.job.State.Terminal() {
		return
	}
	switch State(report.State) {
	case StateComplete:
		c.applyTerminal(OutcomeComplete, "")
	case StateFailed:
		c.applyTerminal(OutcomeFailed, report.Error)
	default:
		c.commit(c.job.withStatus(State(report.State), report.Progress, report.Message))
	}
}

// applyTerminal commits a terminal transition and releases both channels.
// First writer wins: the guard in applyEvent/applyReport drops the loser.
func (c *Coordinator) applyTerminal(outcome, errMsg string) {
	c.commit(c.job.withTerminal(outcome, errMsg, time.Now()))
	c.releaseTransports()
}

// commit replaces the job value, persists it and notifies subscribers.
func (c *Coordinator) commit(next Job) {
	if next == c.job {
		return
	}
	c.job = next
	if c.metrics != nil {
		c.metrics.JobProgress.Set(float64(next.Progress))
	}
	c.persist()
	c.notify()
}

func (c *Coordinator) startPolling(jobID string) {
	if c.polling || c.job.State.Terminal() {
		return
	}
	c.polling = true
	c.poll.Start(jobID, c)
}

func (c *Coordinator) releaseTransports() {
	c.push.Close()
	if c.polling {
		c.poll.Stop()
		c.polling = false
	}
}

// persist writes the current snapshot. Write failures are logged and
// ignored; a missing snapshot only costs resumability after a restart.
func (c *Coordinator) persist() {
	if c.store == nil {
		return
	}
	if err := c.store.Write(c.job.Snapshot()); err != nil {
		c.log.Warn("failed to persist session snapshot",
			zap.String("job_id", c.job.ID), zap.Error(err))
	}
}

func (c *Coordinator) notify() {
	for _, fn := range c.subs {
		fn(c.job)
	}
}
