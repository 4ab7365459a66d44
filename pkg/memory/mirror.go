package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goclaw/hmem/config"
	"golang.org/x/time/rate"
)

// Mirror outcomes reported to MetricsRecorder.RecordMirror.
const (
	MirrorOutcomeOK      = "ok"
	MirrorOutcomeError   = "error"
	MirrorOutcomeDropped = "dropped"
)

// MirrorStats reports dispatcher counters.
type MirrorStats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

type mirrorJob struct {
	id          string
	concept     string
	description string
	tags        []string
}

// mirrorDispatcher delivers knowledge to a VectorIndex from a single
// background worker. Enqueue never blocks; jobs beyond the queue size are
// dropped. Jobs enqueued before Start wait in the queue.
type mirrorDispatcher struct {
	index   VectorIndex
	timeout time.Duration
	limiter *rate.Limiter
	metrics MetricsRecorder
	logger  memLogger

	jobs    chan mirrorJob
	closeCh chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func newMirrorDispatcher(index VectorIndex, cfg config.MirrorConfig, metrics MetricsRecorder, logger memLogger) *mirrorDispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &mirrorDispatcher{
		index:   index,
		timeout: cfg.Timeout,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan mirrorJob, cfg.QueueSize),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue schedules k for mirroring and reports whether it was accepted.
func (d *mirrorDispatcher) enqueue(k *SemanticKnowledge) bool {
	if d.closed.Load() {
		d.drop(k.ID)
		return false
	}
	job := mirrorJob{
		id:          k.ID,
		concept:     k.Concept,
		description: k.Description,
		tags:        append([]string(nil), k.Tags...),
	}
	select {
	case d.jobs <- job:
		return true
	default:
		d.drop(k.ID)
		return false
	}
}

func (d *mirrorDispatcher) drop(id string) {
	d.dropped.Add(1)
	d.metrics.RecordMirror(MirrorOutcomeDropped)
	d.logger.Debug("mirror job dropped", "knowledge_id", id)
}

// start launches the worker. Later calls are no-ops.
func (d *mirrorDispatcher) start(parent context.Context) {
	d.startOnce.Do(func() {
		if d.closed.Load() {
			return
		}
		ctx, cancel := context.WithCancel(parent)
		d.cancel = cancel
		d.started.Store(true)
		go d.run(ctx)
	})
}

func (d *mirrorDispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case job := <-d.jobs:
			d.deliver(ctx, job)
		case <-d.closeCh:
			d.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain delivers what is already queued.
func (d *mirrorDispatcher) drain(ctx context.Context) {
	for {
		select {
		case job := <-d.jobs:
			d.deliver(ctx, job)
		default:
			return
		}
	}
}

func (d *mirrorDispatcher) deliver(ctx context.Context, job mirrorJob) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.drop(job.id)
			return
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.index.Mirror(callCtx, job.id, job.concept, job.description, job.tags); err != nil {
		d.failed.Add(1)
		d.metrics.RecordMirror(MirrorOutcomeError)
		d.logger.Warn("mirror failed", "knowledge_id", job.id, "error", err)
		return
	}
	d.delivered.Add(1)
	d.metrics.RecordMirror(MirrorOutcomeOK)
}

// close stops accepting jobs and waits for the worker to drain the queue.
// When ctx expires first the worker is cancelled and ctx.Err is returned.
func (d *mirrorDispatcher) close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.closeCh)
		if !d.started.Load() {
			d.discard()
			return
		}
		select {
		case <-d.done:
		case <-ctx.Done():
			d.cancel()
			<-d.done
			err = ctx.Err()
		}
	})
	return err
}

func (d *mirrorDispatcher) discard() {
	for {
		select {
		case job := <-d.jobs:
			d.drop(job.id)
		default:
			return
		}
	}
}

func (d *mirrorDispatcher) stats() MirrorStats {
	return MirrorStats{
		Queued:    len(d.jobs),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
