// ABOUTME: Per-recipient serialized outbound delivery with rate limiting.
// ABOUTME: One worker goroutine per recipient drains a bounded FIFO queue.

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/campoverde/agrobot/internal/transport"
)

// queueSize bounds each recipient's pending jobs. Conversational replies
// arrive in small bursts, so a full queue indicates a stuck transport
// and the job is dropped rather than blocking the caller.
const queueSize = 64

// Job is one outbound delivery unit.
type Job struct {
	RecipientID string
	Message     transport.Message
	EnqueuedAt  time.Time
}

// SentFunc observes every completed delivery attempt. ok is false when
// the transport rejected the message.
type SentFunc func(job Job, ok bool)

// Dispatcher fans jobs out to one worker per recipient. Jobs for the
// same recipient never interleave; different recipients proceed fully
// in parallel. Delivery failures are logged and dropped: the triggering
// conversational state has already advanced, so a retry would risk
// out-of-order or duplicate messages.
type Dispatcher struct {
	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	sender   transport.Sender
	minDelay time.Duration
	onSent   SentFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher with the given minimum delay between sends
// to the same recipient. onSent may be nil.
func New(sender transport.Sender, minDelay time.Duration, onSent SentFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		workers:  make(map[string]*worker),
		sender:   sender,
		minDelay: minDelay,
		onSent:   onSent,
		logger:   logger.With("component", "dispatch"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

type worker struct {
	jobs    chan Job
	limiter *rate.Limiter
}

// Enqueue appends a job to the recipient's queue. Returns false when the
// dispatcher is closed or the recipient's queue is full.
func (d *Dispatcher) Enqueue(recipientID string, msg transport.Message) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	w, ok := d.workers[recipientID]
	if !ok {
		w = &worker{
			jobs:    make(chan Job, queueSize),
			limiter: rate.NewLimiter(rate.Every(d.minDelay), 1),
		}
		d.workers[recipientID] = w
		d.wg.Add(1)
		go d.drain(recipientID, w)
	}
	d.mu.Unlock()

	job := Job{RecipientID: recipientID, Message: msg, EnqueuedAt: time.Now()}
	select {
	case w.jobs <- job:
		return true
	default:
		d.logger.Warn("outbound queue full, dropping job",
			"recipient", recipientID, "kind", msg.Kind)
		return false
	}
}

// drain delivers jobs for one recipient in order. The limiter enforces
// the minimum inter-send delay after both successful and failed attempts.
func (d *Dispatcher) drain(recipientID string, w *worker) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-w.jobs:
			if err := w.limiter.Wait(d.ctx); err != nil {
				return
			}
			err := d.sender.Send(d.ctx, recipientID, job.Message)
			if err != nil {
				d.logger.Warn("delivery failed, job dropped",
					"recipient", recipientID,
					"kind", job.Message.Kind,
					"error", err)
			}
			if d.onSent != nil {
				d.onSent(job, err == nil)
			}
		}
	}
}

// Close stops all workers. Pending jobs are abandoned.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
