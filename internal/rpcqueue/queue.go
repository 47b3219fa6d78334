package rpcqueue

import (
	"log/slog"
	"sync"
	"time"
)

// RetryBackoff is the fixed back-off for transient RPC failures
// (spec.md Section 4.7).
const RetryBackoff = 1 * time.Second

// Queue is one of the two independent task streams of spec.md Section
// 4.7: at most one task dispatched at a time, FIFO otherwise, with a
// retry timer gating re-dispatch on transient failure.
//
// Grounded on the dispatch discipline of internal/bfd/session.go's
// single-outstanding-action pattern, generalized from one BFD session
// to an arbitrary task queue.
type Queue struct {
	name   string
	logger *slog.Logger

	mu          sync.Mutex
	tasks       []Task
	dispatching bool
	finderDead  bool
	retryTimer  *time.Timer

	onDepthChange func(depth int)
	onFatal       func(task Task, outcome Outcome)
	onRetry       func(task Task)
}

// NewQueue allocates an empty, idle queue named name (used only for
// logging and metrics labels, e.g. "primary" or "notify").
func NewQueue(name string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{name: name, logger: logger}
}

// OnDepthChange registers a callback fired with the new queue depth
// every time it changes, for metrics (spec.md SPEC_FULL metrics:
// mgroupd_rpc_queue_depth).
func (q *Queue) OnDepthChange(f func(depth int)) { q.onDepthChange = f }

// OnFatal registers a callback fired when a PolicyFatal task's RPC
// fails permanently. The queue itself never decides to shut down; that
// is left to the caller (Node / cmd/mgroupd).
func (q *Queue) OnFatal(f func(task Task, outcome Outcome)) { q.onFatal = f }

// OnRetry registers a callback fired every time a task is about to be
// retried, for metrics (mgroupd_rpc_retries_total).
func (q *Queue) OnRetry(f func(task Task)) { q.onRetry = f }

// Enqueue appends t to the tail and dispatches it immediately if the
// queue is idle.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	depth := len(q.tasks)
	shouldDispatch := !q.dispatching && !q.finderDead
	q.mu.Unlock()
	q.reportDepth(depth)
	if shouldDispatch {
		q.dispatchNext()
	}
}

// Depth returns the current queue length, including any in-flight task.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// FinderDead stops further dispatch until Reconnect clears the flag
// (spec.md Section 4.7) and cancels a pending retry, leaving the head
// task for Reconnect to dispatch again. Queued tasks stay queued as
// they are; no registration state is marked or cleared.
func (q *Queue) FinderDead() {
	q.mu.Lock()
	q.finderDead = true
	if q.retryTimer != nil {
		if q.retryTimer.Stop() {
			q.dispatching = false
		}
		q.retryTimer = nil
	}
	q.mu.Unlock()
}

// Reconnect clears the finder-dead flag and resumes dispatch if work
// is queued.
func (q *Queue) Reconnect() {
	q.mu.Lock()
	q.finderDead = false
	shouldDispatch := !q.dispatching && len(q.tasks) > 0
	q.mu.Unlock()
	if shouldDispatch {
		q.dispatchNext()
	}
}

func (q *Queue) dispatchNext() {
	q.mu.Lock()
	if q.dispatching || len(q.tasks) == 0 || q.finderDead {
		q.mu.Unlock()
		return
	}
	q.dispatching = true
	t := q.tasks[0]
	q.mu.Unlock()

	q.logger.Debug("dispatching rpc task", "queue", q.name, "kind", t.Kind())
	t.Dispatch(func(o Outcome) { q.complete(t, o) })
}

func (q *Queue) complete(t Task, o Outcome) {
	disp := classify(o, t.IsTeardown())
	if disp == dispositionRetry && t.NoRetryOnTransient() {
		disp = dispositionLogAndContinue
	}

	switch disp {
	case dispositionAdvance:
		q.advance()
	case dispositionRetry:
		q.scheduleRetry(t)
	case dispositionLogAndContinue:
		q.logger.Warn("rpc task failed, continuing", "queue", q.name, "kind", t.Kind(), "outcome", o.String())
		q.advance()
	case dispositionFatal:
		q.handleFatal(t, o)
	}
}

func (q *Queue) handleFatal(t Task, o Outcome) {
	switch t.FailurePolicy() {
	case PolicyCompensate:
		q.logger.Warn("rpc task failed, compensating", "queue", q.name, "kind", t.Kind(), "outcome", o.String())
		if compensating := t.Compensate(); compensating != nil {
			q.mu.Lock()
			if len(q.tasks) > 0 {
				q.tasks[0] = compensating
			}
			q.dispatching = false
			q.mu.Unlock()
			q.dispatchNext()
			return
		}
		q.advance()
	case PolicyLogAndContinue:
		q.logger.Warn("rpc task failed, continuing", "queue", q.name, "kind", t.Kind(), "outcome", o.String())
		q.advance()
	default:
		q.logger.Error("rpc task failed fatally", "queue", q.name, "kind", t.Kind(), "outcome", o.String())
		if q.onFatal != nil {
			q.onFatal(t, o)
		}
		q.advance()
	}
}

func (q *Queue) scheduleRetry(t Task) {
	if q.onRetry != nil {
		q.onRetry(t)
	}
	q.mu.Lock()
	timer := time.AfterFunc(RetryBackoff, func() {
		q.mu.Lock()
		q.dispatching = false
		q.mu.Unlock()
		q.dispatchNext()
	})
	q.retryTimer = timer
	q.mu.Unlock()
}

func (q *Queue) advance() {
	q.mu.Lock()
	if len(q.tasks) > 0 {
		q.tasks = q.tasks[1:]
	}
	depth := len(q.tasks)
	q.dispatching = false
	q.mu.Unlock()
	q.reportDepth(depth)
	q.dispatchNext()
}

func (q *Queue) reportDepth(depth int) {
	if q.onDepthChange != nil {
		q.onDepthChange(depth)
	}
}
