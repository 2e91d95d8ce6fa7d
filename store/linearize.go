package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sessiongraph/sessiongraph/config"
	"github.com/sessiongraph/sessiongraph/event"
)

// Linearizer serializes appends per session. Writers to the same session
// are applied strictly in enqueue order; writers to different sessions run
// independently. Workers are started lazily per session and exit once the
// session's queue drains.
type Linearizer struct {
	store   *Store
	retries int

	mu     sync.Mutex
	queues map[string]*sessionQueue
}

type sessionQueue struct {
	jobs []appendJob
}

type appendResult struct {
	evt *event.Event
	err error
}

type appendJob struct {
	opts     AppendOptions
	flush    bool
	done     chan appendResult
	callback func(*event.Event, error)
}

// NewLinearizer wraps a store with a per-session append gate
func NewLinearizer(s *Store) *Linearizer {
	return &Linearizer{
		store:   s,
		retries: config.Get().AppendRetries,
		queues:  make(map[string]*sessionQueue),
	}
}

// Append enqueues the event and waits for it to commit. Cancelling the
// context abandons the wait, not the write: the event may still land.
func (l *Linearizer) Append(ctx context.Context, opts AppendOptions) (*event.Event, error) {
	done := make(chan appendResult, 1)
	l.enqueue(opts.SessionID, appendJob{opts: opts, done: done})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.evt, res.err
	}
}

// AppendAsync enqueues the event and returns immediately. onCreated (if
// non-nil) runs on the session's worker goroutine after the head has moved.
func (l *Linearizer) AppendAsync(opts AppendOptions, onCreated func(*event.Event, error)) {
	l.enqueue(opts.SessionID, appendJob{opts: opts, callback: onCreated})
}

// Flush waits until every append enqueued for the session before this call
// has been applied
func (l *Linearizer) Flush(ctx context.Context, sessionID string) error {
	done := make(chan appendResult, 1)
	l.enqueue(sessionID, appendJob{flush: true, done: done})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (l *Linearizer) enqueue(sessionID string, job appendJob) {
	l.mu.Lock()
	q, ok := l.queues[sessionID]
	if !ok {
		q = &sessionQueue{}
		l.queues[sessionID] = q
		go l.work(sessionID)
	}
	q.jobs = append(q.jobs, job)
	l.mu.Unlock()
}

// work drains one session's queue. Queue existence and contents are only
// touched under mu, so a drained queue is deleted before any new enqueue
// can observe it.
func (l *Linearizer) work(sessionID string) {
	for {
		l.mu.Lock()
		q := l.queues[sessionID]
		if len(q.jobs) == 0 {
			delete(l.queues, sessionID)
			l.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		l.mu.Unlock()

		l.run(job)
	}
}

func (l *Linearizer) run(job appendJob) {
	if job.flush {
		job.done <- appendResult{}
		return
	}

	evt, err := l.appendWithRetry(job.opts)
	if job.done != nil {
		job.done <- appendResult{evt: evt, err: err}
	}
	if job.callback != nil {
		job.callback(evt, err)
	}
}

// appendWithRetry re-reads the head and retries when an append loses a
// head race (possible when another process writes to the same database).
// A failed append rejects only its own operation; the next queued job
// resolves its parent from whatever head actually committed.
func (l *Linearizer) appendWithRetry(opts AppendOptions) (*event.Event, error) {
	var evt *event.Event
	var err error

	attempts := l.retries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		evt, err = l.store.Append(opts)
		if err == nil || !errors.Is(err, event.ErrStaleHead) {
			return evt, err
		}
		logger.Warn().
			Str("session_id", opts.SessionID).
			Int("attempt", attempt).
			Msg("head moved during append, retrying")
	}
	return nil, fmt.Errorf("append to %s after %d attempts: %w (%w)",
		opts.SessionID, attempts, event.ErrAppendConflict, err)
}
