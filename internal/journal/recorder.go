package journal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"nbisland/internal/notebook"
	"nbisland/internal/protocol"
)

const (
	defaultQueueSize = 1024
	maxBatch         = 64
)

type job struct {
	entry    *Entry
	snapshot *notebook.State
	end      string
	ended    bool
}

// Recorder writes a session's inbound payloads to the Store off the
// session loop. Enqueueing never blocks; when the queue is full the job is
// dropped and counted.
type Recorder struct {
	store     *Store
	sessionID string
	state     func() notebook.State
	now       func() time.Time
	logger    *slog.Logger

	jobs    chan job
	seq     atomic.Int64
	dropped atomic.Uint64
	written atomic.Uint64
}

type RecorderOption func(*Recorder)

func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.jobs = make(chan job, n)
		}
	}
}

func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStateSource lets the recorder snapshot cells on kernel-ready and
// completed-run.
func WithStateSource(fn func() notebook.State) RecorderOption {
	return func(r *Recorder) {
		r.state = fn
	}
}

func NewRecorder(store *Store, sessionID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobs:      make(chan job, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) enqueue(j job) bool {
	select {
	case r.jobs <- j:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Inbound records one raw payload. It is meant to be the session tap.
func (r *Recorder) Inbound(raw string) {
	var env struct {
		Op string `json:"op"`
	}
	_ = json.Unmarshal([]byte(raw), &env)
	route, _ := protocol.RouteOf(protocol.Tag(env.Op))
	entry := &Entry{
		Seq:       r.seq.Add(1),
		Op:        env.Op,
		Route:     string(route),
		Payload:   raw,
		CreatedAt: r.now(),
	}
	if !r.enqueue(job{entry: entry}) {
		r.logger.Warn("journal entry dropped", "seq", entry.Seq, "op", entry.Op)
	}
}

// Observe is a dispatcher observer.
func (r *Recorder) Observe(op protocol.Operation) {
	switch o := op.(type) {
	case protocol.KernelReady, protocol.CompletedRun:
		if r.state == nil {
			return
		}
		st := r.state()
		r.enqueue(job{snapshot: &st})
	case protocol.SessionClosed:
		r.enqueue(job{end: o.Reason, ended: true})
	}
}

// Run writes queued jobs until ctx ends, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	batch := make([]Entry, 0, maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.Append(r.sessionID, batch); err != nil {
			r.logger.Error("journal append failed", "count", len(batch), "err", err)
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}
	handle := func(j job) {
		switch {
		case j.entry != nil:
			batch = append(batch, *j.entry)
			if len(batch) >= maxBatch {
				flush()
			}
		case j.snapshot != nil:
			flush()
			if err := r.store.SaveSnapshot(r.sessionID, *j.snapshot, r.now()); err != nil {
				r.logger.Error("journal snapshot failed", "err", err)
			}
		case j.ended:
			flush()
			if err := r.store.EndSession(r.sessionID, j.end, r.now()); err != nil {
				r.logger.Error("journal end session failed", "err", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case j := <-r.jobs:
					handle(j)
				default:
					flush()
					return nil
				}
			}
		case j := <-r.jobs:
			handle(j)
			if len(r.jobs) == 0 {
				flush()
			}
		}
	}
}
