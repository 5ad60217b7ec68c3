package funcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCanceled         = errors.New("function call canceled")
	ErrDeadlineExceeded = errors.New("function call deadline exceeded")
)

// CanceledError settles a call that will never get a kernel reply.
type CanceledError struct {
	ID     string
	Reason string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("function call %s canceled: %s", e.ID, e.Reason)
}

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

// FunctionError is a failure the kernel reported for one call.
type FunctionError struct {
	Code    string
	Message string
}

func (e *FunctionError) Error() string {
	if e.Message == "" {
		return "function failed: " + e.Code
	}
	return fmt.Sprintf("function failed: %s: %s", e.Code, e.Message)
}

// Result is the kernel's answer to one call.
type Result struct {
	Value json.RawMessage
	Err   error
}

// Call is one outstanding request. It settles exactly once.
type Call struct {
	ID      string
	Payload json.RawMessage
	Issued  time.Time

	done   chan struct{}
	once   sync.Once
	result Result
	timer  *time.Timer
}

func newCall(id string, payload json.RawMessage, now time.Time) *Call {
	return &Call{ID: id, Payload: payload, Issued: now, done: make(chan struct{})}
}

func (c *Call) settle(r Result) bool {
	settled := false
	c.once.Do(func() {
		c.result = r
		if c.timer != nil {
			c.timer.Stop()
		}
		close(c.done)
		settled = true
	})
	return settled
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the settled result. It is only meaningful after Done.
func (c *Call) Result() Result {
	select {
	case <-c.done:
		return c.result
	default:
		return Result{}
	}
}

// Wait blocks until the call settles or ctx ends. A canceled ctx does not
// settle the call.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result.Value, c.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type IDGenerator func() string

type Option func(*Registry)

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// WithTimeout gives every call a deadline. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry correlates outbound function calls with their replies. An id is
// never handed out twice during the registry's life.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Call
	issued  map[string]struct{}
	closed  bool

	newID   IDGenerator
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pending: map[string]*Call{},
		issued:  map[string]struct{}{},
		newID:   func() string { return uuid.NewString() },
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue registers a new pending call and returns its id. After Close the
// returned call is already canceled.
func (r *Registry) Issue(payload json.RawMessage) (string, *Call) {
	r.mu.Lock()
	id := r.newID()
	for {
		if _, used := r.issued[id]; !used && id != "" {
			break
		}
		id = r.newID()
	}
	r.issued[id] = struct{}{}
	call := newCall(id, payload, r.now())
	if r.closed {
		r.mu.Unlock()
		call.settle(Result{Err: &CanceledError{ID: id, Reason: "registry closed"}})
		return id, call
	}
	r.pending[id] = call
	if r.timeout > 0 {
		call.timer = time.AfterFunc(r.timeout, func() { r.expire(id) })
	}
	r.mu.Unlock()
	return id, call
}

// Resolve settles the pending call with the given id. It reports false,
// and changes nothing, for an id that is not pending.
func (r *Registry) Resolve(id string, result Result) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("function call result has no pending call", "function_call_id", id)
		return false
	}
	call.settle(result)
	return true
}

// Cancel settles one pending call with a CanceledError. A later result for
// the id is stale.
func (r *Registry) Cancel(id, reason string) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	call.settle(Result{Err: &CanceledError{ID: id, Reason: reason}})
	return true
}

// CancelAll settles every pending call with a CanceledError carrying
// reason and returns how many were canceled.
func (r *Registry) CancelAll(reason string) int {
	r.mu.Lock()
	calls := make([]*Call, 0, len(r.pending))
	for id, call := range r.pending {
		calls = append(calls, call)
		delete(r.pending, id)
	}
	r.mu.Unlock()
	for _, call := range calls {
		call.settle(Result{Err: &CanceledError{ID: call.ID, Reason: reason}})
	}
	if len(calls) > 0 {
		r.logger.Info("function calls canceled", "count", len(calls), "reason", reason)
	}
	return len(calls)
}

// Close cancels everything still pending and refuses further work.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.CancelAll("registry closed")
}

func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) IsPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

func (r *Registry) expire(id string) {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Warn("function call timed out", "function_call_id", id, "timeout", r.timeout.String())
	call.settle(Result{Err: fmt.Errorf("%w: %s", ErrDeadlineExceeded, id)})
}
