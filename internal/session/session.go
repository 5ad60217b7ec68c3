package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nbisland/internal/dispatch"
	"nbisland/internal/funcall"
	"nbisland/internal/kernel"
	"nbisland/internal/logging"
	"nbisland/internal/notebook"
	"nbisland/internal/protocol"
	"nbisland/internal/queryparams"
	"nbisland/internal/transport"
)

var (
	ErrNotReady = errors.New("kernel is not ready for interaction")
	ErrClosed   = errors.New("session closed")
)

// Sender writes one framed message to the kernel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

type Options struct {
	// ID overrides the generated session id.
	ID              string
	AppID           string
	FunctionTimeout time.Duration
	IDGenerator     funcall.IDGenerator
	Notifier        dispatch.Notifier
	QueryHost       queryparams.Host
	Observers       []dispatch.Observer
	// Tap sees every inbound payload on the loop, before it is dispatched.
	Tap             func(raw string)
	// Trace logs every raw payload at debug level.
	Trace           bool
	Logger          *slog.Logger
}

type item struct {
	fn    func()
	final bool
}

// Session is one island bound to one kernel. Every inbound payload and
// every local state change runs on the session loop, one at a time, in the
// order it was queued.
type Session struct {
	id     string
	appID  string
	disp   *dispatch.Dispatcher
	sender Sender
	tap    func(string)
	trace  bool
	logger *slog.Logger

	mu      sync.Mutex
	queue   []item
	closing bool
	wake    chan struct{}
	stopped chan struct{}
	runOnce sync.Once
}

func New(sender Sender, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	logger = logging.ForSession(logger, id, opts.AppID)

	regOpts := []funcall.Option{funcall.WithLogger(logger.With("module", "funcall"))}
	if opts.FunctionTimeout > 0 {
		regOpts = append(regOpts, funcall.WithTimeout(opts.FunctionTimeout))
	}
	if opts.IDGenerator != nil {
		regOpts = append(regOpts, funcall.WithIDGenerator(opts.IDGenerator))
	}

	disp := dispatch.New(dispatch.Deps{
		Lifecycle: kernel.NewController(),
		Store:     notebook.NewStore(),
		Registry:  funcall.NewRegistry(regOpts...),
		Query:     queryparams.New(opts.QueryHost),
		Notifier:  opts.Notifier,
		Logger:    logger.With("module", "dispatch"),
	})
	for _, fn := range opts.Observers {
		disp.Observe(fn)
	}
	disp.Lifecycle().OnChange(func(from, to kernel.State) {
		logger.Info("kernel lifecycle changed", "from", from.String(), "to", to.String())
	})

	return &Session{
		id:      id,
		appID:   opts.AppID,
		disp:    disp,
		sender:  sender,
		tap:     opts.Tap,
		trace:   opts.Trace,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) AppID() string { return s.appID }
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.disp }
func (s *Session) Store() *notebook.Store { return s.disp.Store() }
func (s *Session) State() notebook.State { return s.disp.Store().State() }
func (s *Session) Lifecycle() kernel.State { return s.disp.Lifecycle().State() }
func (s *Session) Stats() dispatch.Stats { return s.disp.Stats() }

// Done is closed when the loop has processed session-closed and exited.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// Start moves the lifecycle to Starting before the kernel has spoken.
func (s *Session) Start() error {
	return s.disp.Lifecycle().Transition(kernel.Starting)
}

// Deliver queues one raw inbound payload. Payloads arriving after Close
// are dropped.
func (s *Session) Deliver(raw string) {
	if s.trace {
		s.logger.Debug("kernel payload received", "payload", raw)
	}
	if !s.enqueue(item{fn: func() {
		if s.tap != nil {
			s.tap(raw)
		}
		s.disp.DispatchRaw(raw)
	}}) {
		s.logger.Debug("payload dropped after close", "bytes", len(raw))
	}
}

// Post queues fn to run on the session loop.
func (s *Session) Post(fn func()) bool {
	return s.enqueue(item{fn: fn})
}

// Do runs fn on the session loop and waits for it to finish.
func (s *Session) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.enqueue(item{fn: func() { fn(); close(done) }}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
}

// Close queues a synthesized session-closed after everything already
// queued. It is safe to call more than once.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.queue = append(s.queue, item{
		fn:    func() { s.disp.Dispatch(protocol.SessionClosed{Reason: reason}) },
		final: true,
	})
	s.mu.Unlock()
	s.signal()
}

func (s *Session) enqueue(it item) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, it)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) next() (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return item{}, false
	}
	it := s.queue[0]
	s.queue[0] = item{}
	s.queue = s.queue[1:]
	return it, true
}

// Run drains the queue until session-closed has been dispatched. Canceling
// ctx closes the session; queued work still runs first.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("session loop already running")
	}
	defer close(s.stopped)

	ctxDone := ctx.Done()
	for {
		select {
		case <-s.wake:
		case <-ctxDone:
			ctxDone = nil
			s.Close("context canceled")
			continue
		}
		for {
			it, ok := s.next()
			if !ok {
				break
			}
			it.fn()
			if it.final {
				return nil
			}
		}
	}
}

// ReadFrom pumps inbound payloads from c until the transport ends, then
// closes the session.
func (s *Session) ReadFrom(ctx context.Context, c *transport.Client) error {
	c.OnText(s.Deliver)
	err := c.Run(ctx)
	reason := "transport closed"
	if err != nil {
		reason = "transport error: " + err.Error()
	}
	s.Close(reason)
	return err
}

func (s *Session) send(ctx context.Context, op protocol.Tag, data any) error {
	text, err := protocol.EncodeRequest(op, data)
	if err != nil {
		return err
	}
	if s.sender == nil {
		return fmt.Errorf("%w: no transport", ErrClosed)
	}
	if s.trace {
		s.logger.Debug("kernel request sent", "payload", text)
	}
	return s.sender.Send(ctx, text)
}

// CallFunction invokes a kernel function and waits for its result.
func (s *Session) CallFunction(ctx context.Context, namespace, name string, args json.RawMessage) (json.RawMessage, error) {
	if !s.Lifecycle().AcceptsInteraction() {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, s.Lifecycle())
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	reg := s.disp.Registry()
	id, call := reg.Issue(args)
	req := protocol.InvokeFunctionRequest{
		FunctionCallID: id,
		Namespace:      strings.TrimSpace(namespace),
		FunctionName:   strings.TrimSpace(name),
		Args:           args,
	}
	if err := s.send(ctx, protocol.TagInvokeFunction, req); err != nil {
		reg.Resolve(id, funcall.Result{Err: err})
		return nil, err
	}
	s.logger.Debug("function call issued", "function_call_id", id, "function_name", req.FunctionName)
	value, err := call.Wait(ctx)
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil && errors.Is(err, ctxErr) {
		if reg.Cancel(id, ctxErr.Error()) {
			s.logger.Debug("function call abandoned", "function_call_id", id, "err", ctxErr)
		}
	}
	return value, err
}

// SetUIElementValue records a UI value locally and sends it to the kernel,
// which reruns the cells that depend on it.
func (s *Session) SetUIElementValue(ctx context.Context, objectID string, value json.RawMessage) error {
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return errors.New("object id is required")
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	var storeErr error
	err := s.Do(ctx, func() {
		if !s.Lifecycle().AcceptsInteraction() {
			storeErr = fmt.Errorf("%w: %s", ErrNotReady, s.Lifecycle())
			return
		}
		if _, err := s.disp.Store().Dispatch(notebook.SetUIElementValue{ObjectID: objectID, Value: value}); err != nil {
			storeErr = err
			return
		}
		if s.Lifecycle() == kernel.Ready {
			_ = s.disp.Lifecycle().Transition(kernel.Running)
		}
	})
	if err != nil {
		return err
	}
	if storeErr != nil {
		return storeErr
	}
	return s.send(ctx, protocol.TagSetUIElementValue, protocol.SetUIElementValueRequest{
		ObjectIDs: []string{objectID},
		Values:    []json.RawMessage{value},
	})
}

// BindUIElement records that objectID was rendered by cellID.
func (s *Session) BindUIElement(ctx context.Context, cellID, objectID string) error {
	var bindErr error
	err := s.Do(ctx, func() {
		_, bindErr = s.disp.Store().Dispatch(notebook.BindUIElement{CellID: cellID, ObjectID: objectID})
	})
	if err != nil {
		return err
	}
	return bindErr
}

// Interrupt asks the kernel to stop the current run. The kernel answers
// with interrupted.
func (s *Session) Interrupt(ctx context.Context) error {
	switch s.Lifecycle() {
	case kernel.Terminated:
		return ErrClosed
	case kernel.Idle:
		return fmt.Errorf("%w: %s", ErrNotReady, kernel.Idle)
	}
	return s.send(ctx, protocol.TagInterrupt, struct{}{})
}
