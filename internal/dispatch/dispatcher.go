package dispatch

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"nbisland/internal/funcall"
	"nbisland/internal/kernel"
	"nbisland/internal/notebook"
	"nbisland/internal/protocol"
	"nbisland/internal/queryparams"
)

// Notifier shows user-facing alerts. It must not block.
type Notifier interface {
	Notify(protocol.Alert)
}

type NotifierFunc func(protocol.Alert)

func (f NotifierFunc) Notify(a protocol.Alert) { f(a) }

// Observer sees every operation after its handler has run.
type Observer func(protocol.Operation)

type Deps struct {
	Lifecycle *kernel.Controller
	Store     *notebook.Store
	Registry  *funcall.Registry
	Query     *queryparams.Synchronizer
	Notifier  Notifier
	Logger    *slog.Logger
}

// Stats counts handled operations and classified failures.
type Stats struct {
	Handled            uint64 `json:"handled"`
	Unsupported        uint64 `json:"unsupported"`
	MalformedEnvelope  uint64 `json:"malformed_envelope"`
	UnroutableTag      uint64 `json:"unroutable_tag"`
	StaleResolution    uint64 `json:"stale_resolution"`
	UnknownCellTarget  uint64 `json:"unknown_cell_target"`
	LifecycleViolation uint64 `json:"lifecycle_violation"`
}

type counters struct {
	handled            atomic.Uint64
	unsupported        atomic.Uint64
	malformedEnvelope  atomic.Uint64
	unroutableTag      atomic.Uint64
	staleResolution    atomic.Uint64
	unknownCellTarget  atomic.Uint64
	lifecycleViolation atomic.Uint64
}

// Dispatcher delivers each inbound operation to the collaborator that owns
// it. Calls must be serialized by the caller; the session loop does that.
// Failures are logged and counted, never returned.
type Dispatcher struct {
	lifecycle *kernel.Controller
	store     *notebook.Store
	registry  *funcall.Registry
	query     *queryparams.Synchronizer
	notifier  Notifier
	logger    *slog.Logger

	hookMu     sync.Mutex
	readyHooks []func(protocol.KernelReady)
	observers  []Observer

	stats counters
}

var _ protocol.Handler = (*Dispatcher)(nil)

func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		lifecycle: deps.Lifecycle,
		store:     deps.Store,
		registry:  deps.Registry,
		query:     deps.Query,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
	}
	if d.lifecycle == nil {
		d.lifecycle = kernel.NewController()
	}
	if d.store == nil {
		d.store = notebook.NewStore()
	}
	if d.registry == nil {
		d.registry = funcall.NewRegistry()
	}
	if d.query == nil {
		d.query = queryparams.New(nil)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d
}

func (d *Dispatcher) Lifecycle() *kernel.Controller { return d.lifecycle }
func (d *Dispatcher) Store() *notebook.Store { return d.store }
func (d *Dispatcher) Registry() *funcall.Registry { return d.registry }
func (d *Dispatcher) Query() *queryparams.Synchronizer { return d.query }

// OnReady registers fn to run after the store is initialized by
// kernel-ready and before the next operation is dispatched.
func (d *Dispatcher) OnReady(fn func(protocol.KernelReady)) {
	if fn == nil {
		return
	}
	d.hookMu.Lock()
	d.readyHooks = append(d.readyHooks, fn)
	d.hookMu.Unlock()
}

func (d *Dispatcher) Observe(fn Observer) {
	if fn == nil {
		return
	}
	d.hookMu.Lock()
	d.observers = append(d.observers, fn)
	d.hookMu.Unlock()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Handled:            d.stats.handled.Load(),
		Unsupported:        d.stats.unsupported.Load(),
		MalformedEnvelope:  d.stats.malformedEnvelope.Load(),
		UnroutableTag:      d.stats.unroutableTag.Load(),
		StaleResolution:    d.stats.staleResolution.Load(),
		UnknownCellTarget:  d.stats.unknownCellTarget.Load(),
		LifecycleViolation: d.stats.lifecycleViolation.Load(),
	}
}

// Routes reports the collaborator each known tag is delivered to.
func (d *Dispatcher) Routes() map[protocol.Tag]protocol.Route {
	out := map[protocol.Tag]protocol.Route{}
	for _, tag := range protocol.KnownTags() {
		if route, ok := protocol.RouteOf(tag); ok {
			out[tag] = route
		}
	}
	return out
}

// DispatchRaw parses one transport payload and dispatches it.
func (d *Dispatcher) DispatchRaw(raw string) {
	op, err := protocol.ParseOperation(raw)
	if err != nil {
		d.classifyParseError(err, raw)
		return
	}
	d.Dispatch(op)
}

func (d *Dispatcher) Dispatch(op protocol.Operation) {
	if op == nil {
		return
	}
	d.logger.Debug("dispatch operation", "op", string(op.Tag()))
	protocol.Visit(op, d)
	d.stats.handled.Add(1)

	d.hookMu.Lock()
	observers := append([]Observer(nil), d.observers...)
	d.hookMu.Unlock()
	for _, fn := range observers {
		fn(op)
	}
}

func (d *Dispatcher) classifyParseError(err error, raw string) {
	var unroutable *protocol.UnroutableTagError
	switch {
	case errors.As(err, &unroutable):
		d.stats.unroutableTag.Add(1)
		d.logger.Error("unroutable operation tag", "op", string(unroutable.Tag), "suggestion", string(unroutable.Suggestion))
	default:
		d.stats.malformedEnvelope.Add(1)
		d.logger.Warn("malformed envelope dropped", "err", err, "bytes", len(raw))
	}
}

func (d *Dispatcher) transition(to kernel.State, tag protocol.Tag) bool {
	if err := d.lifecycle.Transition(to); err != nil {
		d.stats.lifecycleViolation.Add(1)
		d.logger.Warn("lifecycle violation", "op", string(tag), "err", err)
		return false
	}
	return true
}

func (d *Dispatcher) applyStore(a notebook.Action, tag protocol.Tag, cellID string) bool {
	if _, err := d.store.Dispatch(a); err != nil {
		if errors.Is(err, notebook.ErrUnknownCell) {
			d.stats.unknownCellTarget.Add(1)
			d.logger.Warn("operation targets unknown cell", "op", string(tag), "cell_id", cellID)
			return false
		}
		d.logger.Error("store rejected action", "op", string(tag), "action", notebook.ActionName(a), "err", err)
		return false
	}
	return true
}

func (d *Dispatcher) HandleKernelReady(op protocol.KernelReady) {
	if !d.transition(kernel.Ready, op.Tag()) {
		return
	}
	d.applyStore(notebook.InitCells{
		IDs:      op.CellIDs,
		Codes:    op.Codes,
		Names:    op.Names,
		UIValues: op.UIValues,
		Resumed:  op.Resumed,
	}, op.Tag(), "")

	d.hookMu.Lock()
	hooks := slices.Clone(d.readyHooks)
	d.hookMu.Unlock()
	for _, fn := range hooks {
		fn(op)
	}
}

func (d *Dispatcher) HandleCompletedRun(op protocol.CompletedRun) {
	d.transition(kernel.Ready, op.Tag())
}

func (d *Dispatcher) HandleInterrupted(op protocol.Interrupted) {
	d.transition(kernel.Interrupted, op.Tag())
	d.registry.CancelAll("interrupted")
}

func (d *Dispatcher) HandleSessionClosed(op protocol.SessionClosed) {
	d.transition(kernel.Terminated, op.Tag())
	d.registry.CancelAll("terminated")
	d.registry.Close()
	d.applyStore(notebook.Reset{}, op.Tag(), "")
	d.logger.Info("session closed", "reason", op.Reason)
}

func (d *Dispatcher) HandleCellOp(op protocol.CellOp) {
	if !d.applyStore(notebook.ApplyCellOp{Op: op}, op.Tag(), op.CellID) {
		return
	}
	if op.Status == protocol.CellQueued || op.Status == protocol.CellRunning {
		if d.lifecycle.State() == kernel.Ready {
			d.transition(kernel.Running, op.Tag())
		}
	}
}

func (d *Dispatcher) HandleRemoveUIElements(op protocol.RemoveUIElements) {
	d.applyStore(notebook.RemoveCell{CellID: op.CellID}, op.Tag(), op.CellID)
}

func (d *Dispatcher) HandleFunctionCallResult(op protocol.FunctionCallResult) {
	result := funcall.Result{Value: op.Value}
	if !op.OK() {
		result = funcall.Result{Err: &funcall.FunctionError{Code: op.StatusCode, Message: op.StatusMessage}}
	}
	if !d.registry.Resolve(op.FunctionCallID, result) {
		d.stats.staleResolution.Add(1)
		d.logger.Warn("stale function call result", "function_call_id", op.FunctionCallID)
	}
}

func (d *Dispatcher) HandleQueryParams(op protocol.QueryParams) {
	if err := d.query.Apply(op); err != nil {
		d.stats.malformedEnvelope.Add(1)
		d.logger.Warn("query params operation rejected", "op", string(op.Tag()), "err", err)
	}
}

func (d *Dispatcher) HandleAlert(op protocol.Alert) {
	if d.notifier == nil {
		d.logger.Info("kernel alert", "kind", string(op.Kind), "title", op.Title, "description", op.Description)
		return
	}
	d.notifier.Notify(op)
}

func (d *Dispatcher) HandleUnsupported(op protocol.Unsupported) {
	d.stats.unsupported.Add(1)
	d.logger.Debug("unsupported operation ignored", "op", string(op.Kind))
}
