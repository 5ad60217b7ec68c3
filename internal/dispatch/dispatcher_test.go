package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"

	"nbisland/internal/funcall"
	"nbisland/internal/kernel"
	"nbisland/internal/protocol"
	"nbisland/internal/queryparams"
)

var samplePayloads = map[protocol.Tag]string{
	protocol.TagKernelReady:            `{"cell_ids":["c1"]}`,
	protocol.TagCompletedRun:           `{}`,
	protocol.TagInterrupted:            `{}`,
	protocol.TagSessionClosed:          `{"reason":"bye"}`,
	protocol.TagCellOp:                 `{"cell_id":"c1","status":"idle"}`,
	protocol.TagRemoveUIElements:       `{"cell_id":"c1"}`,
	protocol.TagFunctionCallResult:     `{"function_call_id":"f1","return_value":1}`,
	protocol.TagQueryParamsAppend:      `{"key":"k","value":"v"}`,
	protocol.TagQueryParamsSet:         `{"key":"k","value":["v"]}`,
	protocol.TagQueryParamsDelete:      `{"key":"k"}`,
	protocol.TagQueryParamsClear:       `{}`,
	protocol.TagAlert:                  `{"title":"t","description":"d"}`,
	protocol.TagBanner:                 `{"title":"t"}`,
	protocol.TagMissingPackageAlert:    `{"packages":["numpy"]}`,
	protocol.TagInstallingPackageAlert: `{"packages":{"numpy":"installing"}}`,
	protocol.TagKernelStartupError:     `{"error":"boom"}`,
	protocol.TagVariables:              `{"variables":[]}`,
	protocol.TagVariableValues:         `{}`,
	protocol.TagCompletionResult:       `{}`,
	protocol.TagReload:                 `{}`,
	protocol.TagReconnected:            `{}`,
	protocol.TagFocusCell:              `{"cell_id":"c1"}`,
	protocol.TagUpdateCellCodes:        `{}`,
	protocol.TagUpdateCellIDs:          `{}`,
	protocol.TagSendUIElementMessage:   `{}`,
	protocol.TagDatasets:               `{}`,
	protocol.TagDataColumnPreview:      `{}`,
	protocol.TagSQLTablePreview:        `{}`,
	protocol.TagSecretKeysResult:       `{}`,
	protocol.TagStartupLogs:            `{}`,
}

func frame(tag protocol.Tag, data string) string {
	return fmt.Sprintf(`{"op":%q,"data":%s}`, tag, data)
}

// recorder counts which Handler methods an operation reaches.
type recorder struct {
	calls []string
}

func (r *recorder) HandleKernelReady(protocol.KernelReady) { r.calls = append(r.calls, "lifecycle") }
func (r *recorder) HandleCompletedRun(protocol.CompletedRun) { r.calls = append(r.calls, "lifecycle") }
func (r *recorder) HandleInterrupted(protocol.Interrupted) { r.calls = append(r.calls, "lifecycle") }
func (r *recorder) HandleSessionClosed(protocol.SessionClosed) { r.calls = append(r.calls, "lifecycle") }
func (r *recorder) HandleCellOp(protocol.CellOp) { r.calls = append(r.calls, "store") }
func (r *recorder) HandleRemoveUIElements(protocol.RemoveUIElements) { r.calls = append(r.calls, "store") }
func (r *recorder) HandleFunctionCallResult(protocol.FunctionCallResult) { r.calls = append(r.calls, "functions") }
func (r *recorder) HandleQueryParams(protocol.QueryParams) { r.calls = append(r.calls, "query-params") }
func (r *recorder) HandleAlert(protocol.Alert) { r.calls = append(r.calls, "notify") }
func (r *recorder) HandleUnsupported(protocol.Unsupported) { r.calls = append(r.calls, "unsupported") }

func TestDispatcher_EveryKnownTagHasExactlyOneHandler(t *testing.T) {
	routes := New(Deps{}).Routes()
	for _, tag := range protocol.KnownTags() {
		payload, ok := samplePayloads[tag]
		if !ok {
			t.Fatalf("no sample payload for tag %s", tag)
		}
		op, err := protocol.ParseOperation(frame(tag, payload))
		if err != nil {
			t.Fatalf("parse %s failed: %v", tag, err)
		}
		rec := &recorder{}
		protocol.Visit(op, rec)
		if len(rec.calls) != 1 {
			t.Fatalf("tag %s reached %d handlers", tag, len(rec.calls))
		}
		if protocol.Route(rec.calls[0]) != routes[tag] {
			t.Fatalf("tag %s handled by %s, routed to %s", tag, rec.calls[0], routes[tag])
		}
	}
	if len(samplePayloads) != len(protocol.KnownTags()) {
		t.Fatalf("sample payloads cover %d tags, parser knows %d", len(samplePayloads), len(protocol.KnownTags()))
	}
}

func TestDispatcher_KernelReadyThenRunToIdle(t *testing.T) {
	d := New(Deps{})
	ready := 0
	d.OnReady(func(op protocol.KernelReady) {
		ready++
		if d.Store().State().Len() != 1 {
			t.Fatalf("ready hook ran before the store was initialized")
		}
	})
	d.DispatchRaw(`{"op":"kernel-ready","data":{"cell_ids":["c1"]}}`)
	d.DispatchRaw(`{"op":"cell-op","data":{"cell_id":"c1","status":"running"}}`)
	if d.Lifecycle().State() != kernel.Running {
		t.Fatalf("expected running, got %s", d.Lifecycle().State())
	}
	d.DispatchRaw(`{"op":"cell-op","data":{"cell_id":"c1","status":"idle","output":"42"}}`)
	d.DispatchRaw(`{"op":"completed-run","data":{}}`)

	cell, ok := d.Store().State().Cell("c1")
	if !ok || cell.Status != protocol.CellIdle || cell.Output == nil || cell.Output.Text() != "42" {
		t.Fatalf("unexpected cell: %+v", cell)
	}
	if d.Lifecycle().State() != kernel.Ready || ready != 1 {
		t.Fatalf("unexpected lifecycle %s ready=%d", d.Lifecycle().State(), ready)
	}
}

func TestDispatcher_FunctionCallResolvesOnce(t *testing.T) {
	reg := funcall.NewRegistry(funcall.WithIDGenerator(func() string { return "f1" }))
	d := New(Deps{Registry: reg})
	id, call := reg.Issue(json.RawMessage(`{}`))
	if id != "f1" {
		t.Fatalf("unexpected id %s", id)
	}
	d.DispatchRaw(`{"op":"function-call-result","data":{"function_call_id":"f1","return_value":{"hits":3}}}`)
	d.DispatchRaw(`{"op":"function-call-result","data":{"function_call_id":"f1","return_value":{"hits":4}}}`)

	v, err := call.Wait(context.Background())
	if err != nil || string(v) != `{"hits":3}` {
		t.Fatalf("unexpected resolution %s %v", string(v), err)
	}
	if got := d.Stats().StaleResolution; got != 1 {
		t.Fatalf("expected one stale resolution, got %d", got)
	}
	if reg.Pending() != 0 {
		t.Fatalf("expected no pending calls, got %d", reg.Pending())
	}
}

func TestDispatcher_FunctionCallFailureStatus(t *testing.T) {
	reg := funcall.NewRegistry()
	d := New(Deps{Registry: reg})
	id, call := reg.Issue(nil)
	d.DispatchRaw(frame(protocol.TagFunctionCallResult, fmt.Sprintf(`{"function_call_id":%q,"status":{"code":"error","message":"bad args"}}`, id)))
	_, err := call.Wait(context.Background())
	var ferr *funcall.FunctionError
	if !errors.As(err, &ferr) || ferr.Message != "bad args" {
		t.Fatalf("expected FunctionError, got %v", err)
	}
}

func TestDispatcher_InterruptCancelsPendingBeforeNextEvent(t *testing.T) {
	reg := funcall.NewRegistry()
	d := New(Deps{Registry: reg})
	d.DispatchRaw(frame(protocol.TagKernelReady, `{"cell_ids":["c1"]}`))
	_, call := reg.Issue(nil)
	d.Observe(func(op protocol.Operation) {
		if op.Tag() == protocol.TagInterrupted && reg.Pending() != 0 {
			t.Fatalf("pending calls survived interrupt")
		}
	})
	d.DispatchRaw(frame(protocol.TagInterrupted, `{}`))
	if _, err := call.Wait(context.Background()); !errors.Is(err, funcall.ErrCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if d.Lifecycle().State() != kernel.Interrupted {
		t.Fatalf("expected interrupted, got %s", d.Lifecycle().State())
	}
	d.DispatchRaw(frame(protocol.TagCompletedRun, `{}`))
	if d.Lifecycle().State() != kernel.Ready {
		t.Fatalf("expected ready after completed-run, got %s", d.Lifecycle().State())
	}
}

func TestDispatcher_SessionClosedTearsDown(t *testing.T) {
	reg := funcall.NewRegistry()
	d := New(Deps{Registry: reg})
	d.DispatchRaw(frame(protocol.TagKernelReady, `{"cell_ids":["c1","c2"]}`))
	_, call := reg.Issue(nil)
	d.DispatchRaw(frame(protocol.TagSessionClosed, `{}`))

	if d.Lifecycle().State() != kernel.Terminated {
		t.Fatalf("expected terminated, got %s", d.Lifecycle().State())
	}
	if d.Store().State().Len() != 0 {
		t.Fatal("cells should be destroyed on session close")
	}
	if _, err := call.Wait(context.Background()); !errors.Is(err, funcall.ErrCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	d.DispatchRaw(frame(protocol.TagKernelReady, `{"cell_ids":["c1"]}`))
	if d.Lifecycle().State() != kernel.Terminated || d.Store().State().Len() != 0 {
		t.Fatal("terminated session must not come back to life")
	}
	if d.Stats().LifecycleViolation != 1 {
		t.Fatalf("expected one lifecycle violation, got %d", d.Stats().LifecycleViolation)
	}
}

func TestDispatcher_ClassifiesFailures(t *testing.T) {
	d := New(Deps{})
	d.DispatchRaw(`not json`)
	d.DispatchRaw(`{"op":"kernel_ready","data":{}}`)
	d.DispatchRaw(frame(protocol.TagCellOp, `{"cell_id":"ghost","status":"idle"}`))
	d.DispatchRaw(frame(protocol.TagRemoveUIElements, `{"cell_id":"ghost"}`))
	d.DispatchRaw(frame(protocol.TagFunctionCallResult, `{"function_call_id":"nobody"}`))
	d.DispatchRaw(frame(protocol.TagVariables, `{}`))

	got := d.Stats()
	want := Stats{
		Handled:           4,
		Unsupported:       1,
		MalformedEnvelope: 1,
		UnroutableTag:     1,
		StaleResolution:   1,
		UnknownCellTarget: 2,
	}
	if got != want {
		t.Fatalf("unexpected stats:\n got  %+v\n want %+v", got, want)
	}
}

func TestDispatcher_QueryParamsAndAlertsReachCollaborators(t *testing.T) {
	var pushed []string
	var alerts []protocol.Alert
	d := New(Deps{
		Query:    queryparams.New(queryparams.HostFunc(func(q string) { pushed = append(pushed, q) })),
		Notifier: NotifierFunc(func(a protocol.Alert) { alerts = append(alerts, a) }),
	})
	d.DispatchRaw(frame(protocol.TagQueryParamsSet, `{"key":"k","value":"1"}`))
	d.DispatchRaw(frame(protocol.TagQueryParamsAppend, `{"key":"k","value":"2"}`))
	d.DispatchRaw(frame(protocol.TagQueryParamsClear, `{}`))
	d.DispatchRaw(frame(protocol.TagQueryParamsSet, `{"key":"k","value":"3"}`))
	d.DispatchRaw(frame(protocol.TagKernelStartupError, `{"error":"no python"}`))

	if got := d.Query().Encode(); got != "k=3" {
		t.Fatalf("unexpected query %q", got)
	}
	if len(pushed) != 4 {
		t.Fatalf("expected 4 host updates, got %v", pushed)
	}
	if len(alerts) != 1 || alerts[0].Description != "no python" || alerts[0].Variant != "danger" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
}

func TestDispatcher_QueryParamsAcceptNumericValues(t *testing.T) {
	var pushed []string
	d := New(Deps{
		Query: queryparams.New(queryparams.HostFunc(func(q string) { pushed = append(pushed, q) })),
	})
	d.DispatchRaw(frame(protocol.TagQueryParamsSet, `{"key":"k","value":1}`))
	d.DispatchRaw(frame(protocol.TagQueryParamsAppend, `{"key":"k","value":2}`))
	if got := d.Query().Values()["k"]; !slices.Equal(got, []string{"1", "2"}) {
		t.Fatalf("expected k=[1 2] before clear, got %v", got)
	}
	d.DispatchRaw(frame(protocol.TagQueryParamsClear, `{}`))
	d.DispatchRaw(frame(protocol.TagQueryParamsSet, `{"key":"k","value":3}`))

	if got := d.Query().Encode(); got != "k=3" {
		t.Fatalf("unexpected query %q", got)
	}
	want := []string{"k=1", "k=1&k=2", "", "k=3"}
	if !slices.Equal(pushed, want) {
		t.Fatalf("unexpected host updates: %q", pushed)
	}
	if s := d.Stats(); s.MalformedEnvelope != 0 || s.Handled != 4 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
