package protocol

import (
	"encoding/json"
	"strings"
)

// Operation is one parsed inbound event. The set of implementations is
// closed: the unexported visit method keeps other packages from adding
// variants, and every variant must call exactly one Handler method.
type Operation interface {
	Tag() Tag
	visit(Handler)
}

// Handler receives each operation variant. Implementations assert
// `var _ protocol.Handler = (*T)(nil)` so a new variant without a handler
// method breaks the build.
type Handler interface {
	HandleKernelReady(KernelReady)
	HandleCompletedRun(CompletedRun)
	HandleInterrupted(Interrupted)
	HandleSessionClosed(SessionClosed)
	HandleCellOp(CellOp)
	HandleRemoveUIElements(RemoveUIElements)
	HandleFunctionCallResult(FunctionCallResult)
	HandleQueryParams(QueryParams)
	HandleAlert(Alert)
	HandleUnsupported(Unsupported)
}

// Visit delivers op to the matching Handler method.
func Visit(op Operation, h Handler) {
	if op == nil || h == nil {
		return
	}
	op.visit(h)
}

type KernelReady struct {
	CellIDs  []string
	Codes    []string
	Names    []string
	UIValues map[string]json.RawMessage
	Resumed  bool
}

func (KernelReady) Tag() Tag { return TagKernelReady }
func (o KernelReady) visit(h Handler) { h.HandleKernelReady(o) }
func (CompletedRun) Tag() Tag { return TagCompletedRun }
func (o CompletedRun) visit(h Handler) { h.HandleCompletedRun(o) }
func (Interrupted) Tag() Tag { return TagInterrupted }
func (o Interrupted) visit(h Handler) { h.HandleInterrupted(o) }
func (SessionClosed) Tag() Tag { return TagSessionClosed }
func (o SessionClosed) visit(h Handler) { h.HandleSessionClosed(o) }

type CompletedRun struct {
	RunID string
}

type Interrupted struct{}

type SessionClosed struct {
	Reason string
}

// CellStatus is the execution status reported for a cell.
type CellStatus string

const (
	CellQueued   CellStatus = "queued"
	CellRunning  CellStatus = "running"
	CellIdle     CellStatus = "idle"
	CellError    CellStatus = "error"
	CellDisabled CellStatus = "disabled-transitively"
)

func (s CellStatus) Valid() bool {
	switch s {
	case CellQueued, CellRunning, CellIdle, CellError, CellDisabled:
		return true
	}
	return false
}

// Terminal reports whether the status ends a run.
func (s CellStatus) Terminal() bool {
	return s == CellIdle || s == CellError || s == CellDisabled
}

const (
	ChannelOutput = "output"
	ChannelStdout = "stdout"
	ChannelStderr = "stderr"
	ChannelError  = "marimo-error"

	MimeTextPlain = "text/plain"
)

type CellOutput struct {
	Channel   string          `json:"channel"`
	Mimetype  string          `json:"mimetype"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// Text returns Data as a string when it is a JSON string and the raw JSON
// text otherwise.
func (o CellOutput) Text() string {
	var s string
	if err := json.Unmarshal(o.Data, &s); err == nil {
		return s
	}
	return string(o.Data)
}

func (o CellOutput) IsError() bool {
	return o.Channel == ChannelError
}

type CellOp struct {
	CellID      string
	Status      CellStatus
	Output      *CellOutput
	Console     []CellOutput
	RunID       string
	StaleInputs *bool
	Timestamp   float64
}

func (CellOp) Tag() Tag { return TagCellOp }
func (o CellOp) visit(h Handler) { h.HandleCellOp(o) }

type RemoveUIElements struct {
	CellID string
}

func (RemoveUIElements) Tag() Tag { return TagRemoveUIElements }
func (o RemoveUIElements) visit(h Handler) { h.HandleRemoveUIElements(o) }

type FunctionCallResult struct {
	FunctionCallID string
	Value          json.RawMessage
	// StatusCode is "ok" unless the kernel reported a failure.
	StatusCode    string
	StatusMessage string
}

func (r FunctionCallResult) OK() bool {
	code := strings.ToLower(strings.TrimSpace(r.StatusCode))
	return code == "" || code == "ok"
}

func (FunctionCallResult) Tag() Tag { return TagFunctionCallResult }
func (o FunctionCallResult) visit(h Handler) { h.HandleFunctionCallResult(o) }

type QueryParamsAction string

const (
	QueryAppend QueryParamsAction = "append"
	QuerySet    QueryParamsAction = "set"
	QueryDelete QueryParamsAction = "delete"
	QueryClear  QueryParamsAction = "clear"
)

type QueryParams struct {
	Action QueryParamsAction
	Key    string
	// Values is empty for clear, and for a delete of every value of Key.
	Values []string
}

func (o QueryParams) Tag() Tag {
	switch o.Action {
	case QueryAppend:
		return TagQueryParamsAppend
	case QuerySet:
		return TagQueryParamsSet
	case QueryDelete:
		return TagQueryParamsDelete
	default:
		return TagQueryParamsClear
	}
}

func (o QueryParams) visit(h Handler) { h.HandleQueryParams(o) }

// Alert is a user-facing notification. Kind is the original tag.
type Alert struct {
	Kind        Tag
	Title       string
	Description string
	Variant     string
	Packages    []string
}

func (o Alert) Tag() Tag { return o.Kind }
func (o Alert) visit(h Handler) { h.HandleAlert(o) }
func (o Unsupported) Tag() Tag { return o.Kind }
func (o Unsupported) visit(h Handler) { h.HandleUnsupported(o) }

// Unsupported is a known tag this embedding acknowledges and ignores.
type Unsupported struct {
	Kind Tag
}
