package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"nbisland/internal/protocol"
)

var (
	ErrUnknownCell   = errors.New("unknown cell")
	ErrUnknownAction = errors.New("unknown action")
)

// Action is one state transition. Actions are values; Reduce never keeps
// references to their slices or maps.
type Action interface {
	actionName() string
}

// InitCells replaces the notebook with the cells enumerated by the kernel.
// With Resumed set, cells that already exist keep their run state.
type InitCells struct {
	IDs      []string
	Codes    []string
	Names    []string
	UIValues map[string]json.RawMessage
	Resumed  bool
}

type ApplyCellOp struct {
	Op protocol.CellOp
}

type RemoveCell struct {
	CellID string
}

// BindUIElement records that a rendered UI element belongs to a cell.
type BindUIElement struct {
	CellID   string
	ObjectID string
}

type SetUIElementValue struct {
	ObjectID string
	Value    json.RawMessage
}

// Reset destroys every cell, as at session teardown.
type Reset struct{}

func (InitCells) actionName() string { return "init-cells" }
func (ApplyCellOp) actionName() string { return "apply-cell-op" }
func (RemoveCell) actionName() string { return "remove-cell" }
func (BindUIElement) actionName() string { return "bind-ui-element" }
func (SetUIElementValue) actionName() string { return "set-ui-element-value" }
func (Reset) actionName() string { return "reset" }

// ActionName is used for logging.
func ActionName(a Action) string {
	if a == nil {
		return ""
	}
	return a.actionName()
}

// Reduce returns the state after applying a. It never modifies s. On error
// the returned state is s unchanged.
func Reduce(s State, a Action) (State, error) {
	switch act := a.(type) {
	case InitCells:
		return reduceInit(s, act), nil
	case ApplyCellOp:
		return reduceCellOp(s, act.Op)
	case RemoveCell:
		return reduceRemove(s, act.CellID)
	case BindUIElement:
		return reduceBind(s, act)
	case SetUIElementValue:
		if strings.TrimSpace(act.ObjectID) == "" {
			return s, errors.New("ui element object id is required")
		}
		next := s.clone()
		next.uiValues[act.ObjectID] = slices.Clone(act.Value)
		return next, nil
	case Reset:
		return State{}, nil
	default:
		return s, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
}

func reduceInit(s State, act InitCells) State {
	next := State{
		order:    make([]string, 0, len(act.IDs)),
		cells:    make(map[string]CellState, len(act.IDs)),
		uiValues: make(map[string]json.RawMessage, len(act.UIValues)),
	}
	for i, id := range act.IDs {
		if _, dup := next.cells[id]; dup {
			continue
		}
		cell := CellState{ID: id, Status: protocol.CellIdle}
		if prev, ok := s.cells[id]; ok && act.Resumed {
			cell = prev
		}
		if i < len(act.Codes) {
			cell.Code = act.Codes[i]
		}
		if i < len(act.Names) {
			cell.Name = act.Names[i]
		}
		next.order = append(next.order, id)
		next.cells[id] = cell
	}
	if act.Resumed {
		for k, v := range s.uiValues {
			next.uiValues[k] = v
		}
	}
	for k, v := range act.UIValues {
		next.uiValues[k] = slices.Clone(v)
	}
	return next
}

func reduceCellOp(s State, op protocol.CellOp) (State, error) {
	cell, ok := s.cells[op.CellID]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownCell, op.CellID)
	}
	if op.RunID != "" && op.RunID != cell.RunID {
		cell.RunID = op.RunID
		cell.Console = nil
	}
	if op.Status != "" {
		cell.Status = op.Status
		if op.Status == protocol.CellQueued {
			cell.Errored = false
			cell.ErrorText = ""
		}
	}
	if op.Output != nil {
		out := *op.Output
		out.Data = slices.Clone(out.Data)
		cell.Output = &out
		if out.IsError() {
			cell.Errored = true
			cell.ErrorText = out.Text()
		} else if op.Status != protocol.CellError {
			cell.Errored = false
			cell.ErrorText = ""
		}
	}
	if op.Status == protocol.CellError {
		cell.Errored = true
	}
	cell.Console = appendConsole(cell.Console, op.Console)
	if op.StaleInputs != nil {
		cell.Stale = *op.StaleInputs
	}
	if op.Timestamp > cell.UpdatedAt {
		cell.UpdatedAt = op.Timestamp
	}
	next := s.clone()
	next.cells[op.CellID] = cell
	return next, nil
}

// appendConsole appends entries not already present, so a redelivered
// cell-op does not duplicate console output. The input slice is not
// modified.
func appendConsole(existing, incoming []protocol.CellOutput) []protocol.CellOutput {
	out := existing
	copied := false
	for _, item := range incoming {
		if containsOutput(out, item) {
			continue
		}
		if !copied {
			out = slices.Clone(existing)
			copied = true
		}
		item.Data = slices.Clone(item.Data)
		out = append(out, item)
	}
	return out
}

func containsOutput(list []protocol.CellOutput, item protocol.CellOutput) bool {
	for _, o := range list {
		if o.Channel == item.Channel && o.Timestamp == item.Timestamp && o.Mimetype == item.Mimetype && bytes.Equal(o.Data, item.Data) {
			return true
		}
	}
	return false
}

func reduceRemove(s State, id string) (State, error) {
	cell, ok := s.cells[id]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownCell, id)
	}
	next := s.clone()
	delete(next.cells, id)
	next.order = slices.DeleteFunc(next.order, func(v string) bool { return v == id })
	for _, objectID := range cell.UIElements {
		delete(next.uiValues, objectID)
	}
	return next, nil
}

func reduceBind(s State, act BindUIElement) (State, error) {
	if strings.TrimSpace(act.ObjectID) == "" {
		return s, errors.New("ui element object id is required")
	}
	cell, ok := s.cells[act.CellID]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownCell, act.CellID)
	}
	if slices.Contains(cell.UIElements, act.ObjectID) {
		return s, nil
	}
	cell.UIElements = append(slices.Clone(cell.UIElements), act.ObjectID)
	slices.Sort(cell.UIElements)
	next := s.clone()
	next.cells[act.CellID] = cell
	return next, nil
}
