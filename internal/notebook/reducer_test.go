package notebook

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"nbisland/internal/protocol"
)

func mustReduce(t *testing.T, s State, a Action) State {
	t.Helper()
	next, err := Reduce(s, a)
	if err != nil {
		t.Fatalf("reduce %s failed: %v", ActionName(a), err)
	}
	return next
}

func textOutput(text string) *protocol.CellOutput {
	return &protocol.CellOutput{
		Channel:  protocol.ChannelOutput,
		Mimetype: protocol.MimeTextPlain,
		Data:     protocol.MustRaw(text),
	}
}

func TestReduce_InitCellsCreatesIdleCellsInOrder(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"b", "a"}, Codes: []string{"x = 1", "x"}})
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	cell, ok := s.Cell("a")
	if !ok || cell.Status != protocol.CellIdle || cell.Code != "x" {
		t.Fatalf("unexpected cell: %+v", cell)
	}
}

func TestReduce_InitCellsResumedKeepsRunState(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1", "c2"}})
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", Status: protocol.CellIdle, Output: textOutput("42")}})

	resumed := mustReduce(t, s, InitCells{IDs: []string{"c1"}, Resumed: true})
	if cell, _ := resumed.Cell("c1"); cell.Output == nil || cell.Output.Text() != "42" {
		t.Fatalf("resumed cell should keep output: %+v", cell)
	}
	if _, ok := resumed.Cell("c2"); ok {
		t.Fatal("cells absent from kernel-ready should be dropped")
	}

	fresh := mustReduce(t, s, InitCells{IDs: []string{"c1"}})
	if cell, _ := fresh.Cell("c1"); cell.Output != nil {
		t.Fatalf("fresh init should discard output: %+v", cell)
	}
}

func TestReduce_CellOpSequenceReachesIdleWithOutput(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", Status: protocol.CellRunning}})
	if cell, _ := s.Cell("c1"); cell.Status != protocol.CellRunning {
		t.Fatalf("expected running, got %s", cell.Status)
	}
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", Status: protocol.CellIdle, Output: textOutput("42")}})
	cell, _ := s.Cell("c1")
	if cell.Status != protocol.CellIdle || cell.Output.Text() != "42" || cell.Errored {
		t.Fatalf("unexpected final cell: %+v", cell)
	}
}

func TestReduce_TerminalCellOpIsIdempotent(t *testing.T) {
	base := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	ops := []protocol.CellOp{
		{CellID: "c1", Status: protocol.CellIdle, Output: textOutput("42"), RunID: "r1", Timestamp: 3,
			Console: []protocol.CellOutput{{Channel: protocol.ChannelStdout, Data: protocol.MustRaw("hi"), Timestamp: 2}}},
		{CellID: "c1", Status: protocol.CellError, RunID: "r1",
			Output: &protocol.CellOutput{Channel: protocol.ChannelError, Mimetype: "application/vnd.marimo+error", Data: protocol.MustRaw("boom")}},
	}
	for _, op := range ops {
		once := mustReduce(t, base, ApplyCellOp{Op: op})
		twice := mustReduce(t, once, ApplyCellOp{Op: op})
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("duplicate %s delivery changed state:\nonce  %+v\ntwice %+v", op.Status, once.Cells(), twice.Cells())
		}
	}
}

func TestReduce_ErrorOutputSetsErrorInfoAndQueuedClearsIt(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{
		CellID: "c1",
		Status: protocol.CellIdle,
		Output: &protocol.CellOutput{Channel: protocol.ChannelError, Data: protocol.MustRaw("ZeroDivisionError")},
	}})
	cell, _ := s.Cell("c1")
	if !cell.Errored || cell.ErrorText != "ZeroDivisionError" {
		t.Fatalf("expected error info, got %+v", cell)
	}
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", Status: protocol.CellQueued}})
	cell, _ = s.Cell("c1")
	if cell.Errored || cell.ErrorText != "" || cell.Status != protocol.CellQueued {
		t.Fatalf("queued should clear error info, got %+v", cell)
	}
}

func TestReduce_ConsoleResetsOnNewRun(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	line := protocol.CellOutput{Channel: protocol.ChannelStdout, Data: protocol.MustRaw("a"), Timestamp: 1}
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", RunID: "r1", Console: []protocol.CellOutput{line}}})
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", RunID: "r1", Console: []protocol.CellOutput{line}}})
	if cell, _ := s.Cell("c1"); len(cell.Console) != 1 {
		t.Fatalf("duplicate console line should be ignored: %+v", cell.Console)
	}
	s = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", RunID: "r2", Status: protocol.CellQueued}})
	if cell, _ := s.Cell("c1"); len(cell.Console) != 0 || cell.RunID != "r2" {
		t.Fatalf("new run should reset console: %+v", cell)
	}
}

func TestReduce_UnknownCellIsNoOp(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	next, err := Reduce(s, ApplyCellOp{Op: protocol.CellOp{CellID: "ghost", Status: protocol.CellRunning}})
	if !errors.Is(err, ErrUnknownCell) {
		t.Fatalf("expected ErrUnknownCell, got %v", err)
	}
	if !reflect.DeepEqual(next, s) {
		t.Fatal("state should be unchanged on unknown cell")
	}
	if _, err := Reduce(s, RemoveCell{CellID: "ghost"}); !errors.Is(err, ErrUnknownCell) {
		t.Fatalf("expected ErrUnknownCell on remove, got %v", err)
	}
}

func TestReduce_RemoveCellDropsBindings(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1", "c2"}})
	s = mustReduce(t, s, BindUIElement{CellID: "c1", ObjectID: "slider-1"})
	s = mustReduce(t, s, BindUIElement{CellID: "c1", ObjectID: "slider-1"})
	s = mustReduce(t, s, SetUIElementValue{ObjectID: "slider-1", Value: json.RawMessage("3")})
	if cell, _ := s.Cell("c1"); len(cell.UIElements) != 1 {
		t.Fatalf("binding should be recorded once: %+v", cell.UIElements)
	}
	s = mustReduce(t, s, RemoveCell{CellID: "c1"})
	if _, ok := s.Cell("c1"); ok {
		t.Fatal("cell should be removed")
	}
	if _, ok := s.UIValue("slider-1"); ok {
		t.Fatal("ui value of removed cell should be dropped")
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Fatalf("unexpected order after remove: %v", got)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	_ = mustReduce(t, s, ApplyCellOp{Op: protocol.CellOp{CellID: "c1", Status: protocol.CellRunning}})
	_ = mustReduce(t, s, RemoveCell{CellID: "c1"})
	if cell, ok := s.Cell("c1"); !ok || cell.Status != protocol.CellIdle {
		t.Fatalf("input state was mutated: %+v", cell)
	}
}

func TestReduce_ResetDestroysCells(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1"}})
	s = mustReduce(t, s, Reset{})
	if s.Len() != 0 {
		t.Fatalf("expected empty state, got %d cells", s.Len())
	}
}

func TestState_JSONRoundTrip(t *testing.T) {
	s := mustReduce(t, State{}, InitCells{IDs: []string{"c1", "c2"}, UIValues: map[string]json.RawMessage{"o1": json.RawMessage(`"v"`)}})
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back State
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(back.IDs(), s.IDs()) {
		t.Fatalf("unexpected ids after round trip: %v", back.IDs())
	}
	if v, ok := back.UIValue("o1"); !ok || string(v) != `"v"` {
		t.Fatalf("unexpected ui value: %s", string(v))
	}
}
