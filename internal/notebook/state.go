package notebook

import (
	"encoding/json"
	"sort"

	"nbisland/internal/protocol"
)

// CellState is the client-side view of one cell. Values are never mutated
// after they are placed in a State; the reducer copies before writing.
type CellState struct {
	ID         string                `json:"id"`
	Name       string                `json:"name,omitempty"`
	Code       string                `json:"code,omitempty"`
	Status     protocol.CellStatus   `json:"status"`
	Output     *protocol.CellOutput  `json:"output,omitempty"`
	Console    []protocol.CellOutput `json:"console,omitempty"`
	Errored    bool                  `json:"errored,omitempty"`
	ErrorText  string                `json:"error_text,omitempty"`
	Stale      bool                  `json:"stale,omitempty"`
	RunID      string                `json:"run_id,omitempty"`
	UIElements []string              `json:"ui_elements,omitempty"`
	UpdatedAt  float64               `json:"updated_at,omitempty"`
}

// State is an immutable snapshot of every cell, in notebook order.
// The zero value is an empty notebook.
type State struct {
	order    []string
	cells    map[string]CellState
	uiValues map[string]json.RawMessage
}

func (s State) Len() int { return len(s.order) }

// IDs returns cell ids in notebook order.
func (s State) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s State) Cell(id string) (CellState, bool) {
	c, ok := s.cells[id]
	return c, ok
}

// Cells returns every cell in notebook order.
func (s State) Cells() []CellState {
	out := make([]CellState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cells[id])
	}
	return out
}

// UIValue returns the last known value of a UI element.
func (s State) UIValue(objectID string) (json.RawMessage, bool) {
	v, ok := s.uiValues[objectID]
	return v, ok
}

// UIObjectIDs returns every object id with a known value, sorted.
func (s State) UIObjectIDs() []string {
	out := make([]string, 0, len(s.uiValues))
	for id := range s.uiValues {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type stateJSON struct {
	Cells    []CellState                `json:"cells"`
	UIValues map[string]json.RawMessage `json:"ui_values,omitempty"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{Cells: s.Cells(), UIValues: s.uiValues})
}

func (s *State) UnmarshalJSON(b []byte) error {
	var in stateJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	next := State{cells: make(map[string]CellState, len(in.Cells)), uiValues: in.UIValues}
	for _, c := range in.Cells {
		if _, dup := next.cells[c.ID]; dup || c.ID == "" {
			continue
		}
		next.order = append(next.order, c.ID)
		next.cells[c.ID] = c
	}
	*s = next
	return nil
}

// clone copies the containers of s. Cell values are copied by value; any
// slice or map inside a cell must be copied by the writer before changing.
func (s State) clone() State {
	out := State{
		order:    make([]string, len(s.order)),
		cells:    make(map[string]CellState, len(s.cells)),
		uiValues: make(map[string]json.RawMessage, len(s.uiValues)),
	}
	copy(out.order, s.order)
	for k, v := range s.cells {
		out.cells[k] = v
	}
	for k, v := range s.uiValues {
		out.uiValues[k] = v
	}
	return out
}
