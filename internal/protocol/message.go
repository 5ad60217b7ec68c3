package protocol

import "encoding/json"

// Envelope is the frame used in both directions on the kernel channel.
type Envelope struct {
	Op   Tag             `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InvokeFunctionRequest asks the kernel to run a function exposed by a UI
// element. The reply arrives later as a function-call-result operation
// carrying the same FunctionCallID.
type InvokeFunctionRequest struct {
	FunctionCallID string          `json:"function_call_id"`
	Namespace      string          `json:"namespace,omitempty"`
	FunctionName   string          `json:"function_name,omitempty"`
	Args           json.RawMessage `json:"args"`
}

type SetUIElementValueRequest struct {
	ObjectIDs []string          `json:"object_ids"`
	Values    []json.RawMessage `json:"values"`
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// EncodeRequest frames an outbound request as an envelope string ready for
// the transport.
func EncodeRequest(op Tag, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(Envelope{Op: op, Data: raw})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
