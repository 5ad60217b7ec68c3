package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type decoder struct {
	route  Route
	decode func(Tag, json.RawMessage) (Operation, error)
}

var decoders = map[Tag]decoder{
	TagKernelReady:   {RouteLifecycle, decodeKernelReady},
	TagCompletedRun:  {RouteLifecycle, decodeCompletedRun},
	TagInterrupted:   {RouteLifecycle, decodeInterrupted},
	TagSessionClosed: {RouteLifecycle, decodeSessionClosed},

	TagCellOp:           {RouteStore, decodeCellOp},
	TagRemoveUIElements: {RouteStore, decodeRemoveUIElements},

	TagFunctionCallResult: {RouteFunctions, decodeFunctionCallResult},

	TagQueryParamsAppend: {RouteQueryParams, decodeQueryParams(QueryAppend)},
	TagQueryParamsSet:    {RouteQueryParams, decodeQueryParams(QuerySet)},
	TagQueryParamsDelete: {RouteQueryParams, decodeQueryParams(QueryDelete)},
	TagQueryParamsClear:  {RouteQueryParams, decodeQueryParams(QueryClear)},

	TagAlert:                  {RouteNotify, decodeAlert},
	TagBanner:                 {RouteNotify, decodeAlert},
	TagMissingPackageAlert:    {RouteNotify, decodeAlert},
	TagInstallingPackageAlert: {RouteNotify, decodeAlert},
	TagKernelStartupError:     {RouteNotify, decodeAlert},

	TagVariables:            {RouteUnsupported, decodeUnsupported},
	TagVariableValues:       {RouteUnsupported, decodeUnsupported},
	TagCompletionResult:     {RouteUnsupported, decodeUnsupported},
	TagReload:               {RouteUnsupported, decodeUnsupported},
	TagReconnected:          {RouteUnsupported, decodeUnsupported},
	TagFocusCell:            {RouteUnsupported, decodeUnsupported},
	TagUpdateCellCodes:      {RouteUnsupported, decodeUnsupported},
	TagUpdateCellIDs:        {RouteUnsupported, decodeUnsupported},
	TagSendUIElementMessage: {RouteUnsupported, decodeUnsupported},
	TagDatasets:             {RouteUnsupported, decodeUnsupported},
	TagDataColumnPreview:    {RouteUnsupported, decodeUnsupported},
	TagSQLTablePreview:      {RouteUnsupported, decodeUnsupported},
	TagSecretKeysResult:     {RouteUnsupported, decodeUnsupported},
	TagStartupLogs:          {RouteUnsupported, decodeUnsupported},
}

// RouteOf reports which collaborator receives tag.
func RouteOf(tag Tag) (Route, bool) {
	d, ok := decoders[tag]
	return d.route, ok
}

// ParseOperation decodes one transport payload. Failures wrap
// ErrMalformedEnvelope or ErrUnroutableTag.
func ParseOperation(raw string) (Operation, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, malformed("empty payload")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, malformed("%v", err)
	}
	if dec.More() {
		return nil, malformed("trailing data after envelope")
	}
	tag := Tag(strings.TrimSpace(string(env.Op)))
	if tag == "" {
		return nil, malformed("missing op")
	}
	d, ok := decoders[tag]
	if !ok {
		return nil, &UnroutableTagError{Tag: tag, Suggestion: SuggestTag(tag)}
	}
	return d.decode(tag, env.Data)
}

// object normalizes an absent or null payload to {} and rejects
// non-object payloads.
func object(tag Tag, data json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("{}"), nil
	}
	if trimmed[0] != '{' {
		return nil, malformed("%s: data must be an object", tag)
	}
	return trimmed, nil
}

func unmarshalData(tag Tag, data json.RawMessage, v any) error {
	obj, err := object(tag, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj, v); err != nil {
		return malformed("%s: %v", tag, err)
	}
	return nil
}

func decodeKernelReady(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		CellIDs  []string                   `json:"cell_ids"`
		Cells    []string                   `json:"cells"`
		Codes    []string                   `json:"codes"`
		Names    []string                   `json:"names"`
		UIValues map[string]json.RawMessage `json:"ui_values"`
		Resumed  bool                       `json:"resumed"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	ids := p.CellIDs
	if len(ids) == 0 {
		ids = p.Cells
	}
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, malformed("%s: empty cell id at index %d", tag, i)
		}
		if _, dup := seen[id]; dup {
			return nil, malformed("%s: duplicate cell id %q", tag, id)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	if len(p.Codes) != 0 && len(p.Codes) != len(ids) {
		return nil, malformed("%s: %d codes for %d cells", tag, len(p.Codes), len(ids))
	}
	if len(p.Names) != 0 && len(p.Names) != len(ids) {
		return nil, malformed("%s: %d names for %d cells", tag, len(p.Names), len(ids))
	}
	return KernelReady{
		CellIDs:  ids,
		Codes:    p.Codes,
		Names:    p.Names,
		UIValues: p.UIValues,
		Resumed:  p.Resumed,
	}, nil
}

func decodeCompletedRun(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		RunID string `json:"run_id"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	return CompletedRun{RunID: p.RunID}, nil
}

func decodeInterrupted(tag Tag, data json.RawMessage) (Operation, error) {
	if _, err := object(tag, data); err != nil {
		return nil, err
	}
	return Interrupted{}, nil
}

func decodeSessionClosed(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		Reason string `json:"reason"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	return SessionClosed{Reason: p.Reason}, nil
}

func cellIDOf(snake, camel string) string {
	if id := strings.TrimSpace(snake); id != "" {
		return id
	}
	return strings.TrimSpace(camel)
}

func decodeCellOp(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		CellID      string          `json:"cell_id"`
		CellIDCamel string          `json:"cellId"`
		Status      string          `json:"status"`
		Output      json.RawMessage `json:"output"`
		Console     json.RawMessage `json:"console"`
		RunID       string          `json:"run_id"`
		StaleInputs *bool           `json:"stale_inputs"`
		Timestamp   float64         `json:"timestamp"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	op := CellOp{
		CellID:      cellIDOf(p.CellID, p.CellIDCamel),
		Status:      CellStatus(strings.ToLower(strings.TrimSpace(p.Status))),
		RunID:       p.RunID,
		StaleInputs: p.StaleInputs,
		Timestamp:   p.Timestamp,
	}
	if op.CellID == "" {
		return nil, malformed("%s: missing cell id", tag)
	}
	if op.Status != "" && !op.Status.Valid() {
		return nil, malformed("%s: unknown status %q", tag, op.Status)
	}
	out, err := decodeOutput(p.Output)
	if err != nil {
		return nil, malformed("%s: output: %v", tag, err)
	}
	op.Output = out
	console, err := decodeConsole(p.Console)
	if err != nil {
		return nil, malformed("%s: console: %v", tag, err)
	}
	op.Console = console
	return op, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeOutput accepts a full output object or a bare value, which is
// treated as plain text on the output channel.
func decodeOutput(raw json.RawMessage) (*CellOutput, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '{' {
		return &CellOutput{
			Channel:  ChannelOutput,
			Mimetype: MimeTextPlain,
			Data:     append(json.RawMessage(nil), trimmed...),
		}, nil
	}
	var out CellOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	if out.Channel == "" {
		out.Channel = ChannelOutput
	}
	if out.Mimetype == "" {
		out.Mimetype = MimeTextPlain
	}
	return &out, nil
}

func decodeConsole(raw json.RawMessage) ([]CellOutput, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '[' {
		out, err := decodeOutput(trimmed)
		if err != nil {
			return nil, err
		}
		if out.Channel == ChannelOutput {
			out.Channel = ChannelStdout
		}
		return []CellOutput{*out}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	outs := make([]CellOutput, 0, len(items))
	for _, item := range items {
		out, err := decodeOutput(item)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		if out.Channel == ChannelOutput {
			out.Channel = ChannelStdout
		}
		outs = append(outs, *out)
	}
	return outs, nil
}

func decodeRemoveUIElements(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		CellID      string `json:"cell_id"`
		CellIDCamel string `json:"cellId"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	id := cellIDOf(p.CellID, p.CellIDCamel)
	if id == "" {
		return nil, malformed("%s: missing cell id", tag)
	}
	return RemoveUIElements{CellID: id}, nil
}

func decodeFunctionCallResult(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		FunctionCallID string          `json:"function_call_id"`
		ReturnValue    json.RawMessage `json:"return_value"`
		Value          json.RawMessage `json:"value"`
		Status         json.RawMessage `json:"status"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	res := FunctionCallResult{FunctionCallID: strings.TrimSpace(p.FunctionCallID)}
	if res.FunctionCallID == "" {
		return nil, malformed("%s: missing function_call_id", tag)
	}
	switch {
	case !isNull(p.ReturnValue):
		res.Value = p.ReturnValue
	case !isNull(p.Value):
		res.Value = p.Value
	default:
		res.Value = json.RawMessage("null")
	}
	if !isNull(p.Status) {
		status := bytes.TrimSpace(p.Status)
		if status[0] == '{' {
			var s struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(status, &s); err != nil {
				return nil, malformed("%s: status: %v", tag, err)
			}
			res.StatusCode, res.StatusMessage = s.Code, s.Message
		} else if err := json.Unmarshal(status, &res.StatusCode); err != nil {
			return nil, malformed("%s: status: %v", tag, err)
		}
	}
	return res, nil
}

// stringList accepts a scalar, a list of scalars or null. Numbers and
// booleans keep their literal text, so 1 becomes "1".
func stringList(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '[' {
		v, err := scalarText(trimmed)
		if err != nil {
			return nil, err
		}
		return []string{v}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		v, err := scalarText(bytes.TrimSpace(item))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func scalarText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("empty value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("want a string, number or bool, got %s", raw)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", errors.New("null inside value list")
	}
	return string(raw), nil
}

func decodeQueryParams(action QueryParamsAction) func(Tag, json.RawMessage) (Operation, error) {
	return func(tag Tag, data json.RawMessage) (Operation, error) {
		var p struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := unmarshalData(tag, data, &p); err != nil {
			return nil, err
		}
		if action == QueryClear {
			return QueryParams{Action: QueryClear}, nil
		}
		if p.Key == "" {
			return nil, malformed("%s: missing key", tag)
		}
		values, err := stringList(p.Value)
		if err != nil {
			return nil, malformed("%s: value: %v", tag, err)
		}
		if action == QueryAppend && len(values) == 0 {
			return nil, malformed("%s: missing value", tag)
		}
		return QueryParams{Action: action, Key: p.Key, Values: values}, nil
	}
}

func decodeAlert(tag Tag, data json.RawMessage) (Operation, error) {
	var p struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Variant     string          `json:"variant"`
		Packages    json.RawMessage `json:"packages"`
		Error       string          `json:"error"`
	}
	if err := unmarshalData(tag, data, &p); err != nil {
		return nil, err
	}
	alert := Alert{Kind: tag, Title: p.Title, Description: p.Description, Variant: p.Variant}
	pkgs, err := packageNames(p.Packages)
	if err != nil {
		return nil, malformed("%s: packages: %v", tag, err)
	}
	alert.Packages = pkgs
	switch tag {
	case TagKernelStartupError:
		if alert.Title == "" {
			alert.Title = "Kernel failed to start"
		}
		if alert.Description == "" {
			alert.Description = p.Error
		}
		if alert.Variant == "" {
			alert.Variant = "danger"
		}
	case TagMissingPackageAlert:
		if alert.Title == "" {
			alert.Title = "Missing packages"
		}
	case TagInstallingPackageAlert:
		if alert.Title == "" {
			alert.Title = "Installing packages"
		}
	}
	return alert, nil
}

// packageNames accepts a list of names or an object keyed by name.
func packageNames(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '{' {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(m))
		for name := range m {
			out = append(out, name)
		}
		sort.Strings(out)
		return out, nil
	}
	var out []string
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeUnsupported(tag Tag, _ json.RawMessage) (Operation, error) {
	return Unsupported{Kind: tag}, nil
}
