package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// AppEnvelope carries one island's frame when several islands on a host
// page share a single kernel connection.
type AppEnvelope struct {
	AppID string          `json:"app_id"`
	Data  json.RawMessage `json:"data"`
}

func WrapAppEnvelope(appID string, raw []byte) ([]byte, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, errors.New("missing app_id")
	}
	if !json.Valid(raw) {
		return nil, errors.New("app envelope data is not valid json")
	}
	return json.Marshal(AppEnvelope{AppID: appID, Data: raw})
}

func UnwrapAppEnvelope(raw []byte) (string, []byte, error) {
	var env AppEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	appID := strings.TrimSpace(env.AppID)
	if appID == "" {
		return "", nil, errors.New("missing app_id")
	}
	if len(env.Data) == 0 {
		return "", nil, errors.New("missing data")
	}
	return appID, env.Data, nil
}
