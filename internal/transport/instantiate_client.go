package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// InstantiateRequest asks the kernel to run the notebook with the given
// initial UI element values.
type InstantiateRequest struct {
	ObjectIDs []string          `json:"object_ids"`
	Values    []json.RawMessage `json:"values"`
	AutoRun   bool              `json:"auto_run"`
}

type InstantiateClient struct {
	url        string
	httpClient *http.Client
}

func NewInstantiateClient(url string) *InstantiateClient {
	return &InstantiateClient{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *InstantiateClient) Instantiate(ctx context.Context, in InstantiateRequest) error {
	if in.ObjectIDs == nil {
		in.ObjectIDs = []string{}
	}
	if in.Values == nil {
		in.Values = []json.RawMessage{}
	}
	if len(in.ObjectIDs) != len(in.Values) {
		return fmt.Errorf("instantiate: %d object ids for %d values", len(in.ObjectIDs), len(in.Values))
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("instantiate failed with status: %d", res.StatusCode)
	}
	return nil
}
