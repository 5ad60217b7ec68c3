package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstantiateClient_Instantiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/kernel/instantiate" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body InstantiateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(body.ObjectIDs) != 1 || body.ObjectIDs[0] != "slider-1" || string(body.Values[0]) != "5" {
			t.Fatalf("unexpected body: %+v", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewInstantiateClient(srv.URL + "/api/kernel/instantiate")
	err := c.Instantiate(context.Background(), InstantiateRequest{
		ObjectIDs: []string{"slider-1"},
		Values:    []json.RawMessage{json.RawMessage("5")},
		AutoRun:   true,
	})
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
}

func TestInstantiateClient_RejectsMismatchedValues(t *testing.T) {
	c := NewInstantiateClient("http://127.0.0.1:1/unused")
	err := c.Instantiate(context.Background(), InstantiateRequest{ObjectIDs: []string{"a"}})
	if err == nil {
		t.Fatal("expected error for mismatched ids and values")
	}
}

func TestInstantiateClient_ReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if err := NewInstantiateClient(srv.URL).Instantiate(context.Background(), InstantiateRequest{}); err == nil {
		t.Fatal("expected status error")
	}
}
