package application

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"nbisland/internal/transport"
)

type fakeDialer struct {
	mu   sync.Mutex
	sock *transport.FakeSocket
	url  string
	err  error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.url = url
	d.sock = transport.NewFakeSocket()
	return d.sock, nil
}

func (d *fakeDialer) socket() *transport.FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sock
}

var errDialRefused = errors.New("connection refused")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getData(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env struct {
		OK   bool            `json:"ok"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s failed: %v", url, err)
	}
	if !env.OK {
		t.Fatalf("GET %s not ok", url)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data of %s failed: %v", url, err)
	}
}
