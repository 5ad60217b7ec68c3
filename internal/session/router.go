package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"nbisland/internal/protocol"
	"nbisland/internal/transport"
)

var ErrDuplicateApp = errors.New("app id already open")

// Router shares one kernel socket between several islands. Every payload
// is wrapped in an app envelope naming the island it belongs to.
type Router struct {
	sock   transport.Socket
	logger *slog.Logger

	writeMu  sync.Mutex
	mu       sync.Mutex
	sessions map[string]*Session
	unknown  uint64
}

func NewRouter(sock transport.Socket, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{sock: sock, logger: logger, sessions: map[string]*Session{}}
}

// Open creates the session for appID. The caller runs its loop.
func (r *Router) Open(appID string, opts Options) (*Session, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, errors.New("app id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[appID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateApp, appID)
	}
	opts.AppID = appID
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	s := New(SenderFunc(func(ctx context.Context, text string) error {
		return r.send(ctx, appID, text)
	}), opts)
	r.sessions[appID] = s
	return s, nil
}

func (r *Router) Session(appID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[appID]
	return s, ok
}

// Unrouted counts payloads whose app id had no open session.
func (r *Router) Unrouted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unknown
}

func (r *Router) send(ctx context.Context, appID, text string) error {
	wrapped, err := protocol.WrapAppEnvelope(appID, []byte(text))
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.sock.WriteText(ctx, string(wrapped))
}

// Run reads the shared socket until it ends, then closes every session.
func (r *Router) Run(ctx context.Context) error {
	client := transport.NewClient(r.sock)
	client.OnText(r.route)
	err := client.Run(ctx)

	reason := "transport closed"
	if err != nil {
		reason = "transport error: " + err.Error()
	}
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close(reason)
	}
	return err
}

func (r *Router) route(text string) {
	appID, data, err := protocol.UnwrapAppEnvelope([]byte(text))
	if err != nil {
		r.logger.Warn("app envelope dropped", "err", err)
		return
	}
	r.mu.Lock()
	s, ok := r.sessions[appID]
	if !ok {
		r.unknown++
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("payload for unknown app", "app_id", appID)
		return
	}
	s.Deliver(string(data))
}
