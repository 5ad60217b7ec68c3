package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

var ErrClosed = errors.New("transport closed")

// IsClosed reports whether err marks an orderly end of the channel.
func IsClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

type RealDialer struct {
	Header    http.Header
	ReadLimit int64
}

func (d RealDialer) Dial(ctx context.Context, url string) (Socket, error) {
	var opts *websocket.DialOptions
	if len(d.Header) > 0 {
		opts = &websocket.DialOptions{HTTPHeader: d.Header}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &realSocket{conn: conn}, nil
}

type realSocket struct {
	conn *websocket.Conn
}

func (s *realSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *realSocket) WriteText(ctx context.Context, text string) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *realSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
