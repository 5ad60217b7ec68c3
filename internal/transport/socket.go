package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Socket is an ordered, reliable text channel to the kernel.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

// Client pumps inbound text from a Socket into a callback.
type Client struct {
	sock   Socket
	onText func(string)
}

func NewClient(sock Socket) *Client {
	return &Client{sock: sock}
}

func (c *Client) OnText(fn func(string)) {
	c.onText = fn
}

// Run reads until the socket ends. A clean end (EOF, canceled ctx, normal
// close) returns nil.
func (c *Client) Run(ctx context.Context) error {
	for {
		text, err := c.sock.ReadText(ctx)
		if err != nil {
			if IsClosed(err) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if c.onText != nil {
			c.onText(text)
		}
	}
}

func (c *Client) Send(ctx context.Context, text string) error {
	return c.sock.WriteText(ctx, text)
}

func (c *Client) Close() error {
	return c.sock.Close()
}

// FakeSocket is an in-memory Socket for tests. Inbound text is queued with
// EmitText; outbound text is recorded and readable with Sent.
type FakeSocket struct {
	readCh chan string

	mu       sync.Mutex
	sent     []string
	closed   bool
	writeErr error
	onWrite  func(string)
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{readCh: make(chan string, 64)}
}

func (f *FakeSocket) EmitText(text string) {
	f.readCh <- text
}

// OnWrite registers a callback for each outbound message, after it is
// recorded.
func (f *FakeSocket) OnWrite(fn func(string)) {
	f.mu.Lock()
	f.onWrite = fn
	f.mu.Unlock()
}

func (f *FakeSocket) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *FakeSocket) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-f.readCh:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	}
}

func (f *FakeSocket) WriteText(ctx context.Context, text string) error {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.sent = append(f.sent, text)
	fn := f.onWrite
	f.mu.Unlock()
	if fn != nil {
		fn(text)
	}
	return nil
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.readCh)
	return nil
}
