package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs long-lived jobs until the first failure or cancellation,
// then runs shutdown jobs in reverse registration order.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

type Option func(*Manager)

func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(m *Manager) {
		if lg != nil {
			m.logger = lg
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{shutdownTimeout: 5 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	m.mu.Lock()
	runJobs := append([]job(nil), m.runJobs...)
	shutdownJobs := append([]job(nil), m.shutdownJobs...)
	m.mu.Unlock()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("run job failed", "job", j.name, "err", err)
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	case <-doneCh:
	}
	cancelRuns()
	<-doneCh

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancelShutdown()
	var shutdownErr error
	for i := len(shutdownJobs) - 1; i >= 0; i-- {
		j := shutdownJobs[i]
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(runErr, shutdownErr)
}
