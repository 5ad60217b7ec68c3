package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nbisland/internal/db"
	"nbisland/internal/dispatch"
	"nbisland/internal/global"
	"nbisland/internal/hostbridge"
	"nbisland/internal/journal"
	"nbisland/internal/kernel"
	"nbisland/internal/lifecycle"
	"nbisland/internal/notebook"
	"nbisland/internal/session"
	"nbisland/internal/transport"
)

type Application struct {
	opts   StartOptions
	logger *slog.Logger
	now    func() time.Time

	sock     transport.Socket
	client   *transport.Client
	router   *session.Router
	island   *session.Session
	hub      *hostbridge.WSHub
	listener net.Listener
	http     *http.Server

	gdb      *gorm.DB
	journal  *journal.Store
	recorder *journal.Recorder

	releaseOnce sync.Once
	releaseErr  error
}

func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	kernelURL := strings.TrimSpace(opts.KernelURL)
	if kernelURL == "" {
		return nil, errors.New("kernel url is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := time.Now
	if opts.Hooks.Now != nil {
		now = opts.Hooks.Now
	}
	host := strings.TrimSpace(opts.ListenHost)
	if host == "" {
		host = "127.0.0.1"
	}
	if opts.ListenPort < 0 {
		opts.ListenPort = 0
	}

	app := &Application{opts: opts, logger: logger, now: now}

	if opts.JournalEnabled {
		if err := app.openJournal(); err != nil {
			return nil, err
		}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.RealDialer{}
	}
	sock, err := dialer.Dial(ctx, kernelURL)
	if err != nil {
		app.release()
		return nil, fmt.Errorf("dial kernel: %w", err)
	}
	app.sock = sock
	app.hub = hostbridge.NewWSHub(logger.With("module", "hostbridge"))

	sessionID := uuid.NewString()
	sessOpts := session.Options{
		ID:              sessionID,
		AppID:           strings.TrimSpace(opts.AppID),
		FunctionTimeout: opts.FunctionTimeout,
		Notifier:        app.hub,
		QueryHost:       app.hub,
		Trace:           opts.Trace,
		Logger:          logger.With("module", "session"),
	}
	if app.journal != nil {
		app.recorder = journal.NewRecorder(app.journal, sessionID,
			journal.WithRecorderLogger(logger.With("module", "journal")),
			journal.WithStateSource(func() notebook.State { return app.island.State() }),
		)
		sessOpts.Tap = app.recorder.Inbound
		sessOpts.Observers = []dispatch.Observer{app.recorder.Observe}
		if err := app.journal.BeginSession(journal.Session{
			ID:        sessionID,
			AppID:     sessOpts.AppID,
			KernelURL: kernelURL,
			StartedAt: now(),
		}); err != nil {
			app.release()
			return nil, err
		}
	}

	if sessOpts.AppID != "" {
		app.router = session.NewRouter(sock, logger.With("module", "router"))
		app.island, err = app.router.Open(sessOpts.AppID, sessOpts)
		if err != nil {
			app.release()
			return nil, err
		}
	} else {
		app.client = transport.NewClient(sock)
		app.island = session.New(app.client, sessOpts)
	}

	app.island.Store().Subscribe(app.hub.PublishState)
	app.island.Dispatcher().Lifecycle().OnChange(func(from, to kernel.State) {
		app.hub.PublishLifecycle(from, to)
	})
	if err := app.island.Start(); err != nil {
		app.release()
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(opts.ListenPort)))
	if err != nil {
		app.release()
		return nil, fmt.Errorf("listen bridge: %w", err)
	}
	app.listener = ln
	app.http = &http.Server{
		Handler:           hostbridge.NewServer(app.island, app.hub).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if dir := strings.TrimSpace(opts.ConfigDir); dir != "" {
		if err := global.NewAppsStore(dir).Touch(sessOpts.AppID, kernelURL); err != nil {
			logger.Warn("record recent app failed", "err", err)
		}
	}
	return app, nil
}

func (a *Application) openJournal() error {
	path := strings.TrimSpace(a.opts.JournalPath)
	if path == "" {
		return errors.New("journal path is required")
	}
	gdb, err := db.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	store, err := journal.NewStore(gdb)
	if err != nil {
		_ = db.Close(gdb)
		return err
	}
	a.gdb = gdb
	a.journal = store
	if days := a.opts.RetentionDays; days > 0 {
		cutoff := a.now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := store.Prune(cutoff)
		if err != nil {
			a.logger.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			a.logger.Info("journal pruned", "sessions", n)
		}
	}
	return nil
}

func (a *Application) BridgeURL() string {
	if a == nil || a.listener == nil {
		return ""
	}
	return "http://" + a.listener.Addr().String()
}

func (a *Application) JournalPath() string {
	if a == nil || a.journal == nil {
		return ""
	}
	return strings.TrimSpace(a.opts.JournalPath)
}

func (a *Application) Island() *session.Session {
	if a == nil {
		return nil
	}
	return a.island
}

func (a *Application) Hub() *hostbridge.WSHub {
	if a == nil {
		return nil
	}
	return a.hub
}

// Run serves the island until ctx ends or the kernel session closes.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.island == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := lifecycle.NewManager(lifecycle.WithLogger(a.logger))
	mgr.AddRun("kernel-reader", func(runCtx context.Context) error {
		if a.router != nil {
			return a.router.Run(runCtx)
		}
		return a.island.ReadFrom(runCtx, a.client)
	})
	mgr.AddRun("island", func(runCtx context.Context) error {
		recDone := make(chan struct{})
		recCtx, stopRecorder := context.WithCancel(context.Background())
		if a.recorder != nil {
			go func() {
				defer close(recDone)
				_ = a.recorder.Run(recCtx)
			}()
		} else {
			close(recDone)
		}
		err := a.island.Run(runCtx)
		stopRecorder()
		<-recDone
		a.logger.Info("island session ended", "session_id", a.island.ID())
		cancel()
		return err
	})
	mgr.AddRun("host-hub", a.hub.Run)
	mgr.AddRun("bridge-http", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
			defer stop()
			_ = a.http.Shutdown(shutdownCtx)
		}()
		if err := a.http.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if url := strings.TrimSpace(a.opts.InstantiateURL); url != "" {
		mgr.AddRun("instantiate", func(runCtx context.Context) error {
			return transport.NewInstantiateClient(url).Instantiate(runCtx, a.instantiateRequest())
		})
	}
	mgr.AddShutdown("release", a.Shutdown)

	a.logger.Info("island bridge listening", "url", a.BridgeURL(), "kernel_url", a.opts.KernelURL)
	return mgr.StartAndWait(ctx)
}

func (a *Application) instantiateRequest() transport.InstantiateRequest {
	ids := make([]string, 0, len(a.opts.InitialValues))
	for id := range a.opts.InitialValues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	req := transport.InstantiateRequest{ObjectIDs: ids, AutoRun: a.opts.AutoRun}
	for _, id := range ids {
		req.Values = append(req.Values, a.opts.InitialValues[id])
	}
	return req
}

// Shutdown releases the socket, the bridge listener and the journal. It is
// safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if a.island != nil {
		a.island.Close("application shutdown")
	}
	if a.http != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	return a.release()
}

func (a *Application) release() error {
	a.releaseOnce.Do(func() {
		var errs []error
		if a.listener != nil {
			if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if a.sock != nil {
			if err := a.sock.Close(); err != nil && !transport.IsClosed(err) {
				errs = append(errs, err)
			}
		}
		if a.gdb != nil {
			errs = append(errs, db.Close(a.gdb))
		}
		a.releaseErr = errors.Join(errs...)
	})
	return a.releaseErr
}
