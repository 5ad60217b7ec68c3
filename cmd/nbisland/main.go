package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nbisland/internal/application"
	"nbisland/internal/command"
	"nbisland/internal/config"
	"nbisland/internal/global"
	"nbisland/internal/logging"
)

var version = "dev"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe: func(ctx context.Context, cfg config.Config, flags command.ServeFlags) error {
			return runServe(ctx, cfg, flags, newRuntimeLogger(os.Stderr, cfg))
		},
		RunReplay: func(ctx context.Context, cfg config.Config, req command.ReplayRequest) error {
			return runReplay(ctx, os.Stdout, cfg, req)
		},
		ListSessions: func(ctx context.Context, cfg config.Config, req command.SessionsRequest) error {
			return runSessionsList(ctx, os.Stdout, cfg, req)
		},
		ListApps: func(ctx context.Context, cfg config.Config) error {
			return runAppsList(ctx, os.Stdout)
		},
		RunMigrateUp: runMigrateUp,
	})
	app.Version = version

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "nbisland"}).Error("nbisland failed", "err", err)
		os.Exit(1)
	}
}

func newRuntimeLogger(writer io.Writer, cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    writer,
		Component: "nbisland",
	})
}

// loadFileConfig reads config.toml from the config dir, creating it on
// first use.
func loadFileConfig() (string, global.GlobalConfig, error) {
	dir, err := global.DefaultConfigDir()
	if err != nil {
		return "", global.GlobalConfig{}, err
	}
	cfg, err := global.NewConfigStore(dir).LoadOrInit()
	if err != nil {
		return "", global.GlobalConfig{}, err
	}
	return dir, cfg, nil
}

func runServe(ctx context.Context, cfg config.Config, flags command.ServeFlags, logger *slog.Logger) error {
	dir, fileCfg, err := loadFileConfig()
	if err != nil {
		return err
	}
	opts := application.ResolveOptions(dir, fileCfg, cfg)
	applyServeFlags(&opts, flags)
	opts.Logger = logger

	app, err := startApplication(ctx, opts)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func applyServeFlags(opts *application.StartOptions, flags command.ServeFlags) {
	if flags.KernelURL != "" {
		opts.KernelURL = flags.KernelURL
	}
	if flags.InstantiateURL != "" {
		opts.InstantiateURL = flags.InstantiateURL
	}
	if flags.AppID != "" {
		opts.AppID = flags.AppID
	}
	if flags.ListenHost != "" {
		opts.ListenHost = flags.ListenHost
	}
	if flags.ListenPort > 0 {
		opts.ListenPort = flags.ListenPort
	}
	if flags.JournalSet {
		opts.JournalEnabled = flags.Journal
	}
	if flags.AutoRun {
		opts.AutoRun = true
	}
	if len(flags.InitialValues) > 0 {
		opts.InitialValues = flags.InitialValues
	}
}
