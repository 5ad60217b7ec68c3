package application

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"nbisland/internal/config"
	"nbisland/internal/global"
	"nbisland/internal/transport"
)

// StartOptions defines everything needed to run one island against a kernel.
type StartOptions struct {
	ConfigDir      string
	KernelURL      string
	InstantiateURL string
	// AppID switches the kernel socket to app-enveloped frames.
	AppID          string
	AutoRun        bool
	InitialValues  map[string]json.RawMessage

	ListenHost string
	ListenPort int

	FunctionTimeout time.Duration
	Trace           bool

	JournalEnabled bool
	JournalPath    string
	RetentionDays  int

	Logger *slog.Logger
	Dialer transport.Dialer
	Hooks  RuntimeHooks
}

// RuntimeHooks replaces parts of the runtime in tests.
type RuntimeHooks struct {
	Now func() time.Time
}

// ResolveOptions merges the config file with the environment. A variable
// that is present in the environment wins over the file.
func ResolveOptions(configDir string, file global.GlobalConfig, env config.Config) StartOptions {
	opts := StartOptions{
		ConfigDir:       configDir,
		KernelURL:       file.Kernel.URL,
		InstantiateURL:  file.Kernel.InstantiateURL,
		AppID:           file.Kernel.AppID,
		AutoRun:         file.Kernel.AutoRun,
		ListenHost:      file.Bridge.Host,
		ListenPort:      file.Bridge.Port,
		FunctionTimeout: time.Duration(file.Functions.TimeoutMS) * time.Millisecond,
		Trace:           env.TraceProtocol,
		JournalEnabled:  file.Journal.Enabled,
		JournalPath:     file.Journal.Path,
		RetentionDays:   file.Journal.RetentionDays,
	}
	if config.EnvSet("NBISLAND_KERNEL_URL") {
		opts.KernelURL = env.KernelURL
	}
	if config.EnvSet("NBISLAND_INSTANTIATE_URL") {
		opts.InstantiateURL = env.InstantiateURL
	}
	if config.EnvSet("NBISLAND_APP_ID") {
		opts.AppID = env.AppID
	}
	if config.EnvSet("NBISLAND_LISTEN_HOST") {
		opts.ListenHost = env.ListenHost
	}
	if config.EnvSet("NBISLAND_LISTEN_PORT") {
		opts.ListenPort = env.ListenPort
	}
	if config.EnvSet("NBISLAND_FUNCTION_TIMEOUT_MS") {
		opts.FunctionTimeout = env.FunctionTimeout
	}
	if config.EnvSet("NBISLAND_JOURNAL") {
		opts.JournalEnabled = env.JournalEnabled
	}
	if config.EnvSet("NBISLAND_DB_DSN") && env.DBDSN != "" {
		opts.JournalPath = env.DBDSN
	}
	if strings.TrimSpace(opts.JournalPath) == "" {
		opts.JournalPath = global.JournalPath(configDir)
	}
	return opts
}
