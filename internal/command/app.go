package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"nbisland/internal/config"
)

// ServeFlags carries command line overrides. Zero values mean "not given".
type ServeFlags struct {
	KernelURL      string
	InstantiateURL string
	AppID          string
	ListenHost     string
	ListenPort     int
	Journal        bool
	JournalSet     bool
	AutoRun        bool
	InitialValues  map[string]json.RawMessage
}

type ReplayRequest struct {
	DBPath    string
	SessionID string
}

type SessionsRequest struct {
	DBPath string
	Limit  int
}

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config, ServeFlags) error
	RunReplay    func(context.Context, config.Config, ReplayRequest) error
	ListSessions func(context.Context, config.Config, SessionsRequest) error
	ListApps     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config, string) error
}

var dbFlag = &cli.StringFlag{
	Name:  "db",
	Usage: "journal database path (defaults to the configured journal)",
}

func BuildApp(deps Deps) *cli.App {
	serveFlags := []cli.Flag{
		&cli.StringFlag{Name: "kernel-url", Usage: "kernel websocket url"},
		&cli.StringFlag{Name: "instantiate-url", Usage: "kernel instantiate endpoint"},
		&cli.StringFlag{Name: "app-id", Usage: "app id for multiplexed kernel sockets"},
		&cli.StringFlag{Name: "host", Usage: "host bridge listen host"},
		&cli.IntFlag{Name: "port", Usage: "host bridge listen port"},
		&cli.BoolFlag{Name: "journal", Usage: "record inbound operations"},
		&cli.BoolFlag{Name: "auto-run", Usage: "ask the kernel to run cells on instantiation"},
		&cli.StringSliceFlag{Name: "value", Usage: "initial UI element value as object_id=json"},
	}
	serve := func(ctx *cli.Context) error {
		flags, err := serveFlagsFrom(ctx)
		if err != nil {
			return err
		}
		return runServe(ctx.Context, deps, loadConfig(deps), flags)
	}

	return &cli.App{
		Name:   "nbisland",
		Usage:  "notebook island bridge",
		Flags:  serveFlags,
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "connect to a kernel and serve the host bridge",
				Flags:  serveFlags,
				Action: serve,
			},
			{
				Name:      "replay",
				Usage:     "rebuild notebook state from a journaled session",
				ArgsUsage: "[session-id]",
				Flags: []cli.Flag{
					dbFlag,
					&cli.StringFlag{Name: "session", Usage: "session id (defaults to the latest)"},
				},
				Action: func(ctx *cli.Context) error {
					req := ReplayRequest{DBPath: ctx.String("db"), SessionID: ctx.String("session")}
					if req.SessionID == "" {
						req.SessionID = strings.TrimSpace(ctx.Args().First())
					}
					if deps.RunReplay == nil {
						return errors.New("replay runner is not configured")
					}
					return deps.RunReplay(ctx.Context, loadConfig(deps), req)
				},
			},
			{
				Name:  "sessions",
				Usage: "inspect journaled sessions",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list recent sessions",
						Flags: []cli.Flag{
							dbFlag,
							&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum sessions to show"},
						},
						Action: func(ctx *cli.Context) error {
							if deps.ListSessions == nil {
								return errors.New("sessions runner is not configured")
							}
							return deps.ListSessions(ctx.Context, loadConfig(deps), SessionsRequest{DBPath: ctx.String("db"), Limit: ctx.Int("limit")})
						},
					},
				},
			},
			{
				Name:  "apps",
				Usage: "list kernels this bridge has connected to",
				Action: func(ctx *cli.Context) error {
					if deps.ListApps == nil {
						return errors.New("apps runner is not configured")
					}
					return deps.ListApps(ctx.Context, loadConfig(deps))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Flags: []cli.Flag{dbFlag},
						Action: func(ctx *cli.Context) error {
							if deps.RunMigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.RunMigrateUp(ctx.Context, loadConfig(deps), ctx.String("db"))
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config, flags ServeFlags) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg, flags)
}

func serveFlagsFrom(ctx *cli.Context) (ServeFlags, error) {
	flags := ServeFlags{
		KernelURL:      strings.TrimSpace(ctx.String("kernel-url")),
		InstantiateURL: strings.TrimSpace(ctx.String("instantiate-url")),
		AppID:          strings.TrimSpace(ctx.String("app-id")),
		ListenHost:     strings.TrimSpace(ctx.String("host")),
		ListenPort:     ctx.Int("port"),
		Journal:        ctx.Bool("journal"),
		JournalSet:     ctx.IsSet("journal"),
		AutoRun:        ctx.Bool("auto-run"),
	}
	values, err := parseValues(ctx.StringSlice("value"))
	if err != nil {
		return ServeFlags{}, err
	}
	flags.InitialValues = values
	return flags, nil
}

// parseValues reads object_id=json pairs. A value that is not valid JSON
// is taken as a string.
func parseValues(pairs []string) (map[string]json.RawMessage, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(pairs))
	for _, pair := range pairs {
		id, raw, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --value %q: want object_id=json", pair)
		}
		if json.Valid([]byte(raw)) {
			out[id] = json.RawMessage(raw)
			continue
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, nil
}
