package command

import (
	"context"
	"testing"

	"nbisland/internal/config"
)

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	serveCalled := 0
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{KernelURL: "ws://k/ws"}
		},
		RunServe: func(_ context.Context, cfg config.Config, flags ServeFlags) error {
			serveCalled++
			if cfg.KernelURL != "ws://k/ws" {
				t.Fatalf("unexpected config %+v", cfg)
			}
			if flags.KernelURL != "" || flags.JournalSet {
				t.Fatalf("no flags should be set, got %+v", flags)
			}
			return nil
		},
		RunMigrateUp: func(context.Context, config.Config, string) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"nbisland"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 1 || migrateCalled != 0 {
		t.Fatalf("unexpected call count serve=%d migrate=%d", serveCalled, migrateCalled)
	}
}

func TestBuildApp_ServeFlags(t *testing.T) {
	var got ServeFlags
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunServe: func(_ context.Context, _ config.Config, flags ServeFlags) error {
			got = flags
			return nil
		},
	})
	args := []string{"nbisland", "serve",
		"--kernel-url", "ws://other/ws",
		"--app-id", "app-1",
		"--port", "4000",
		"--journal=false",
		"--auto-run",
		"--value", "slider-1=5",
		"--value", "text-1=hello",
	}
	if err := app.RunContext(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.KernelURL != "ws://other/ws" || got.AppID != "app-1" || got.ListenPort != 4000 {
		t.Fatalf("unexpected flags %+v", got)
	}
	if !got.JournalSet || got.Journal {
		t.Fatalf("journal flag should be set to false, got %+v", got)
	}
	if !got.AutoRun {
		t.Fatal("auto-run should be set")
	}
	if string(got.InitialValues["slider-1"]) != "5" {
		t.Fatalf("unexpected slider value %s", got.InitialValues["slider-1"])
	}
	if string(got.InitialValues["text-1"]) != `"hello"` {
		t.Fatalf("non-JSON value should become a string, got %s", got.InitialValues["text-1"])
	}
}

func TestBuildApp_ServeRejectsBadValue(t *testing.T) {
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunServe:   func(context.Context, config.Config, ServeFlags) error { return nil },
	})
	if err := app.RunContext(context.Background(), []string{"nbisland", "serve", "--value", "=1"}); err == nil {
		t.Fatal("expected error for value without object id")
	}
}

func TestBuildApp_ReplayCommand(t *testing.T) {
	var got ReplayRequest
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunReplay: func(_ context.Context, _ config.Config, req ReplayRequest) error {
			got = req
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"nbisland", "replay", "--db", "/tmp/j.db", "s-1"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.DBPath != "/tmp/j.db" || got.SessionID != "s-1" {
		t.Fatalf("unexpected replay request %+v", got)
	}

	if err := app.RunContext(context.Background(), []string{"nbisland", "replay", "--session", "s-2"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.SessionID != "s-2" {
		t.Fatalf("expected --session to be used, got %+v", got)
	}
}

func TestBuildApp_SessionsListCommand(t *testing.T) {
	var got SessionsRequest
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		ListSessions: func(_ context.Context, _ config.Config, req SessionsRequest) error {
			got = req
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"nbisland", "sessions", "list"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Limit != 20 {
		t.Fatalf("expected default limit 20, got %d", got.Limit)
	}
}

func TestBuildApp_MigrateUpCommand(t *testing.T) {
	migrateCalled := 0
	var gotPath string
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunMigrateUp: func(_ context.Context, _ config.Config, path string) error {
			migrateCalled++
			gotPath = path
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"nbisland", "migrate", "up", "--db", "/tmp/x.db"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if migrateCalled != 1 || gotPath != "/tmp/x.db" {
		t.Fatalf("expected migrate command called once with path, got %d %q", migrateCalled, gotPath)
	}
}

func TestBuildApp_MissingRunnerErrors(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: func() config.Config { return config.Config{} }})
	for _, args := range [][]string{
		{"nbisland"},
		{"nbisland", "replay"},
		{"nbisland", "sessions", "list"},
		{"nbisland", "apps"},
		{"nbisland", "migrate", "up"},
	} {
		if err := app.RunContext(context.Background(), args); err == nil {
			t.Fatalf("%v: expected error for unconfigured runner", args)
		}
	}
}
