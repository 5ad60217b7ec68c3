package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"nbisland/internal/command"
	"nbisland/internal/config"
	"nbisland/internal/db"
	"nbisland/internal/dispatch"
	"nbisland/internal/global"
	"nbisland/internal/journal"
	"nbisland/internal/notebook"
)

// journalPath picks the journal database: the flag, then the environment,
// then the config file.
func journalPath(cfg config.Config, flagPath string) (string, error) {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p, nil
	}
	if cfg.DBDSN != "" {
		return cfg.DBDSN, nil
	}
	_, fileCfg, err := loadFileConfig()
	if err != nil {
		return "", err
	}
	return fileCfg.Journal.Path, nil
}

func openJournal(cfg config.Config, flagPath string) (*journal.Store, func(), error) {
	path, err := journalPath(cfg, flagPath)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := journal.NewStore(gdb)
	if err != nil {
		_ = db.Close(gdb)
		return nil, nil, err
	}
	return store, func() { _ = db.Close(gdb) }, nil
}

type replayReport struct {
	SessionID   string               `json:"session_id"`
	AppID       string               `json:"app_id,omitempty"`
	CloseReason string               `json:"close_reason,omitempty"`
	Entries     int                  `json:"entries"`
	Lifecycle   string               `json:"lifecycle"`
	Stats       dispatch.Stats       `json:"stats"`
	Notebook    notebook.State       `json:"notebook"`
	Snapshot    []notebook.CellState `json:"snapshot,omitempty"`
}

func runReplay(_ context.Context, out io.Writer, cfg config.Config, req command.ReplayRequest) error {
	store, closeFn, err := openJournal(cfg, req.DBPath)
	if err != nil {
		return err
	}
	defer closeFn()

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		latest, err := store.Sessions(1)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			return journal.ErrSessionNotFound
		}
		id = latest[0].ID
	}
	sess, err := store.GetSession(id)
	if err != nil {
		return err
	}
	entries, err := store.Entries(id)
	if err != nil {
		return err
	}
	snapshot, err := store.Snapshot(id)
	if err != nil {
		return err
	}
	res := journal.Replay(entries, slog.New(slog.NewTextHandler(io.Discard, nil)))

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(replayReport{
		SessionID:   sess.ID,
		AppID:       sess.AppID,
		CloseReason: sess.CloseReason,
		Entries:     res.Entries,
		Lifecycle:   res.Lifecycle.String(),
		Stats:       res.Stats,
		Notebook:    res.State,
		Snapshot:    snapshot,
	})
}

func runSessionsList(_ context.Context, w io.Writer, cfg config.Config, req command.SessionsRequest) error {
	store, closeFn, err := openJournal(cfg, req.DBPath)
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := store.Sessions(req.Limit)
	if err != nil {
		return err
	}
	out := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "SESSION\tAPP\tSTARTED\tENDED\tOPS\tREASON")
	for _, s := range list {
		ended := "-"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.UTC().Format(time.RFC3339)
		}
		app := s.AppID
		if app == "" {
			app = "-"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\t%s\n", s.ID, app, s.StartedAt.UTC().Format(time.RFC3339), ended, s.OpCount, s.CloseReason)
	}
	return out.Flush()
}

func runAppsList(_ context.Context, w io.Writer) error {
	dir, err := global.DefaultConfigDir()
	if err != nil {
		return err
	}
	apps, err := global.NewAppsStore(dir).ListApps()
	if err != nil {
		return err
	}
	out := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "APP\tKERNEL\tLAST SEEN\tSESSIONS")
	for _, a := range apps {
		app := a.AppID
		if app == "" {
			app = "-"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", app, a.KernelURL, a.LastSeenAt.UTC().Format(time.RFC3339), a.Sessions)
	}
	return out.Flush()
}

func runMigrateUp(_ context.Context, cfg config.Config, flagPath string) error {
	path, err := journalPath(cfg, flagPath)
	if err != nil {
		return err
	}
	gdb, err := db.Open(path)
	if err != nil {
		return err
	}
	return db.Close(gdb)
}
