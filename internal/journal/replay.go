package journal

import (
	"log/slog"

	"nbisland/internal/dispatch"
	"nbisland/internal/kernel"
	"nbisland/internal/notebook"
)

type ReplayResult struct {
	State     notebook.State
	Lifecycle kernel.State
	Stats     dispatch.Stats
	Entries   int
}

// Replay feeds recorded payloads through a fresh dispatcher, in order,
// and reports where the notebook ended up.
func Replay(entries []Entry, logger *slog.Logger) ReplayResult {
	d := dispatch.New(dispatch.Deps{Logger: logger})
	for _, e := range entries {
		d.DispatchRaw(e.Payload)
	}
	return ReplayResult{
		State:     d.Store().State(),
		Lifecycle: d.Lifecycle().State(),
		Stats:     d.Stats(),
		Entries:   len(entries),
	}
}
