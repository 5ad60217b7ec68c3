package migration

import (
	"nbisland/internal/protocol"
)

func init() {
	register("0001_journal_backfill_route", backfillJournalRoute)
	register("0002_snapshot_status_from_state", snapshotStatusFromState)
}

// backfillJournalRoute fills the route column for entries written before
// it existed.
func backfillJournalRoute(m *Migration) error {
	var ops []string
	if err := m.DB.Table("journal_entries").Where("route = ''").Distinct("op").Pluck("op", &ops).Error; err != nil {
		return err
	}
	for _, op := range ops {
		route, ok := protocol.RouteOf(protocol.Tag(op))
		if !ok {
			continue
		}
		res := m.DB.Table("journal_entries").Where("route = '' AND op = ?", op).Update("route", string(route))
		if res.Error != nil {
			return res.Error
		}
		m.Log("backfilled ", res.RowsAffected, " entries for ", op)
	}
	return nil
}

// snapshotStatusFromState copies the status out of the stored cell json
// for snapshots that predate the status column.
func snapshotStatusFromState(m *Migration) error {
	return m.DB.Exec(`UPDATE cell_snapshots
SET status = COALESCE(json_extract(state_json, '$.status'), '')
WHERE status = '' AND state_json <> '' AND json_valid(state_json)`).Error
}
