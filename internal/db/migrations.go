package db

import (
	"errors"

	"nbisland/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&SessionRecord{},
		&JournalEntry{},
		&CellSnapshot{},
		&MigrationLog{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_session_seq ON journal_entries(session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_cell_snapshots_session_position ON cell_snapshots(session_id, position);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs pending data migrations.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	return migration.RunAll(db)
}
