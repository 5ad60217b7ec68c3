package migration

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type step struct {
	name string
	run  func(*Migration) error
}

var steps []step

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

func (m *Migration) Logs() []string {
	return append([]string(nil), m.logs...)
}

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// Names lists registered steps in run order.
func Names() []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.name)
	}
	return out
}

// RunAll runs, in order, every registered step not yet recorded in
// migration_log. Schema is synced separately via db.SyncSchema.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	for _, s := range steps {
		var n int64
		if err := db.Table("migration_log").Where("name = ?", s.name).Count(&n).Error; err != nil {
			return fmt.Errorf("migration %s lookup failed: %w", s.name, err)
		}
		if n > 0 {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			ctx := &Migration{DB: tx}
			if err := s.run(ctx); err != nil {
				return err
			}
			return tx.Table("migration_log").Clauses(clause.OnConflict{DoNothing: true}).Create(map[string]any{
				"name":       s.name,
				"applied_at": time.Now().UTC().Unix(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}
