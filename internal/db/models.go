package db

// SessionRecord is one island session as seen by the journal.
type SessionRecord struct {
	SessionID   string `gorm:"column:session_id;primaryKey"`
	AppID       string `gorm:"column:app_id;not null;default:''"`
	KernelURL   string `gorm:"column:kernel_url;not null;default:''"`
	StartedAt   int64  `gorm:"column:started_at;not null;default:0"`
	EndedAt     int64  `gorm:"column:ended_at;not null;default:0"`
	CloseReason string `gorm:"column:close_reason;not null;default:''"`
	OpCount     int64  `gorm:"column:op_count;not null;default:0"`
}

func (SessionRecord) TableName() string { return "sessions" }

// JournalEntry is one inbound kernel payload, in delivery order.
type JournalEntry struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID   string `gorm:"column:session_id;not null"`
	Seq         int64  `gorm:"column:seq;not null"`
	Op          string `gorm:"column:op;not null;default:''"`
	Route       string `gorm:"column:route;not null;default:''"`
	PayloadJSON string `gorm:"column:payload_json;not null;default:''"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

// CellSnapshot is the last recorded state of one cell.
type CellSnapshot struct {
	SessionID string `gorm:"column:session_id;primaryKey"`
	CellID    string `gorm:"column:cell_id;primaryKey"`
	Position  int    `gorm:"column:position;not null;default:0"`
	Status    string `gorm:"column:status;not null;default:''"`
	StateJSON string `gorm:"column:state_json;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (CellSnapshot) TableName() string { return "cell_snapshots" }

// MigrationLog records data migrations that have already run.
type MigrationLog struct {
	Name      string `gorm:"column:name;primaryKey"`
	AppliedAt int64  `gorm:"column:applied_at;not null;default:0"`
}

func (MigrationLog) TableName() string { return "migration_log" }
