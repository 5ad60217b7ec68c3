package journal

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	dbmodel "nbisland/internal/db"
	"nbisland/internal/notebook"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("journal session not found")

type Session struct {
	ID          string
	AppID       string
	KernelURL   string
	StartedAt   time.Time
	EndedAt     time.Time
	CloseReason string
	OpCount     int64
}

type Entry struct {
	Seq       int64
	Op        string
	Route     string
	Payload   string
	CreatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// NewStore uses a shared DB. Caller must not close the db while the store
// is in use.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New("journal store is not initialized")
	}
	return nil
}

func (s *Store) BeginSession(sess Session) error {
	if err := s.ready(); err != nil {
		return err
	}
	id := strings.TrimSpace(sess.ID)
	if id == "" {
		return errors.New("session id is required")
	}
	started := sess.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	row := dbmodel.SessionRecord{
		SessionID: id,
		AppID:     strings.TrimSpace(sess.AppID),
		KernelURL: strings.TrimSpace(sess.KernelURL),
		StartedAt: started.UTC().UnixMilli(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) EndSession(id, reason string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	res := s.db.Model(&dbmodel.SessionRecord{}).
		Where("session_id = ?", id).
		Updates(map[string]any{"ended_at": at.UTC().UnixMilli(), "close_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Append writes entries for one session in a single transaction.
func (s *Store) Append(sessionID string, entries []Entry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	rows := make([]dbmodel.JournalEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, dbmodel.JournalEntry{
			SessionID:   sessionID,
			Seq:         e.Seq,
			Op:          e.Op,
			Route:       e.Route,
			PayloadJSON: e.Payload,
			CreatedAt:   e.CreatedAt.UTC().UnixMilli(),
		})
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&dbmodel.SessionRecord{}).
			Where("session_id = ?", sessionID).
			Update("op_count", gorm.Expr("op_count + ?", len(rows))).Error
	})
}

// Entries returns the session's journal in delivery order.
func (s *Store) Entries(sessionID string) ([]Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []dbmodel.JournalEntry
	if err := s.db.Where("session_id = ?", sessionID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{
			Seq:       row.Seq,
			Op:        row.Op,
			Route:     row.Route,
			Payload:   row.PayloadJSON,
			CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		})
	}
	return out, nil
}

func (s *Store) GetSession(id string) (Session, error) {
	if err := s.ready(); err != nil {
		return Session{}, err
	}
	var row dbmodel.SessionRecord
	err := s.db.Where("session_id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return Session{}, err
	}
	if row.SessionID == "" {
		return Session{}, ErrSessionNotFound
	}
	return sessionFromRow(row), nil
}

// Sessions lists the most recently started sessions first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows := make([]dbmodel.SessionRecord, 0, limit)
	if err := s.db.Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionFromRow(row))
	}
	return out, nil
}

func sessionFromRow(row dbmodel.SessionRecord) Session {
	out := Session{
		ID:          row.SessionID,
		AppID:       row.AppID,
		KernelURL:   row.KernelURL,
		StartedAt:   time.UnixMilli(row.StartedAt).UTC(),
		CloseReason: row.CloseReason,
		OpCount:     row.OpCount,
	}
	if row.EndedAt > 0 {
		out.EndedAt = time.UnixMilli(row.EndedAt).UTC()
	}
	return out
}

// SaveSnapshot replaces the session's cell snapshot with state.
func (s *Store) SaveSnapshot(sessionID string, state notebook.State, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	cells := state.Cells()
	rows := make([]dbmodel.CellSnapshot, 0, len(cells))
	for i, cell := range cells {
		raw, err := json.Marshal(cell)
		if err != nil {
			return err
		}
		rows = append(rows, dbmodel.CellSnapshot{
			SessionID: sessionID,
			CellID:    cell.ID,
			Position:  i,
			Status:    string(cell.Status),
			StateJSON: string(raw),
			UpdatedAt: at.UTC().UnixMilli(),
		})
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&dbmodel.CellSnapshot{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// Snapshot loads the cells saved for a session, in notebook order.
func (s *Store) Snapshot(sessionID string) ([]notebook.CellState, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []dbmodel.CellSnapshot
	if err := s.db.Where("session_id = ?", sessionID).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]notebook.CellState, 0, len(rows))
	for _, row := range rows {
		var cell notebook.CellState
		if err := json.Unmarshal([]byte(row.StateJSON), &cell); err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}

// Prune deletes sessions that ended before cutoff, with their entries and
// snapshots. It returns the number of sessions removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var ids []string
	err := s.db.Model(&dbmodel.SessionRecord{}).
		Where("ended_at > 0 AND ended_at < ?", cutoff.UTC().UnixMilli()).
		Pluck("session_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&dbmodel.JournalEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&dbmodel.CellSnapshot{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id IN ?", ids).Delete(&dbmodel.SessionRecord{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
