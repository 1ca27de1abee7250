package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"rcie/domain/core"
	"rcie/domain/history"
	"rcie/internal/errors"
	"rcie/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ListLimit caps how many entries List returns, matching the gateway.
const ListLimit = 20

// jsonbMap maps a JSONB column to map[string]interface{}
type jsonbMap map[string]interface{}

// Value implements driver.Valuer interface
func (j jsonbMap) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner interface
func (j *jsonbMap) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	}
	result := make(jsonbMap)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
	}
	*j = result
	return nil
}

type historyRow struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Inputs    jsonbMap  `db:"inputs"`
	Results   jsonbMap  `db:"results"`
	CreatedAt time.Time `db:"created_at"`
}

// HistoryStore implements ports.HistoryStore over the analysis_history table
type HistoryStore struct {
	db *sqlx.DB
}

// NewHistoryStore creates a new PostgreSQL history store
func NewHistoryStore(db *sqlx.DB) ports.HistoryStore {
	return &HistoryStore{db: db}
}

// Open connects to databaseURL with the lib/pq driver.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to history database", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Save inserts a new entry for email
func (s *HistoryStore) Save(ctx context.Context, email string, draft history.Draft) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return core.NewValidationError("email", "required")
	}
	if _, err := history.ParseAnalysisType(string(draft.Type)); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_history (user_email, type, inputs, results, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, email, string(draft.Type), jsonbMap(draft.Inputs), jsonbMap(draft.Results))
	if err != nil {
		return errors.DatabaseError("failed to save history entry", err)
	}
	return nil
}

// List returns the newest entries for email
func (s *HistoryStore) List(ctx context.Context, email string) ([]history.Entry, error) {
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, type, inputs, results, created_at
		FROM analysis_history
		WHERE user_email = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, strings.TrimSpace(email), ListLimit)
	if err != nil {
		return nil, errors.DatabaseError("failed to list history", err)
	}

	entries := make([]history.Entry, 0, len(rows))
	for _, row := range rows {
		typ, err := history.ParseAnalysisType(row.Type)
		if err != nil {
			continue
		}
		entries = append(entries, history.Entry{
			ID:        core.EntryID(strconv.FormatInt(row.ID, 10)),
			Type:      typ,
			Timestamp: core.NewTimestamp(row.CreatedAt),
			Inputs:    row.Inputs,
			Results:   row.Results,
		})
	}
	return entries, nil
}

// Clear deletes every entry for email
func (s *HistoryStore) Clear(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analysis_history WHERE user_email = $1`, strings.TrimSpace(email))
	if err != nil {
		return errors.DatabaseError("failed to clear history", err)
	}
	return nil
}
