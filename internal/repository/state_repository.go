package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"orchestrator/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StateRepository - durable-хранилище снимков торгового состояния
//
// Одна строка-синглтон: последняя запись побеждает. Payload хранится
// как JSONB, schema_version продублирована колонкой для миграций
// без разбора payload'а.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository создает новый экземпляр репозитория
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// SaveState записывает снимок состояния (upsert синглтона)
func (r *StateRepository) SaveState(ctx context.Context, record *store.StateRecord) error {
	if record == nil {
		return fmt.Errorf("nil state record")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}

	query := `
		INSERT INTO orchestrator_state (id, schema_version, payload, saved_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET schema_version = EXCLUDED.schema_version,
		    payload = EXCLUDED.payload,
		    saved_at = EXCLUDED.saved_at`

	_, err = r.db.ExecContext(ctx, query, record.SchemaVersion, payload, record.SavedAt)
	return err
}

// LoadState возвращает последний сохранённый снимок
// (nil, nil) если сохранений ещё не было
func (r *StateRepository) LoadState(ctx context.Context) (*store.StateRecord, error) {
	query := `SELECT payload FROM orchestrator_state WHERE id = 1`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	record := &store.StateRecord{}
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, fmt.Errorf("unmarshal state record: %w", err)
	}
	return record, nil
}
