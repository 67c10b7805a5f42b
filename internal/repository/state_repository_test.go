package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"orchestrator/internal/models"
	"orchestrator/internal/store"
)

// ============================================================
// StateRepository Tests
// ============================================================

func TestNewStateRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewStateRepository(db)
	if repo == nil {
		t.Fatal("NewStateRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestStateRepositorySaveState(t *testing.T) {
	now := time.Now()
	record := &store.StateRecord{
		SchemaVersion: store.SchemaVersion,
		Account:       models.AccountSnapshot{Balance: 10000, Equity: 10000},
		SavedAt:       now,
	}

	tests := []struct {
		name        string
		record      *store.StateRecord
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name:   "success",
			record: record,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orchestrator_state`).
					WithArgs(store.SchemaVersion, sqlmock.AnyArg(), now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: false,
		},
		{
			name:   "database error",
			record: record,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orchestrator_state`).
					WithArgs(store.SchemaVersion, sqlmock.AnyArg(), now).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
		{
			name:        "nil record",
			record:      nil,
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewStateRepository(db)
			err = repo.SaveState(context.Background(), tt.record)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStateRepositoryLoadState(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectNil   bool
		expectError bool
	}{
		{
			name: "round trip",
			mockSetup: func(mock sqlmock.Sqlmock) {
				payload := `{"schema_version":1,"account":{"balance":500,"equity":510},"applied_fills":["fill-1"]}`
				mock.ExpectQuery(`SELECT payload FROM orchestrator_state`).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))
			},
		},
		{
			name: "no snapshot yet",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT payload FROM orchestrator_state`).
					WillReturnError(sql.ErrNoRows)
			},
			expectNil: true,
		},
		{
			name: "corrupt payload",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT payload FROM orchestrator_state`).
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{broken`)))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewStateRepository(db)
			record, err := repo.LoadState(context.Background())

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.expectNil {
				if record != nil {
					t.Errorf("expected nil record, got %+v", record)
				}
				return
			}

			if record == nil {
				t.Fatal("expected record, got nil")
			}
			if record.SchemaVersion != 1 {
				t.Errorf("schema version = %d, want 1", record.SchemaVersion)
			}
			if record.Account.Equity != 510 {
				t.Errorf("account not restored: %+v", record.Account)
			}
			if len(record.AppliedFills) != 1 || record.AppliedFills[0] != "fill-1" {
				t.Errorf("applied fills not restored: %v", record.AppliedFills)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
