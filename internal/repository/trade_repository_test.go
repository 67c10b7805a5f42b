package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"orchestrator/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

func tradeColumns() []string {
	return []string{"id", "position_id", "symbol", "side", "volume", "entry_price", "exit_price", "pnl", "reason", "magic_id", "opened_at", "closed_at"}
}

func TestTradeRepositoryCreate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		trade       *models.ClosedTrade
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			trade: &models.ClosedTrade{
				PositionID: "pos-1",
				Symbol:     "EURUSD",
				Side:       models.SideLong,
				Volume:     0.1,
				EntryPrice: 1.1000,
				ExitPrice:  1.1050,
				Pnl:        50.0,
				Reason:     models.CloseReasonSignal,
				MagicID:    7,
				OpenedAt:   now,
				ClosedAt:   now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO closed_trades`).
					WithArgs("pos-1", "EURUSD", models.SideLong, 0.1, 1.1000, 1.1050, 50.0, models.CloseReasonSignal, int64(7), now, now).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
			expectError: false,
		},
		{
			name: "database error",
			trade: &models.ClosedTrade{
				PositionID: "pos-2",
				Symbol:     "XAUUSD",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO closed_trades`).
					WillReturnError(errors.New("database error"))
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

			repo := NewTradeRepository(db)
			err = repo.Create(tt.trade)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.trade.ID != 1 {
					t.Errorf("expected ID=1, got %d", tt.trade.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetRecent(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(tradeColumns()).
		AddRow(2, "pos-2", "XAUUSD", models.SideShort, 0.05, 2400.0, 2390.0, 25.0, models.CloseReasonStopLoss, int64(9), now, now).
		AddRow(1, "pos-1", "EURUSD", models.SideLong, 0.1, 1.1000, 1.1050, 50.0, models.CloseReasonSignal, int64(7), now, now)

	mock.ExpectQuery(`SELECT (.+) FROM closed_trades ORDER BY closed_at DESC`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}

	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].PositionID != "pos-2" || trades[1].PositionID != "pos-1" {
		t.Errorf("wrong order: %s, %s", trades[0].PositionID, trades[1].PositionID)
	}
	if trades[1].Pnl != 50.0 {
		t.Errorf("pnl = %v, want 50.0", trades[1].Pnl)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryGetBySymbol(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(tradeColumns()).
		AddRow(1, "pos-1", "EURUSD", models.SideLong, 0.1, 1.1000, 1.1050, 50.0, models.CloseReasonSignal, int64(7), now, now)

	mock.ExpectQuery(`SELECT (.+) FROM closed_trades WHERE symbol`).
		WithArgs("EURUSD", 20).
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetBySymbol("EURUSD", 20)
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	if len(trades) != 1 || trades[0].Symbol != "EURUSD" {
		t.Errorf("unexpected result: %+v", trades)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryTotalPnl(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	// Пустая таблица: SUM возвращает NULL, ожидаем 0
	mock.ExpectQuery(`SELECT SUM\(pnl\) FROM closed_trades`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	repo := NewTradeRepository(db)
	total, err := repo.TotalPnl()
	if err != nil {
		t.Fatalf("TotalPnl: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %v, want 0", total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
