package repository

import (
	"database/sql"
	"errors"

	"orchestrator/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей closed_trades
//
// Реляционный журнал закрытых сделок для дашбордов и отчётов.
// Авторитетная копия журнала живёт в снимке состояния (StateRepository),
// эта таблица - удобная проекция для запросов.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create создает запись о закрытой сделке
func (r *TradeRepository) Create(trade *models.ClosedTrade) error {
	query := `
		INSERT INTO closed_trades (position_id, symbol, side, volume, entry_price, exit_price, pnl, reason, magic_id, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	return r.db.QueryRow(
		query,
		trade.PositionID,
		trade.Symbol,
		trade.Side,
		trade.Volume,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Pnl,
		trade.Reason,
		trade.MagicID,
		trade.OpenedAt,
		trade.ClosedAt,
	).Scan(&trade.ID)
}

// GetRecent возвращает последние N сделок (новые сверху)
func (r *TradeRepository) GetRecent(limit int) ([]*models.ClosedTrade, error) {
	query := `
		SELECT id, position_id, symbol, side, volume, entry_price, exit_price, pnl, reason, magic_id, opened_at, closed_at
		FROM closed_trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetBySymbol возвращает сделки по символу
func (r *TradeRepository) GetBySymbol(symbol string, limit int) ([]*models.ClosedTrade, error) {
	query := `
		SELECT id, position_id, symbol, side, volume, entry_price, exit_price, pnl, reason, magic_id, opened_at, closed_at
		FROM closed_trades
		WHERE symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// Count возвращает общее количество сделок
func (r *TradeRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM closed_trades`).Scan(&count)
	return count, err
}

// TotalPnl возвращает суммарный реализованный PnL
func (r *TradeRepository) TotalPnl() (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRow(`SELECT SUM(pnl) FROM closed_trades`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func scanTrades(rows *sql.Rows) ([]*models.ClosedTrade, error) {
	var trades []*models.ClosedTrade
	for rows.Next() {
		trade := &models.ClosedTrade{}
		err := rows.Scan(
			&trade.ID,
			&trade.PositionID,
			&trade.Symbol,
			&trade.Side,
			&trade.Volume,
			&trade.EntryPrice,
			&trade.ExitPrice,
			&trade.Pnl,
			&trade.Reason,
			&trade.MagicID,
			&trade.OpenedAt,
			&trade.ClosedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
