package repository

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"orchestrator/internal/models"
)

// NotificationRepository - работа с таблицей notifications
//
// Durable-журнал уведомлений оператору. Журнал ограничен по размеру:
// после каждой записи сервис вызывает KeepRecent.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает новое уведомление
func (r *NotificationRepository) Create(notif *models.Notification) error {
	var meta []byte
	if notif.Meta != nil {
		var err error
		meta, err = json.Marshal(notif.Meta)
		if err != nil {
			return fmt.Errorf("marshal notification meta: %w", err)
		}
	}

	query := `
		INSERT INTO notifications (timestamp, type, severity, plan_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return r.db.QueryRow(
		query,
		notif.Timestamp,
		notif.Type,
		notif.Severity,
		notif.PlanID,
		notif.Message,
		meta,
	).Scan(&notif.ID)
}

// GetRecent возвращает последние N уведомлений (новые сверху)
func (r *NotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, plan_id, message, meta
		FROM notifications
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// GetByTypes возвращает уведомления заданных типов
func (r *NotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, plan_id, message, meta
		FROM notifications
		WHERE type = ANY($1)
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(query, pq.Array(types), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// KeepRecent удаляет все уведомления кроме последних keepCount
// Возвращает количество удаленных записей
func (r *NotificationRepository) KeepRecent(keepCount int) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE id NOT IN (
			SELECT id FROM notifications
			ORDER BY timestamp DESC, id DESC
			LIMIT $1
		)`

	result, err := r.db.Exec(query, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count возвращает общее количество уведомлений
func (r *NotificationRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM notifications`).Scan(&count)
	return count, err
}

// DeleteAll очищает журнал уведомлений
func (r *NotificationRepository) DeleteAll() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM notifications`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var notifs []*models.Notification
	for rows.Next() {
		notif := &models.Notification{}
		var meta []byte
		err := rows.Scan(
			&notif.ID,
			&notif.Timestamp,
			&notif.Type,
			&notif.Severity,
			&notif.PlanID,
			&notif.Message,
			&meta,
		)
		if err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &notif.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal notification meta: %w", err)
			}
		}
		notifs = append(notifs, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifs, nil
}
