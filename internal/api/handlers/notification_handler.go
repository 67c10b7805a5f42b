package handlers

import (
	"net/http"
	"strings"

	"orchestrator/internal/models"
)

// NotificationReader отдаёт журнал уведомлений
type NotificationReader interface {
	Recent(types []string, limit int) ([]*models.Notification, error)
}

// NotificationHandler отвечает за чтение журнала уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления
// - GET /api/v1/notifications?types=RISK,ERROR - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
type NotificationHandler struct {
	notify NotificationReader
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notify NotificationReader) *NotificationHandler {
	return &NotificationHandler{notify: notify}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): фильтр по типам через запятую (ORDER,FILL,APPROVAL,CONNECTION,RISK,ERROR,PAUSE)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	limit := parseLimit(r, 100, 500)

	notifications, err := h.notify.Recent(types, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get notifications: "+err.Error())
		return
	}

	if notifications == nil {
		notifications = []*models.Notification{}
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}
