package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

func testLog() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error", Format: "console"})
}

type memRepo struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (r *memRepo) Create(notif *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, notif)
	return nil
}

func (r *memRepo) GetRecent(limit int) ([]*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) < limit {
		limit = len(r.items)
	}
	return r.items[len(r.items)-limit:], nil
}

func (r *memRepo) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*models.Notification
	for _, n := range r.items {
		if want[n.Type] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *memRepo) KeepRecent(keepCount int) (int64, error) { return 0, nil }

type captureHub struct {
	mu   sync.Mutex
	seen []*models.Notification
}

func (h *captureHub) BroadcastNotification(notif *models.Notification) {
	h.mu.Lock()
	h.seen = append(h.seen, notif)
	h.mu.Unlock()
}

// brokenNotifier всегда проваливает доставку
type brokenNotifier struct{}

func (brokenNotifier) Name() string { return "broken" }
func (brokenNotifier) Send(ctx context.Context, notif *models.Notification) error {
	return errors.New("smtp is down")
}

func TestService_PublishPersistsAndBroadcasts(t *testing.T) {
	repo := &memRepo{}
	hub := &captureHub{}
	s := NewService(repo, 100, testLog())
	s.SetBroadcaster(hub)

	if err := s.PublishFill(context.Background(), "order filled", nil); err != nil {
		t.Fatalf("PublishFill: %v", err)
	}

	if len(repo.items) != 1 || repo.items[0].Type != models.NotificationTypeFill {
		t.Errorf("журнал: %+v", repo.items)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.seen) != 1 {
		t.Errorf("broadcast'ов = %d, want 1", len(hub.seen))
	}
}

func TestService_DeliveryFailureDoesNotPropagate(t *testing.T) {
	// Best-effort: сбой внешнего канала не должен ронять публикацию
	s := NewService(&memRepo{}, 100, testLog())
	s.AddNotifier(brokenNotifier{})

	if err := s.PublishError(context.Background(), "something broke", nil); err != nil {
		t.Fatalf("сбой доставки просочился наружу: %v", err)
	}
}

func TestService_RecentFiltersByType(t *testing.T) {
	repo := &memRepo{}
	s := NewService(repo, 100, testLog())

	ctx := context.Background()
	if err := s.PublishFill(ctx, "fill", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.PublishPause(ctx, "paused"); err != nil {
		t.Fatal(err)
	}

	// Типы нормализуются к верхнему регистру
	got, err := s.Recent([]string{" fill "}, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Type != models.NotificationTypeFill {
		t.Errorf("фильтр по типу: %+v", got)
	}
}

func TestService_SubmitCommand(t *testing.T) {
	s := NewService(nil, 0, testLog())

	if err := s.SubmitCommand(Command{Kind: "reboot"}); err == nil {
		t.Error("неизвестная команда должна отклоняться")
	}

	if err := s.SubmitCommand(Command{Kind: CommandPause}); err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}

	select {
	case cmd := <-s.Commands():
		if cmd.Kind != CommandPause {
			t.Errorf("kind = %s, want pause", cmd.Kind)
		}
		if cmd.ReceivedAt.IsZero() {
			t.Error("ReceivedAt не проставлен")
		}
	case <-time.After(time.Second):
		t.Fatal("команда не доставлена")
	}
}

func TestService_ConfirmCommandCarriesCode(t *testing.T) {
	s := NewService(nil, 0, testLog())

	if err := s.SubmitCommand(Command{Kind: CommandConfirm, PlanID: "plan-1", Code: "AB12CD"}); err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}

	cmd := <-s.Commands()
	if cmd.PlanID != "plan-1" || cmd.Code != "AB12CD" {
		t.Errorf("confirm команда: %+v", cmd)
	}
}
