package websocket

import (
	"bytes"
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"orchestrator/internal/models"
	"orchestrator/internal/store"
	"orchestrator/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул JSON-буферов для сериализации broadcast-сообщений
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Доставка строго fire-and-forget: медленный клиент отключается,
// broadcast никогда не блокирует отправителя. Новому клиенту сразу
// отправляется полный снимок состояния, дальше идут инкрементальные
// события.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// snapshotFn отдаёт полный снимок для нового клиента (может быть nil)
	snapshotFn func() store.Snapshot

	mu  sync.RWMutex
	log *utils.Logger
}

// NewHub создает новый Hub
func NewHub(log *utils.Logger) *Hub {
	if log == nil {
		log = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.WithComponent("websocket"),
	}
}

// SetSnapshotProvider устанавливает источник снимка для новых клиентов
func (h *Hub) SetSnapshotProvider(fn func() store.Snapshot) {
	h.snapshotFn = fn
}

// Run запускает главный цикл Hub
//
// Запускается в отдельной горутине: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("websocket client connected", utils.Int("total", total))

			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("websocket client disconnected", utils.Int("total", total))

		case message := <-h.broadcast:
			// Список клиентов копируется под коротким RLock,
			// отправка идёт без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				h.log.Warn("slow websocket clients dropped", utils.Int("dropped", len(toRemove)))
			}
		}
	}
}

// closeAll отключает всех клиентов при остановке
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// sendSnapshot отправляет новому клиенту полный снимок состояния
func (h *Hub) sendSnapshot(client *Client) {
	if h.snapshotFn == nil {
		return
	}

	data, err := marshalMessage(NewSnapshotMessage(h.snapshotFn()))
	if err != nil {
		h.log.Error("snapshot message not marshaled", utils.Err(err))
		return
	}

	select {
	case client.send <- data:
	default:
	}
}

// marshalMessage сериализует сообщение через пул буферов
func marshalMessage(message interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	defer jsonBufferPool.Put(buf)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	data, err := marshalMessage(message)
	if err != nil {
		h.log.Error("broadcast message not marshaled", utils.Err(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		// Очередь broadcast переполнена - сообщение отбрасывается
	}
}

// BroadcastNotification отправляет новое уведомление
// (реализует notify.Broadcaster)
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastConnectionState отправляет смену состояния сессии с брокером
func (h *Hub) BroadcastConnectionState(from, to string) {
	h.Broadcast(NewConnectionMessage(from, to))
}

// PumpStoreEvents транслирует события Store подключенным клиентам
//
// Запускается в отдельной горутине: go hub.PumpStoreEvents(ctx, store.Subscribe(64))
func (h *Hub) PumpStoreEvents(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if msg := FromStoreEvent(event); msg != nil {
				h.Broadcast(msg)
			}
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
