package hostbus

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wrongjunior/devlens/internal/metrics"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var ErrClosed = errors.New("hostbus: closed")

// Subscriber получает события шины. Канал C закрывается, когда подписчик
// отписан, отброшен из-за переполнения или шина закрыта.
type Subscriber struct {
	ID   string
	send chan []byte
}

func (s *Subscriber) C() <-chan []byte { return s.send }

// Bus реализует встроенную шину хоста и рассылает каждое событие всем подписчикам.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	closed      bool
	buffer      int
	logger      *zap.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// UI может работать с любого origin (локальный инструмент разработчика)
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewBus создаёт шину; buffer задаёт размер очереди каждого подписчика.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Forward кодирует событие один раз и кладёт его в очередь каждого подписчика.
// Подписчик с заполненной очередью отключается. Вызов не блокируется на медленных
// подписчиках, поэтому ctx не используется.
func (b *Bus) Forward(_ context.Context, channel string, payload any) error {
	frame, err := Encode(channel, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subscribers {
		select {
		case sub.send <- frame:
		default:
			b.remove(sub)
			b.logger.Warn("Subscriber dropped: queue full", zap.String("subscriber", sub.ID), zap.String("channel", channel))
		}
	}
	return nil
}

// Subscribe регистрирует нового подписчика.
func (b *Bus) Subscribe() (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &Subscriber{
		ID:   uuid.NewString(),
		send: make(chan []byte, b.buffer),
	}
	b.subscribers[sub] = struct{}{}
	metrics.SubscriberAdded()
	b.logger.Info("Subscriber registered", zap.String("subscriber", sub.ID))
	return sub, nil
}

// Unsubscribe удаляет подписчика. Повторный вызов безопасен.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

func (b *Bus) remove(sub *Subscriber) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.send)
	metrics.SubscriberRemoved()
	b.logger.Info("Subscriber unregistered", zap.String("subscriber", sub.ID))
}

// Len возвращает число подписчиков.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close отключает всех подписчиков; последующие Forward возвращают ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subscribers {
		b.remove(sub)
	}
	b.logger.Info("Host bus closed")
}

// ServeHTTP выполняет апгрейд соединения и подписывает UI на события шины.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("WebSocket upgrade error", zap.Error(err))
		return
	}
	sub, err := b.Subscribe()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "host bus closed"), time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go b.writePump(conn, sub)
	b.readPump(conn)
	b.Unsubscribe(sub)
}

// readPump читает входящие кадры только ради pong и обнаружения закрытия.
func (b *Bus) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("Subscriber connection closed", zap.Error(err))
			}
			return
		}
	}
}

// writePump отправляет события подписчику и периодически отправляет ping.
func (b *Bus) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case frame, ok := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				b.logger.Error("Error writing event", zap.String("subscriber", sub.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.logger.Error("Ping error", zap.String("subscriber", sub.ID), zap.Error(err))
				return
			}
		}
	}
}
