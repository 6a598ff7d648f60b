package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wrongjunior/devlens/internal/hostbus"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Subscriber подписывается на шину хоста и передаёт кадры обработчику,
// переподключаясь при обрыве.
type Subscriber struct {
	url     string
	handle  func(hostbus.Event)
	logger  *zap.Logger
	dialer  *websocket.Dialer
	backoff time.Duration
}

// NewSubscriber создаёт подписчика на шину по адресу url (ws://host:port/events).
func NewSubscriber(url string, handle func(hostbus.Event), logger *zap.Logger) *Subscriber {
	return &Subscriber{
		url:     url,
		handle:  handle,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		backoff: initialBackoff,
	}
}

// Listen получает кадры до отмены ctx. Задержка между попытками растёт
// от секунды до 30 секунд и сбрасывается после успешного подключения.
func (s *Subscriber) Listen(ctx context.Context) {
	backoff := s.backoff
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Subscriber shutting down")
				return
			}
			s.logger.Warn("Connection attempt failed", zap.String("url", s.url), zap.Duration("retryIn", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				s.logger.Info("Subscriber shutting down")
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		s.logger.Info("Connected to host bus", zap.String("url", s.url))
		backoff = s.backoff
		if err := s.receive(ctx, conn); err != nil {
			s.logger.Warn("Read error", zap.Error(err))
		}
		if ctx.Err() != nil {
			s.logger.Info("Subscriber shutting down")
			return
		}
	}
}

func (s *Subscriber) receive(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	// ReadMessage не принимает контекст: закрываем соединение при отмене.
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var ev hostbus.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Error("Bus frame unmarshal error", zap.Error(err))
			continue
		}
		if ev.Event == "" {
			s.logger.Error("Bus frame without event name")
			continue
		}
		s.handle(ev)
	}
}
