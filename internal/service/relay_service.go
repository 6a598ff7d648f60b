package service

import (
	"context"
	"fmt"

	"github.com/wrongjunior/devlens/internal/domain"
	"github.com/wrongjunior/devlens/internal/metrics"
	"go.uber.org/zap"
)

// Route сопоставляет сообщение каналу шины хоста и полезной нагрузке.
// Сообщения не изменяются.
func Route(msg domain.Message) (string, any, error) {
	switch m := msg.(type) {
	case domain.NetworkEvent:
		return ChannelNetworkLog, m, nil
	case domain.ConsoleLog:
		return ChannelConsoleLog, m, nil
	case domain.WebSocketUpdateEvent:
		return ChannelWebSocketUpdate, m, nil
	default:
		return "", nil, fmt.Errorf("route: unsupported message %T", msg)
	}
}

// RelayService пересылает декодированные сообщения в шину хоста.
// Состояния между сообщениями нет, поэтому один экземпляр обслуживает все транспорты.
type RelayService struct {
	fwd    Forwarder
	logger *zap.Logger
}

// NewRelayService создаёт новый экземпляр сервиса.
func NewRelayService(fwd Forwarder, logger *zap.Logger) *RelayService {
	return &RelayService{
		fwd:    fwd,
		logger: logger,
	}
}

// Relay маршрутизирует сообщение и синхронно пересылает его.
// Ошибка доставки возвращается как *ForwardError.
func (s *RelayService) Relay(ctx context.Context, msg domain.Message) error {
	channel, payload, err := Route(msg)
	if err != nil {
		return err
	}
	if err := s.fwd.Forward(ctx, channel, payload); err != nil {
		metrics.ForwardFailed(channel)
		s.logger.Error("Failed to forward event", zap.String("channel", channel), zap.Error(err))
		return &ForwardError{Channel: channel, Err: err}
	}
	metrics.EventForwarded(channel)
	s.logger.Debug("Event forwarded", zap.String("channel", channel))
	return nil
}
