package service

import (
	"context"
	"fmt"
)

// Каналы шины хоста, в которые пересылаются события.
const (
	ChannelNetworkLog      = "network-log"
	ChannelConsoleLog      = "console-log"
	ChannelWebSocketUpdate = "websocket-update"
)

// Forwarder доставляет именованное событие в шину хоста.
// Реализация должна быть безопасна для одновременных вызовов из разных соединений.
type Forwarder interface {
	Forward(ctx context.Context, channel string, payload any) error
}

// ForwardError возвращается, когда шина хоста не приняла событие.
type ForwardError struct {
	Channel string
	Err     error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward %s: %v", e.Channel, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }
