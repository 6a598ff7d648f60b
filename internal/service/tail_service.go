package service

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wrongjunior/devlens/internal/domain"
	"github.com/wrongjunior/devlens/internal/hostbus"
	"go.uber.org/zap"
)

// TailService выводит события шины хоста по одной строке.
type TailService struct {
	out      io.Writer
	logger   *zap.Logger
	channels map[string]struct{}
	mu       sync.Mutex
}

// NewTailService создаёт сервис вывода; пустой список каналов означает все каналы.
func NewTailService(out io.Writer, logger *zap.Logger, channels ...string) *TailService {
	ts := &TailService{
		out:      out,
		logger:   logger,
		channels: make(map[string]struct{}, len(channels)),
	}
	for _, c := range channels {
		if c = strings.TrimSpace(c); c != "" {
			ts.channels[c] = struct{}{}
		}
	}
	return ts
}

// ProcessEvent фильтрует событие по каналу и печатает его.
func (ts *TailService) ProcessEvent(ev hostbus.Event) {
	if len(ts.channels) > 0 {
		if _, ok := ts.channels[ev.Event]; !ok {
			return
		}
	}
	line, err := FormatEvent(ev)
	if err != nil {
		ts.logger.Error("Error decoding event payload", zap.String("channel", ev.Event), zap.Error(err))
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	fmt.Fprintln(ts.out, line)
}

// FormatEvent возвращает однострочное представление события.
func FormatEvent(ev hostbus.Event) (string, error) {
	switch ev.Event {
	case ChannelNetworkLog:
		var n domain.NetworkEvent
		if err := json.Unmarshal(ev.Payload, &n); err != nil {
			return "", err
		}
		line := fmt.Sprintf("NET %s %s %d %dms", n.Method, n.URL, n.Status, n.ResponseTime)
		if n.WSState != nil {
			line += " ws_state=" + *n.WSState
		}
		return line, nil
	case ChannelConsoleLog:
		var l domain.ConsoleLog
		if err := json.Unmarshal(ev.Payload, &l); err != nil {
			return "", err
		}
		return fmt.Sprintf("CONSOLE [%s] %s", l.Level, l.Message), nil
	case ChannelWebSocketUpdate:
		var u domain.WebSocketUpdateEvent
		if err := json.Unmarshal(ev.Payload, &u); err != nil {
			return "", err
		}
		return "WS " + u.WsID + formatUpdate(u.Update), nil
	default:
		return fmt.Sprintf("%s %s", ev.Event, ev.Payload), nil
	}
}

func formatUpdate(u domain.WebSocketUpdate) string {
	var b strings.Builder
	field := func(name string, set, null bool, value any) {
		if !set {
			return
		}
		if null {
			fmt.Fprintf(&b, " %s=null", name)
			return
		}
		fmt.Fprintf(&b, " %s=%v", name, value)
	}
	field("state", u.State.Set, u.State.Null, u.State.Value)
	field("status", u.Status.Set, u.Status.Null, u.Status.Value)
	field("response_time", u.ResponseTime.Set, u.ResponseTime.Null, u.ResponseTime.Value)
	field("message", u.Message.Set, u.Message.Null, u.Message.Value.Direction+":"+u.Message.Value.Data)
	field("error", u.Error.Set, u.Error.Null, u.Error.Value)
	field("close_reason", u.CloseReason.Set, u.CloseReason.Null, u.CloseReason.Value)
	return b.String()
}
