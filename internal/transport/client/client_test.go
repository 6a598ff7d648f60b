package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wrongjunior/devlens/internal/hostbus"
	"go.uber.org/zap"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubscriberReceivesBusEvents(t *testing.T) {
	bus := hostbus.NewBus(8, zap.NewNop())
	srv := httptest.NewServer(bus)
	defer srv.Close()
	defer bus.Close()

	events := make(chan hostbus.Event, 1)
	sub := NewSubscriber(wsURL(srv), func(ev hostbus.Event) { events <- ev }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Listen(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("подписчик не подключился")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := bus.Forward(ctx, "console-log", map[string]string{"level": "info", "message": "hi"}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		if ev.Event != "console-log" || string(ev.Payload) != `{"level":"info","message":"hi"}` {
			t.Errorf("неожиданное событие: %s %s", ev.Event, ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("событие не получено")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen не завершился после отмены контекста")
	}
}

func TestSubscriberReconnects(t *testing.T) {
	var connects atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"console-log","payload":{}}`))
		// обрыв без close-кадра
		conn.NetConn().Close()
	}))
	defer srv.Close()

	events := make(chan hostbus.Event, 8)
	sub := NewSubscriber(wsURL(srv), func(ev hostbus.Event) { events <- ev }, zap.NewNop())
	sub.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Listen(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(2 * time.Second):
			t.Fatalf("получено событий: %d, ожидалось 2", i)
		}
	}
	if connects.Load() < 2 {
		t.Errorf("ожидалось переподключение, подключений: %d", connects.Load())
	}
}

func TestSubscriberStopsWhileServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	sub := NewSubscriber(url, func(hostbus.Event) {}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Listen(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen не завершился во время ожидания переподключения")
	}
}
