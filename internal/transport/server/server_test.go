package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wrongjunior/devlens/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingRelayer struct {
	mu   sync.Mutex
	msgs []domain.Message
	fail int // столько первых вызовов завершатся ошибкой
}

func (r *recordingRelayer) Relay(_ context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("host bus unreachable")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingRelayer) snapshot() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.msgs...)
}

const (
	consoleBody = `{"level":"error","message":"boom"}`
	networkBody = `{"id":"req-1","method":"POST","url":"https://api.example.com/items?x=1","status":201,"response_time":42,` +
		`"headers":{"request":{"content-type":"application/json"},"response":{"x-id":"7"}},"cookies":{"sid":"abc"},` +
		`"query_params":{"x":"1"},"request_body":"{\"a\":1}","response_body":"{\"ok\":true}","type":"Fetch/XHR"}`
	updateBody = `{"state":"closed","status":1000,"close_reason":"No reason","error":null}`
)

func newAPIServer(t *testing.T, relay Relayer, maxBody int64) *httptest.Server {
	t.Helper()
	api := NewAPIHandler(relay, zap.NewNop(), maxBody)
	srv := httptest.NewServer(SetupAPIRouter(api, http.NotFoundHandler(), zap.NewNop(), "/events"))
	t.Cleanup(srv.Close)
	return srv
}

func newFrameServer(t *testing.T, relay Relayer) *httptest.Server {
	t.Helper()
	frames := NewFrameHandler(relay, zap.NewNop(), FrameOptions{
		MaxFrameBytes: 1 << 20,
		PingInterval:  time.Minute,
		ReadTimeout:   time.Minute,
		WriteTimeout:  time.Second,
	})
	srv := httptest.NewServer(SetupFrameRouter(frames, zap.NewNop(), "/ws"))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("не удалось подключиться: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func post(t *testing.T, srv *httptest.Server, path, body string) int {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func readAck(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ожидалось подтверждение: %v", err)
	}
	if string(data) != `{"status":"ok"}` {
		t.Fatalf("неожиданное подтверждение: %s", data)
	}
}

func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("лишний кадр: %s", data)
	}
}

func TestAPIConsole(t *testing.T) {
	relay := &recordingRelayer{}
	srv := newAPIServer(t, relay, 1<<20)

	if code := post(t, srv, "/api/console", consoleBody); code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", code)
	}
	want := []domain.Message{domain.ConsoleLog{Level: "error", Message: "boom"}}
	if got := relay.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ожидалось %#v, получено %#v", want, got)
	}
}

func TestAPIRejectsMalformed(t *testing.T) {
	relay := &recordingRelayer{}
	srv := newAPIServer(t, relay, 1<<20)

	cases := []struct{ path, body string }{
		{"/api/console", `{"level":"info"}`},
		{"/api/console", `not json`},
		{"/api/network", `{"id":"1"}`},
		{"/api/websocket/abc", `{"status":"open"}`},
	}
	for _, tc := range cases {
		if code := post(t, srv, tc.path, tc.body); code != http.StatusBadRequest {
			t.Errorf("%s %s: ожидался 400, получен %d", tc.path, tc.body, code)
		}
	}
	if got := relay.snapshot(); len(got) != 0 {
		t.Errorf("отклонённые сообщения не должны пересылаться: %#v", got)
	}
}

func TestAPIForwardFailure(t *testing.T) {
	relay := &recordingRelayer{fail: 1}
	srv := newAPIServer(t, relay, 1<<20)

	if code := post(t, srv, "/api/console", consoleBody); code != http.StatusInternalServerError {
		t.Errorf("ожидался 500, получен %d", code)
	}
	if code := post(t, srv, "/api/console", consoleBody); code != http.StatusOK {
		t.Errorf("ожидался 200 после восстановления, получен %d", code)
	}
}

func TestAPIBodyTooLarge(t *testing.T) {
	relay := &recordingRelayer{}
	srv := newAPIServer(t, relay, 16)

	if code := post(t, srv, "/api/console", consoleBody); code != http.StatusRequestEntityTooLarge {
		t.Errorf("ожидался 413, получен %d", code)
	}
}

func TestAPIWebSocketUpdateIDFromPath(t *testing.T) {
	relay := &recordingRelayer{}
	srv := newAPIServer(t, relay, 1<<20)

	if code := post(t, srv, "/api/websocket/ws-42", `{"state":"open"}`); code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", code)
	}
	got := relay.snapshot()
	if len(got) != 1 {
		t.Fatalf("ожидалось 1 сообщение, получено %d", len(got))
	}
	ev, ok := got[0].(domain.WebSocketUpdateEvent)
	if !ok || ev.WsID != "ws-42" {
		t.Fatalf("неожиданное сообщение: %#v", got[0])
	}
	if state, ok := ev.Update.State.Get(); !ok || state != "open" {
		t.Errorf("ожидалось state=open, получено %#v", ev.Update.State)
	}
	if ev.Update.Status.Set || ev.Update.Error.Set {
		t.Errorf("отсутствующие поля не должны появляться: %#v", ev.Update)
	}
}

func TestAPICORSPreflight(t *testing.T) {
	srv := newAPIServer(t, &recordingRelayer{}, 1<<20)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/console", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("ожидался 200, получен %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("ожидался Access-Control-Allow-Origin: *, получен %q", got)
	}
}

func TestHealth(t *testing.T) {
	srv := newAPIServer(t, &recordingRelayer{}, 1<<20)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ожидался 200, получен %d", resp.StatusCode)
	}
}

func TestFramesAckOnlyForwarded(t *testing.T) {
	relay := &recordingRelayer{}
	conn := dial(t, newFrameServer(t, relay))

	frames := []string{
		`{"type":"console","data":{"level":"info","message":"a"}}`,
		`{"type":"console","data":`,
		`{"type":"console","data":{"level":"info","message":"b"}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}
	readAck(t, conn)
	readAck(t, conn)
	// за некорректный кадр подтверждения нет
	assertNoFrame(t, conn)

	want := []domain.Message{
		domain.ConsoleLog{Level: "info", Message: "a"},
		domain.ConsoleLog{Level: "info", Message: "b"},
	}
	if got := relay.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ожидалось %#v, получено %#v", want, got)
	}
}

func TestFrameRouterAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	frames := NewFrameHandler(&recordingRelayer{}, zap.NewNop(), FrameOptions{
		MaxFrameBytes: 1 << 20,
		PingInterval:  time.Minute,
		ReadTimeout:   time.Minute,
		WriteTimeout:  time.Second,
	})
	srv := httptest.NewServer(SetupFrameRouter(frames, zap.New(core), "/ws"))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	// запись появляется после завершения обработчика соединения
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterField(zap.String("uri", "/ws")).Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("нет записи access-лога для /ws")
		}
		time.Sleep(10 * time.Millisecond)
	}
	fields := logs.FilterField(zap.String("uri", "/ws")).All()[0].ContextMap()
	if fields["status"] != int64(http.StatusSwitchingProtocols) {
		t.Errorf("ожидался статус 101, получен %v", fields["status"])
	}
	if fields["requestId"] == "" {
		t.Error("нет request id")
	}
}

func TestFramesSkipBinary(t *testing.T) {
	relay := &recordingRelayer{}
	conn := dial(t, newFrameServer(t, relay))

	conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"console","data":{"level":"info","message":"bin"}}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"console","data":{"level":"info","message":"txt"}}`))
	readAck(t, conn)

	want := []domain.Message{domain.ConsoleLog{Level: "info", Message: "txt"}}
	if got := relay.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ожидалось %#v, получено %#v", want, got)
	}
}

func TestFramesForwardFailureKeepsConnection(t *testing.T) {
	relay := &recordingRelayer{fail: 1}
	conn := dial(t, newFrameServer(t, relay))

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"console","data":{"level":"info","message":"lost"}}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"console","data":{"level":"info","message":"kept"}}`))
	readAck(t, conn)

	want := []domain.Message{domain.ConsoleLog{Level: "info", Message: "kept"}}
	if got := relay.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ожидалось %#v, получено %#v", want, got)
	}

	// за первый кадр подтверждения нет
	assertNoFrame(t, conn)
}

func TestTransportsProduceSameMessages(t *testing.T) {
	viaHTTP := &recordingRelayer{}
	api := newAPIServer(t, viaHTTP, 1<<20)
	for _, c := range []struct{ path, body string }{
		{"/api/network", networkBody},
		{"/api/console", consoleBody},
		{"/api/websocket/ws-7", updateBody},
	} {
		if code := post(t, api, c.path, c.body); code != http.StatusOK {
			t.Fatalf("%s: ожидался 200, получен %d", c.path, code)
		}
	}

	viaWS := &recordingRelayer{}
	conn := dial(t, newFrameServer(t, viaWS))
	for _, f := range []string{
		`{"type":"network","data":` + networkBody + `}`,
		`{"type":"console","data":` + consoleBody + `}`,
		`{"type":"websocket-update","ws_id":"ws-7","data":` + updateBody + `}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
		readAck(t, conn)
	}

	if a, b := viaHTTP.snapshot(), viaWS.snapshot(); !reflect.DeepEqual(a, b) {
		t.Errorf("транспорты дали разные сообщения:\nhttp: %#v\nws:   %#v", a, b)
	}
}
