package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wrongjunior/devlens/internal/domain"
	"github.com/wrongjunior/devlens/internal/metrics"
	"go.uber.org/zap"
)

// Relayer доставляет сообщение в шину хоста; общий для обоих транспортов.
type Relayer interface {
	Relay(ctx context.Context, msg domain.Message) error
}

// Кадр подтверждения, который получает отправитель после пересылки сообщения.
var ackFrame = []byte(`{"status":"ok"}`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	// Инструментированная страница может иметь любой origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FrameOptions задаёт лимиты и таймауты постоянного соединения.
type FrameOptions struct {
	MaxFrameBytes int64
	PingInterval  time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// FrameHandler реализует двунаправленный транспорт: много сообщений на соединение,
// подтверждение на каждое пересланное сообщение.
type FrameHandler struct {
	relay  Relayer
	logger *zap.Logger
	opts   FrameOptions
}

// NewFrameHandler создаёт новый обработчик.
func NewFrameHandler(relay Relayer, logger *zap.Logger, opts FrameOptions) *FrameHandler {
	return &FrameHandler{
		relay:  relay,
		logger: logger,
		opts:   opts,
	}
}

// ServeHTTP выполняет апгрейд соединения и обрабатывает кадры до закрытия.
func (h *FrameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade error", zap.Error(err))
		return
	}
	log := h.logger.With(zap.String("conn", uuid.NewString()), zap.String("remoteAddr", r.RemoteAddr))
	log.Info("Instrumentation client connected")
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.keepalive(ctx, conn, log)

	// Пересылка не отменяется вместе с соединением: уже принятые кадры доставляются.
	h.receiveLoop(context.WithoutCancel(r.Context()), conn, log)
	log.Info("Instrumentation client disconnected")
}

// receiveLoop обрабатывает кадры строго по порядку: подтверждение уходит
// до чтения следующего кадра.
func (h *FrameHandler) receiveLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	defer conn.Close()
	conn.SetReadLimit(h.opts.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("Connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		if typ != websocket.TextMessage {
			metrics.DecodeFailed("ws")
			log.Warn("Skipping non-text frame", zap.Int("frameType", typ))
			continue
		}
		msg, err := domain.DecodeFrame(data)
		if err != nil {
			metrics.DecodeFailed("ws")
			log.Warn("Skipping malformed frame", zap.Error(err))
			continue
		}
		if err := h.relay.Relay(ctx, msg); err != nil {
			log.Warn("Frame not acknowledged", zap.String("kind", string(msg.Kind())), zap.Error(err))
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, ackFrame); err != nil {
			log.Error("Ack write error", zap.Error(err))
			return
		}
		metrics.AckSent()
	}
}

// keepalive отправляет ping; WriteControl можно вызывать параллельно с записью подтверждений.
func (h *FrameHandler) keepalive(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				log.Debug("Ping error", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
