package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wrongjunior/devlens/internal/domain"
	"github.com/wrongjunior/devlens/internal/metrics"
	"go.uber.org/zap"
)

// APIHandler реализует транспорт запрос/ответ: одно сообщение на вызов,
// результат передаётся только статусом.
type APIHandler struct {
	relay        Relayer
	logger       *zap.Logger
	maxBodyBytes int64
}

func NewAPIHandler(relay Relayer, logger *zap.Logger, maxBodyBytes int64) *APIHandler {
	return &APIHandler{
		relay:        relay,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Network обрабатывает POST /api/network.
func (h *APIHandler) Network(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(body []byte) (domain.Message, error) {
		ev, err := domain.DecodeNetworkEvent(body)
		if err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// Console обрабатывает POST /api/console.
func (h *APIHandler) Console(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(body []byte) (domain.Message, error) {
		log, err := domain.DecodeConsoleLog(body)
		if err != nil {
			return nil, err
		}
		return log, nil
	})
}

// WebSocketUpdate обрабатывает POST /api/websocket/{wsId}; wsId берётся из пути.
func (h *APIHandler) WebSocketUpdate(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "wsId")
	h.serve(w, r, func(body []byte) (domain.Message, error) {
		ev, err := domain.DecodeWebSocketUpdateEvent(wsID, body)
		if err != nil {
			return nil, err
		}
		return ev, nil
	})
}

func (h *APIHandler) serve(w http.ResponseWriter, r *http.Request, decode func([]byte) (domain.Message, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Request body too large", zap.String("uri", r.URL.Path), zap.Int64("limit", tooLarge.Limit))
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("Error reading request body", zap.String("uri", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	msg, err := decode(body)
	if err != nil {
		metrics.DecodeFailed("http")
		h.logger.Warn("Rejected payload", zap.String("uri", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.relay.Relay(context.WithoutCancel(r.Context()), msg); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
