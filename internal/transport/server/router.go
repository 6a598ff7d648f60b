package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/wrongjunior/devlens/internal/logger"
	"github.com/wrongjunior/devlens/internal/metrics"
	"go.uber.org/zap"
)

// SetupAPIRouter настраивает маршруты транспорта запрос/ответ, а также
// /health, /metrics и подписку UI на шину хоста.
func SetupAPIRouter(api *APIHandler, bus http.Handler, l *zap.Logger, eventsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimd.RequestID,
		chimd.Recoverer,
		// локальный инструмент без аутентификации: разрешено всё
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
				http.MethodDelete, http.MethodHead, http.MethodOptions,
			},
			AllowedHeaders: []string{"*"},
		}),
		logger.AccessLog(l),
		metrics.Collect,
	)

	r.Get("/health", health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Method(http.MethodGet, eventsPath, bus)

	r.Post("/api/network", api.Network)
	r.Post("/api/console", api.Console)
	r.Post("/api/websocket/{wsId}", api.WebSocketUpdate)
	return r
}

// SetupFrameRouter настраивает маршрут двунаправленного транспорта.
func SetupFrameRouter(frames *FrameHandler, l *zap.Logger, wsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimd.RequestID,
		chimd.Recoverer,
		logger.AccessLog(l),
		metrics.Collect,
	)
	r.Method(http.MethodGet, wsPath, frames)
	r.Get("/health", health)
	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
