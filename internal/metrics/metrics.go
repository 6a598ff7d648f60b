package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devlens_http_response_seconds",
			Help:    "http response time.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devlens_http_requests_total", Help: "http requests by code, method and route"},
		[]string{"code", "method", "uri"},
	)

	forwardedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devlens_forwarded_events_total", Help: "events delivered to the host bus"},
		[]string{"channel"},
	)

	forwardFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devlens_forward_failures_total", Help: "events the host bus failed to accept"},
		[]string{"channel"},
	)

	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devlens_decode_failures_total", Help: "inbound payloads rejected by schema validation"},
		[]string{"transport"},
	)

	acks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "devlens_acks_total", Help: "acknowledgement frames written"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "devlens_ws_connections", Help: "open instrumentation connections"},
	)

	busSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "devlens_bus_subscribers", Help: "host bus subscribers"},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequests,
		forwardedEvents,
		forwardFailures,
		decodeFailures,
		acks,
		wsConnections,
		busSubscribers,
	)
}

// Handler возвращает обработчик /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Collect возвращает middleware, считающее запросы и время ответа.
// В метку uri попадает шаблон маршрута chi, чтобы wsId не раздувал кардинальность.
func Collect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			if r.URL.Path == "/metrics" {
				return
			}
			uri := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					uri = pattern
				}
			}
			totalHttpRequests.WithLabelValues(strconv.Itoa(Status(ww, r)), r.Method, uri).Inc()
			responseTime.Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Status возвращает код ответа. После апгрейда соединение захвачено и
// WriteHeader не вызывается, поэтому для него возвращается 101.
func Status(ww chimw.WrapResponseWriter, r *http.Request) int {
	if ww.Status() == 0 && websocket.IsWebSocketUpgrade(r) {
		return http.StatusSwitchingProtocols
	}
	return ww.Status()
}

func EventForwarded(channel string) { forwardedEvents.WithLabelValues(channel).Inc() }

func ForwardFailed(channel string) { forwardFailures.WithLabelValues(channel).Inc() }

func DecodeFailed(transport string) { decodeFailures.WithLabelValues(transport).Inc() }

func AckSent() { acks.Inc() }

func ConnectionOpened() { wsConnections.Inc() }

func ConnectionClosed() { wsConnections.Dec() }

func SubscriberAdded() { busSubscribers.Inc() }

func SubscriberRemoved() { busSubscribers.Dec() }
