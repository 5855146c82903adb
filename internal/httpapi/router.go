package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	JWTSecret   []byte
	MaxInflight int
	// Per-caller request rate on authenticated routes; zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

func Router(h *Handlers, cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(Authenticate(cfg.JWTSecret), RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	authed.HandleFunc("/accounts/{id}/balance", h.GetBalance).Methods(http.MethodGet)
	authed.HandleFunc("/transactions/transfer", h.Transfer).Methods(http.MethodPost)
	authed.HandleFunc("/transactions/reverse", h.Reverse).Methods(http.MethodPost)
	authed.HandleFunc("/transactions/history", h.History).Methods(http.MethodGet)

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Backpressure at the edge.
	// Prevents unbounded goroutine/pool queueing when DB is saturated.
	return withAccessLog(withConcurrencyLimit(r, cfg.MaxInflight), log)
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			writeErr(w, http.StatusServiceUnavailable, "SERVER_BUSY", "server busy")
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withAccessLog(next http.Handler, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
