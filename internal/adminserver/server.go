// Package adminserver exposes the operational side-channel described in
// SPEC_FULL.md: health, rate-limit ledger inspection, and voice session
// status. It is never on the rate-limited request path itself.
package adminserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/server"
	"github.com/tjfontaine/discordgw/internal/voice"
)

// Server is the chi-routed admin/debug HTTP surface.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
}

// New builds a Server that reports on l and, if non-nil, the current state
// of session.
func New(port int, logger *slog.Logger, l *ledger.Ledger, session *voice.Session) *Server {
	r := chi.NewRouter()

	r.Use(server.RequestIDMiddleware)
	r.Use(server.LoggingMiddleware(logger))
	r.Use(server.TimeoutMiddleware(5 * time.Second))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "discordgw-admin")
	})

	r.Get("/healthz", healthzHandler)
	r.Get("/debug/ledger", ledgerHandler(l))
	if session != nil {
		r.Get("/debug/voice", voiceHandler(session))
	}

	return &Server{Router: r, Port: port, logger: logger}
}

// Start blocks serving the admin surface until the process exits or the
// listener fails.
func (s *Server) Start() error {
	s.logger.Info("admin server: starting", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type bucketView struct {
	RawRoute  string    `json:"raw_route"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Queued    int       `json:"queued"`
}

type ledgerView struct {
	Buckets       []bucketView `json:"buckets"`
	GlobalResetAt time.Time    `json:"global_reset_at,omitempty"`
}

func ledgerHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if l == nil {
			http.Error(w, "ledger not configured", http.StatusServiceUnavailable)
			return
		}
		buckets, globalResetAt := l.Snapshots()
		view := ledgerView{GlobalResetAt: globalResetAt}
		for _, b := range buckets {
			view.Buckets = append(view.Buckets, bucketView{
				RawRoute:  b.RawRoute,
				Limit:     b.Limit,
				Remaining: b.Remaining,
				ResetAt:   b.ResetAt,
				Queued:    b.Queued,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	}
}

type voiceView struct {
	State string `json:"state"`
}

func voiceHandler(session *voice.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(voiceView{State: session.CurrentState().String()})
	}
}
