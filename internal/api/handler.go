// Package api exposes the HTTP surface: the settlement and messaging
// webhooks, a read-only view of the ledger, health and metrics.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/groups"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/metrics"
	"github.com/punchamoorthee/chatpay/internal/models"
)

// CallbackProcessor applies settlement callbacks.
type CallbackProcessor interface {
	Reconcile(ctx context.Context, cb models.SettlementCallback) error
}

// MessageProcessor handles inbound chat messages.
type MessageProcessor interface {
	Handle(ctx context.Context, m models.ChatMessage) error
}

// Deps wires a Handler.
type Deps struct {
	Ledger       *ledger.Ledger
	Groups       *groups.Coordinator
	Reconciler   CallbackProcessor
	Conversation MessageProcessor
	Dispatcher   *Dispatcher
	// WebhookSecret, when set, must match the X-Webhook-Token header.
	WebhookSecret string
	Logger        *zap.Logger
}

type Handler struct {
	ledger       *ledger.Ledger
	groups       *groups.Coordinator
	reconciler   CallbackProcessor
	conversation MessageProcessor
	dispatch     *Dispatcher
	secret       string
	log          *zap.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		ledger:       d.Ledger,
		groups:       d.Groups,
		reconciler:   d.Reconciler,
		conversation: d.Conversation,
		dispatch:     d.Dispatcher,
		secret:       d.WebhookSecret,
		log:          d.Logger.With(zap.String("component", "api")),
	}
}

// NewRouter mounts every route of h.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	r.HandleFunc("/webhook/settlement", h.SettlementWebhookHandler).Methods(http.MethodPost)
	r.HandleFunc("/webhook/messages", h.MessageWebhookHandler).Methods(http.MethodPost)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/identities/{id}/balance", h.GetBalanceHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/identities/{id}/transactions", h.GetTransactionsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/transactions/{id}", h.GetTransactionHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/groups/{id}", h.GetGroupHandler).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument records request counts and latency labeled by route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
