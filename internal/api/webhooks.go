package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/models"
)

const maxWebhookBody = 1 << 20

// SettlementWebhookHandler acknowledges a settlement callback before doing
// any work, so slow processing never triggers provider retries.
func (h *Handler) SettlementWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readWebhook(w, r)
	if !ok {
		return
	}
	var cb models.SettlementCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	cb.Raw = body

	acknowledge(w)
	h.dispatch.Go(r.Context(), "settlement_callback", func(ctx context.Context) error {
		return h.reconciler.Reconcile(ctx, cb)
	})
}

// MessageWebhookHandler acknowledges an inbound chat message and hands it
// to the conversation. Echoes, group chats and empty messages are dropped.
func (h *Handler) MessageWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readWebhook(w, r)
	if !ok {
		return
	}
	var in models.InboundMessage
	if err := json.Unmarshal(body, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	acknowledge(w)
	msg, ok := in.Normalize()
	if !ok {
		return
	}
	h.dispatch.Go(r.Context(), "chat_message", func(ctx context.Context) error {
		return h.conversation.Handle(ctx, msg)
	})
}

func (h *Handler) readWebhook(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Token")), []byte(h.secret)) != 1 {
		respondWithError(w, http.StatusUnauthorized, "Invalid webhook token")
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.log.Warn("webhook body unreadable", zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "Stream read error")
		return nil, false
	}
	return body, true
}

// acknowledge writes and flushes the 200 answer.
func acknowledge(w http.ResponseWriter) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "received"})
	_ = http.NewResponseController(w).Flush()
}
