package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/models"
)

const (
	defaultTxLimit = 20
	maxTxLimit     = 100
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id := domain.Identity(mux.Vars(r)["id"])

	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		h.log.Error("balance lookup failed", zap.String("identity", string(id)), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, models.BalanceResponse{
		Identity:  id,
		Balance:   balance,
		Formatted: domain.FormatAmount(balance),
	})
}

func (h *Handler) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id := domain.Identity(mux.Vars(r)["id"])

	limit := defaultTxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTxLimit)
	}

	txs, err := h.ledger.Recent(r.Context(), id, limit)
	if err != nil {
		h.log.Error("listing transactions failed", zap.String("identity", string(id)), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, models.TransactionsResponse{Identity: id, Transactions: txs})
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := h.ledger.Get(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrUnknownReference):
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return
	case err != nil:
		h.log.Error("transaction lookup failed", zap.String("tx_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, tx)
}

// GetGroupHandler shows a split transfer while it is in flight. Groups are
// released once their outcome has been announced.
func (h *Handler) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.groups.Get(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusNotFound, "Group not found")
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
