package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/groups"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/models"
	"github.com/punchamoorthee/chatpay/internal/store"
)

type recorder struct {
	mu        sync.Mutex
	callbacks []models.SettlementCallback
	messages  []models.ChatMessage
	deadline  bool
}

func (r *recorder) Reconcile(ctx context.Context, cb models.SettlementCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
	_, r.deadline = ctx.Deadline()
	return nil
}

func (r *recorder) Handle(_ context.Context, m models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

type fixture struct {
	server   *httptest.Server
	rec      *recorder
	dispatch *Dispatcher
	store    *store.MemoryStore
	ledger   *ledger.Ledger
	groups   *groups.Coordinator
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	f := &fixture{
		rec:      &recorder{},
		dispatch: NewDispatcher(4, time.Second, nil),
		store:    store.NewMemoryStore(),
	}
	f.ledger = ledger.New(f.store, nil, nil)
	f.groups = groups.NewCoordinator(time.Hour, nil, nil)
	h := NewHandler(Deps{
		Ledger:        f.ledger,
		Groups:        f.groups,
		Reconciler:    f.rec,
		Conversation:  f.rec,
		Dispatcher:    f.dispatch,
		WebhookSecret: secret,
	})
	f.server = httptest.NewServer(NewRouter(h))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// dispatched waits for n recorded jobs. The response is flushed before the
// job is handed to the dispatcher, so Wait alone could return too early.
func (f *fixture) dispatched(t *testing.T, n func(*recorder) int, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.rec.mu.Lock()
		defer f.rec.mu.Unlock()
		return n(f.rec) >= want
	}, 2*time.Second, 5*time.Millisecond)
	f.dispatch.Wait()
}

func callbacks(r *recorder) int { return len(r.callbacks) }
func messages(r *recorder) int  { return len(r.messages) }

func TestSettlementWebhookAcknowledgesAndDispatches(t *testing.T) {
	f := newFixture(t, "")
	body := `{"id":"ref-1_2","status":"COMPLETED","amount":"100.50","endToEndId":"E123"}`

	resp := f.post(t, "/webhook/settlement", body, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	f.dispatched(t, callbacks, 1)

	require.Len(t, f.rec.callbacks, 1)
	cb := f.rec.callbacks[0]
	assert.Equal(t, "ref-1_2", cb.ID)
	assert.Equal(t, domain.StatusCompleted, cb.Status)
	assert.Equal(t, int64(10050), cb.AmountMinor())
	assert.JSONEq(t, body, string(cb.Raw))
	assert.True(t, f.rec.deadline, "jobs run under a bounded context")
}

func TestWebhookToken(t *testing.T) {
	f := newFixture(t, "s3cret")

	resp := f.post(t, "/webhook/settlement", `{"id":"x","status":"ERROR"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, "/webhook/settlement", `{"id":"x","status":"ERROR"}`, map[string]string{"X-Webhook-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	f.dispatched(t, callbacks, 1)
	assert.Len(t, f.rec.callbacks, 1)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, "")
	resp := f.post(t, "/webhook/settlement", `{"id":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	f.dispatch.Wait()
	assert.Empty(t, f.rec.callbacks)
}

func TestMessageWebhook(t *testing.T) {
	f := newFixture(t, "")

	resp := f.post(t, "/webhook/messages", `{"phone":"5511988887777","fromMe":true,"text":{"message":"eco"}}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.post(t, "/webhook/messages", `{"phone":"5511988887777","buttonsResponseMessage":{"buttonId":"confirm","message":"Sim, enviar"}}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	f.dispatched(t, messages, 1)

	require.Len(t, f.rec.messages, 1)
	assert.Equal(t, models.ChatMessage{Identity: "5511988887777", Text: "Sim, enviar"}, f.rec.messages[0])
}

func TestReadAPI(t *testing.T) {
	f := newFixture(t, "")
	f.store.SetBalance("5511988887777", 12345)
	_, err := f.ledger.Register(t.Context(), domain.Transaction{ID: "in-1", Identity: "5511988887777", Type: domain.TxPayIn, Amount: 500})
	require.NoError(t, err)
	_, _, err = f.groups.Create("ref-9", "5511988887777", 25000, 3, domain.GroupMeta{ChunkIDs: []string{"ref-9_1", "ref-9_2", "ref-9_3"}})
	require.NoError(t, err)

	var bal models.BalanceResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/identities/5511988887777/balance", &bal))
	assert.Equal(t, int64(12345), bal.Balance)
	assert.Equal(t, "R$ 123.45", bal.Formatted)

	var txs models.TransactionsResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/identities/5511988887777/transactions?limit=5", &txs))
	require.Len(t, txs.Transactions, 1)
	assert.Equal(t, domain.StatusPending, txs.Transactions[0].Status)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/identities/5511988887777/transactions?limit=abc", nil))

	var tx domain.Transaction
	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/transactions/in-1", &tx))
	assert.Equal(t, int64(500), tx.Amount)

	var missing models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/transactions/nope", &missing))
	assert.Equal(t, "Transaction not found", missing.Error)

	var snap domain.GroupSnapshot
	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/groups/ref-9", &snap))
	assert.Equal(t, 3, snap.ChunkCount)
	assert.Equal(t, domain.GroupPending, snap.Status)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/groups/ref-0", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	var health map[string]string
	assert.Equal(t, http.StatusOK, f.get(t, "/health", &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
