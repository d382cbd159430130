package dialogue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/session"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupEngine(t *testing.T) (*Engine, session.Store, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := session.NewMemoryStore(session.DefaultPolicy(5*time.Minute), clock, nil)
	return NewEngine(store, PtBR, nil), store, clock
}

var sendTen = session.WithdrawConfirmation{Command: domain.Command{
	Action: domain.ActionWithdraw, Amount: 1_000, TargetKey: "ana@example.com", KeyType: domain.KeyEmail,
}}

func TestClassify(t *testing.T) {
	t.Parallel()

	withdraw := PtBR.Vocab[session.KindWithdrawConfirmation]
	keyType := PtBR.Vocab[session.KindKeyTypeDisambiguation]

	tests := []struct {
		name       string
		vocab      Vocabulary
		text       string
		candidates int
		want       Reply
	}{
		{"exact affirm", withdraw, "Sim", 0, Reply{Verdict: Affirm}},
		{"button label", withdraw, "✅ Sim, enviar", 0, Reply{Verdict: Affirm}},
		{"affirm phrase", withdraw, "sim, enviar agora", 0, Reply{Verdict: Affirm}},
		{"trailing punctuation", withdraw, "ok!", 0, Reply{Verdict: Affirm}},
		{"negated send cancels", withdraw, "não enviar", 0, Reply{Verdict: Cancel}},
		{"cancel phrase", withdraw, "quero cancelar isso", 0, Reply{Verdict: Cancel}},
		{"free text", withdraw, "quanto tenho de saldo?", 0, Reply{Verdict: Unrecognized}},
		{"empty", withdraw, "   ", 0, Reply{Verdict: Unrecognized}},
		{"digit selects candidate", Vocabulary{}, "2", 3, Reply{Verdict: Select, Index: 2}},
		{"digit out of range", Vocabulary{}, "4", 3, Reply{Verdict: Unrecognized}},
		{"digit without candidates", withdraw, "1", 0, Reply{Verdict: Unrecognized}},
		{"named option", keyType, "é telefone", 0, Reply{Verdict: Select, Index: 2}},
		{"option phrase", keyType, "é um cpf sim", 0, Reply{Verdict: Select, Index: 1}},
		{"second option phrase", keyType, "é o celular dele", 0, Reply{Verdict: Select, Index: 2}},
		{"both options named", keyType, "não é cpf, é telefone", 0, Reply{Verdict: Unrecognized}},
		{"both options without negation", keyType, "cpf ou telefone", 0, Reply{Verdict: Unrecognized}},
		{"negated option", keyType, "não é cpf", 0, Reply{Verdict: Unrecognized}},
		{"bare no cancels", keyType, "não", 0, Reply{Verdict: Cancel}},
		{"english negated option", English.Vocab[session.KindKeyTypeDisambiguation], "it's not a phone", 0, Reply{Verdict: Unrecognized}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.vocab, tt.text, tt.candidates))
		})
	}
}

func TestClassifyIsStable(t *testing.T) {
	t.Parallel()

	keyType := PtBR.Vocab[session.KindKeyTypeDisambiguation]
	for range 200 {
		require.Equal(t, Reply{Verdict: Unrecognized}, Classify(keyType, "não é cpf, é telefone", 0))
		require.Equal(t, Reply{Verdict: Select, Index: 2}, Classify(keyType, "acho que é telefone", 0))
	}
}

func TestResolveWithoutPendingAction(t *testing.T) {
	t.Parallel()

	engine, _, _ := setupEngine(t)
	out, err := engine.Resolve(context.Background(), "5511", "sim")
	require.NoError(t, err)
	assert.False(t, out.Pending)
	assert.False(t, out.Execute())
}

func TestResolveAffirmReleasesPayloadOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _ := setupEngine(t)
	_, err := store.Put(ctx, "5511", sendTen)
	require.NoError(t, err)

	out, err := engine.Resolve(ctx, "5511", "sim")
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Equal(t, Affirm, out.Verdict)
	assert.Equal(t, sendTen, out.Payload)

	again, err := engine.Resolve(ctx, "5511", "sim")
	require.NoError(t, err)
	assert.False(t, again.Pending)
	assert.Nil(t, again.Payload)
}

func TestResolveCancelRemovesWithoutPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _ := setupEngine(t)
	_, _ = store.Put(ctx, "5511", sendTen)

	out, err := engine.Resolve(ctx, "5511", "cancelar")
	require.NoError(t, err)
	assert.Equal(t, Cancel, out.Verdict)
	assert.Nil(t, out.Payload)
	assert.Contains(t, out.Prompt.Text, "cancelada")

	_, ok, _ := store.Get(ctx, "5511")
	assert.False(t, ok)
}

func TestResolveUnrecognizedKeepsEntryAndRepeatsDetails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _ := setupEngine(t)
	_, _ = store.Put(ctx, "5511", sendTen)

	out, err := engine.Resolve(ctx, "5511", "hmm talvez amanhã")
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, out.Verdict)
	assert.Contains(t, out.Prompt.Text, "R$ 10.00")
	assert.Contains(t, out.Prompt.Text, "ana@example.com")
	assert.Len(t, out.Prompt.Options, 2)

	_, ok, _ := store.Get(ctx, "5511")
	assert.True(t, ok)
}

func TestResolveLateReplyIsNewMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, clock := setupEngine(t)
	_, _ = store.Put(ctx, "5511", sendTen)

	clock.Advance(6 * time.Minute)

	out, err := engine.Resolve(ctx, "5511", "sim")
	require.NoError(t, err)
	assert.False(t, out.Pending)
	assert.Nil(t, out.Payload)
}

func TestResolveRefundSelectionThenConfirm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _ := setupEngine(t)
	at := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	_, _ = store.Put(ctx, "5511", session.RefundConfirmation{Candidates: []session.RefundCandidate{
		{ID: "tx-a", Amount: 5_000, CreatedAt: at},
		{ID: "tx-b", Amount: 7_500, CreatedAt: at},
	}})

	out, err := engine.Resolve(ctx, "5511", "sim")
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, out.Verdict)
	assert.Equal(t, PtBR.Messages.SelectFirst, out.Prompt.Text)

	out, err = engine.Resolve(ctx, "5511", "2")
	require.NoError(t, err)
	assert.Equal(t, Select, out.Verdict)
	assert.Nil(t, out.Payload)
	assert.Contains(t, out.Prompt.Text, "tx-b")

	out, err = engine.Resolve(ctx, "5511", "sim, estornar")
	require.NoError(t, err)
	require.Equal(t, Affirm, out.Verdict)
	refund := out.Payload.(session.RefundConfirmation)
	assert.Equal(t, "tx-b", refund.Selected.ID)
	assert.Equal(t, int64(7_500), refund.Selected.Amount)
}

func TestResolveKeyTypeSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _ := setupEngine(t)
	cmd := domain.Command{Action: domain.ActionWithdraw, Amount: 2_000, TargetKey: "52998224725", KeyType: domain.KeyCPFOrPhone}

	_, _ = store.Put(ctx, "a", session.KeyTypeDisambiguation{Command: cmd})
	out, err := engine.Resolve(ctx, "a", "telefone")
	require.NoError(t, err)
	assert.Equal(t, Select, out.Verdict)
	got := out.Payload.(session.KeyTypeDisambiguation).Command
	assert.Equal(t, domain.KeyPhone, got.KeyType)
	assert.Equal(t, "5552998224725", got.TargetKey)

	_, _ = store.Put(ctx, "b", session.KeyTypeDisambiguation{Command: cmd})
	out, err = engine.Resolve(ctx, "b", "cpf")
	require.NoError(t, err)
	got = out.Payload.(session.KeyTypeDisambiguation).Command
	assert.Equal(t, domain.KeyCPF, got.KeyType)
	assert.Equal(t, "52998224725", got.TargetKey)
}

func TestResolveImageContextOnlyCancels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _ := setupEngine(t)
	_, _ = store.Put(ctx, "5511", session.ImageKeyContext{Key: "ana@example.com", KeyType: domain.KeyEmail})

	out, err := engine.Resolve(ctx, "5511", "50 reais")
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Equal(t, Unrecognized, out.Verdict)
	_, ok, _ := store.Get(ctx, "5511")
	assert.True(t, ok)
}

func TestEnglishLocale(t *testing.T) {
	t.Parallel()

	assert.Equal(t, English, LocaleFor("en"))
	assert.Equal(t, PtBR, LocaleFor("fr"))
	assert.Equal(t, Reply{Verdict: Affirm}, Classify(English.Vocab[session.KindWithdrawConfirmation], "Yes, send", 0))
}
