package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/chatpay/internal/dialogue"
	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/gateway"
	"github.com/punchamoorthee/chatpay/internal/groups"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/models"
	"github.com/punchamoorthee/chatpay/internal/session"
	"github.com/punchamoorthee/chatpay/internal/store"
)

const alice domain.Identity = "5511988887777"

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

type sentMessage struct {
	To      domain.Identity
	Text    string
	Image   string
	Choices []gateway.Choice
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMessenger) record(s sentMessage) error {
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) Send(_ context.Context, to domain.Identity, text string) error {
	return m.record(sentMessage{To: to, Text: text})
}

func (m *fakeMessenger) SendImage(_ context.Context, to domain.Identity, image, caption string) error {
	return m.record(sentMessage{To: to, Text: caption, Image: image})
}

func (m *fakeMessenger) SendChoice(_ context.Context, to domain.Identity, text string, choices []gateway.Choice) error {
	return m.record(sentMessage{To: to, Text: text, Choices: choices})
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

// containing returns the messages that include substr.
func (m *fakeMessenger) containing(substr string) []string {
	var out []string
	for _, t := range m.texts() {
		if strings.Contains(t, substr) {
			out = append(out, t)
		}
	}
	return out
}

func (m *fakeMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMessage{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMessenger) reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

type refundCall struct {
	TxID   string
	Amount int64
}

type fakeSettlement struct {
	mu      sync.Mutex
	submits []gateway.SubmitRequest
	refunds []refundCall
	charges []gateway.ChargeRequest
	reject  func(gateway.SubmitRequest) error
	// hang makes Submit wait for its context, like a provider that never
	// answers.
	hang bool
}

func (s *fakeSettlement) Submit(ctx context.Context, req gateway.SubmitRequest) error {
	s.mu.Lock()
	s.submits = append(s.submits, req)
	reject, hang := s.reject, s.hang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if reject != nil {
		return reject(req)
	}
	return nil
}

func (s *fakeSettlement) CreateCharge(_ context.Context, req gateway.ChargeRequest) (gateway.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges = append(s.charges, req)
	return gateway.Charge{TxID: req.TxID, Code: "00020126-" + req.TxID, ImageURL: "https://qr/" + req.TxID + ".png"}, nil
}

func (s *fakeSettlement) RequestRefund(_ context.Context, txID string, amount int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds = append(s.refunds, refundCall{TxID: txID, Amount: amount})
	return nil
}

func (s *fakeSettlement) submitted() []gateway.SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.SubmitRequest(nil), s.submits...)
}

// fakeNLU answers from canned commands keyed by the input text, or by
// "image:"+url for images.
type fakeNLU struct {
	commands    map[string]domain.Command
	transcripts map[string]string
	histories   [][]gateway.Turn
}

func (n *fakeNLU) Interpret(_ context.Context, in gateway.Input, history []gateway.Turn) (domain.Command, error) {
	n.histories = append(n.histories, history)
	key := in.Text
	if in.ImageURL != "" {
		key = "image:" + in.ImageURL
	}
	if cmd, ok := n.commands[key]; ok {
		return cmd, nil
	}
	return domain.Command{Action: domain.ActionUnknown}, nil
}

func (n *fakeNLU) Transcribe(_ context.Context, audioURL string) (string, error) {
	text, ok := n.transcripts[audioURL]
	if !ok {
		return "", errors.New("no such audio")
	}
	return text, nil
}

type harness struct {
	clock      *manualClock
	store      *store.MemoryStore
	ledger     *ledger.Ledger
	groups     *groups.Coordinator
	msg        *fakeMessenger
	settle     *fakeSettlement
	nlu        *fakeNLU
	sessions   *session.MemoryStore
	reconciler *Reconciler
	transfers  *TransferService
	conv       *Conversation
}

// contextStore fails on a done context the way pgx does, and can refuse
// to create chosen transactions.
type contextStore struct {
	*store.MemoryStore
	refuse func(id string) bool
}

func (s contextStore) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.refuse != nil && s.refuse(tx.ID) {
		return errors.New("insert refused")
	}
	return s.MemoryStore.CreateTransaction(ctx, tx)
}

func (s contextStore) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	return s.MemoryStore.GetTransaction(ctx, id)
}

func (s contextStore) ApplyTransition(ctx context.Context, id string, status domain.TxStatus, metadata json.RawMessage, at time.Time) (ledger.TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TransitionResult{}, err
	}
	return s.MemoryStore.ApplyTransition(ctx, id, status, metadata, at)
}

func (s contextStore) GetBalance(ctx context.Context, identity domain.Identity) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.MemoryStore.GetBalance(ctx, identity)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOver(t, nil)
}

// newHarnessOver builds a harness whose ledger runs on wrap(store) when
// wrap is not nil.
func newHarnessOver(t *testing.T, wrap func(*store.MemoryStore) ledger.Store) *harness {
	t.Helper()
	h := &harness{
		clock:  &manualClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		store:  store.NewMemoryStore(),
		msg:    &fakeMessenger{},
		settle: &fakeSettlement{},
		nlu:    &fakeNLU{commands: map[string]domain.Command{}, transcripts: map[string]string{}},
	}
	var backing ledger.Store = h.store
	if wrap != nil {
		backing = wrap(h.store)
	}
	h.ledger = ledger.New(backing, h.clock, nil)
	h.groups = groups.NewCoordinator(time.Hour, h.clock, nil)
	h.sessions = session.NewMemoryStore(session.DefaultPolicy(5*time.Minute), h.clock, nil)
	h.reconciler = NewReconciler(h.ledger, h.groups, NewNotifier(h.msg, nil), nil)
	h.transfers = NewTransferService(h.ledger, h.groups, h.settle, h.reconciler, TransferConfig{
		Ceiling:     10000,
		Minimum:     100,
		CallbackURL: "https://chatpay.test/webhook/settlement",
	}, nil)
	h.transfers.newID = sequence("ref")

	h.conv = NewConversation(ConversationDeps{
		Engine:      dialogue.NewEngine(h.sessions, dialogue.PtBR, nil),
		Sessions:    h.sessions,
		NLU:         h.nlu,
		Messenger:   h.msg,
		Settlement:  h.settle,
		Transfers:   h.transfers,
		Ledger:      h.ledger,
		Contacts:    h.store,
		History:     session.NewScratch[[]gateway.Turn](30*time.Minute, h.clock),
		Codes:       session.NewScratch[PaymentCode](24*time.Hour, h.clock),
		CallbackURL: "https://chatpay.test/webhook/settlement",
	})
	h.conv.newID = sequence("in")
	return h
}

func sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func (h *harness) callback(t *testing.T, id string, status domain.TxStatus, amount int64) {
	t.Helper()
	require.NoError(t, h.reconciler.Reconcile(t.Context(), models.SettlementCallback{
		ID:     id,
		Status: status,
		Amount: decimal.New(amount, -2),
	}))
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	b, err := h.ledger.Balance(t.Context(), alice)
	require.NoError(t, err)
	return b
}

func email(amount int64) domain.Command {
	return domain.Command{Action: domain.ActionWithdraw, Amount: amount, TargetKey: "bob@pix.com", KeyType: domain.KeyEmail}
}
