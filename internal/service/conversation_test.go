package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/models"
)

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.conv.Handle(t.Context(), models.ChatMessage{Identity: alice, Text: text}))
}

func TestWithdrawNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["manda 50 pro bob"] = email(5000)

	h.say(t, "manda 50 pro bob")
	assert.Empty(t, h.settle.submitted())
	prompt := h.msg.last()
	assert.Contains(t, prompt.Text, "Valor: R$ 50.00\nPara: bob@pix.com")
	require.Len(t, prompt.Choices, 2)
	assert.Equal(t, "confirm", prompt.Choices[0].ID)

	h.say(t, "sim")
	subs := h.settle.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(5000), subs[0].Amount)
	assert.Equal(t, "bob@pix.com", subs[0].DestinationKey)
	assert.NotEmpty(t, h.msg.containing("Confirmado! Enviando PIX..."))
	assert.Contains(t, h.msg.last().Text, "PIX de R$ 50.00 para bob@pix.com em processamento")

	// The confirmation is consumed; a second "sim" goes to the NLU service.
	h.say(t, "sim")
	assert.Len(t, h.settle.submitted(), 1)
}

func TestWithdrawCanceled(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["manda 50 pro bob"] = email(5000)

	h.say(t, "manda 50 pro bob")
	h.say(t, "não")
	assert.Equal(t, "Transferência cancelada. Como posso ajudar?", h.msg.last().Text)
	assert.Empty(t, h.settle.submitted())
}

func TestLateConfirmationIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["manda 50 pro bob"] = email(5000)

	h.say(t, "manda 50 pro bob")
	h.clock.Advance(6 * time.Minute)
	h.say(t, "sim")

	assert.Empty(t, h.settle.submitted())
	assert.Contains(t, h.msg.last().Text, "Como posso ajudar?")
}

func TestUnrecognizedReplyKeepsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["manda 50 pro bob"] = email(5000)

	h.say(t, "manda 50 pro bob")
	h.say(t, "talvez amanhã")
	assert.Contains(t, h.msg.last().Text, "Não entendi sua resposta.")

	h.say(t, "ok")
	assert.Len(t, h.settle.submitted(), 1)
}

func TestSplitTransferAnnouncement(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["manda 250 pro bob"] = email(25000)

	h.say(t, "manda 250 pro bob")
	h.say(t, "sim")
	assert.Len(t, h.settle.submitted(), 3)
	assert.Contains(t, h.msg.last().Text, "Dividida em 3 PIX (limite de R$ 100.00 por transação)")
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 1000)
	h.nlu.commands["manda 50 pro bob"] = email(5000)

	h.say(t, "manda 50 pro bob")
	h.say(t, "sim")
	assert.Empty(t, h.settle.submitted())
	assert.Contains(t, h.msg.last().Text, "*Saldo insuficiente*")
	assert.Contains(t, h.msg.last().Text, "Saldo disponível: R$ 10.00")
}

func TestAmbiguousKeyAsksForType(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		keyType domain.KeyType
		key     string
	}{
		{name: "cpf", answer: "1", keyType: domain.KeyCPF, key: "52998224725"},
		{name: "phone", answer: "telefone", keyType: domain.KeyPhone, key: "5552998224725"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.SetBalance(alice, 50000)
			h.nlu.commands["manda 50 pro 529.982.247-25"] = domain.Command{
				Action:    domain.ActionWithdraw,
				Amount:    5000,
				TargetKey: "529.982.247-25",
				KeyType:   domain.KeyCPFOrPhone,
			}

			h.say(t, "manda 50 pro 529.982.247-25")
			h.say(t, "sim")
			assert.Empty(t, h.settle.submitted())
			prompt := h.msg.last()
			assert.Contains(t, prompt.Text, "pode ser CPF ou telefone")
			require.Len(t, prompt.Choices, 3)

			h.say(t, tt.answer)
			subs := h.settle.submitted()
			require.Len(t, subs, 1)
			assert.Equal(t, tt.keyType, subs[0].KeyType)
			assert.Equal(t, tt.key, subs[0].DestinationKey)
		})
	}
}

func TestImageKeyThenAmount(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["image:https://img/key.jpg"] = domain.Command{Action: domain.ActionWithdraw, TargetKey: "bob@pix.com", KeyType: domain.KeyEmail}
	h.nlu.commands["qual meu saldo"] = domain.Command{Action: domain.ActionCheckBalance}

	require.NoError(t, h.conv.Handle(t.Context(), models.ChatMessage{Identity: alice, ImageURL: "https://img/key.jpg"}))
	assert.Contains(t, h.msg.last().Text, "Chave *bob@pix.com* recebida.")

	// Anything that is not an amount is handled normally and keeps the key.
	h.say(t, "qual meu saldo")
	assert.Contains(t, h.msg.last().Text, "Disponível: R$ 500.00")

	h.say(t, "50,00")
	assert.Contains(t, h.msg.last().Text, "Valor: R$ 50.00\nPara: bob@pix.com")

	h.say(t, "sim")
	subs := h.settle.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(5000), subs[0].Amount)
}

func TestImageWithAmountInCaption(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["image:https://img/key.jpg"] = domain.Command{Action: domain.ActionWithdraw, TargetKey: "bob@pix.com", KeyType: domain.KeyEmail}

	require.NoError(t, h.conv.Handle(t.Context(), models.ChatMessage{Identity: alice, ImageURL: "https://img/key.jpg", Text: "paga 35 reais"}))
	assert.Contains(t, h.msg.last().Text, "Valor: R$ 35.00")
	require.Len(t, h.msg.last().Choices, 2)
}

func TestImageWithoutKey(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conv.Handle(t.Context(), models.ChatMessage{Identity: alice, ImageURL: "https://img/cat.jpg"}))
	assert.Contains(t, h.msg.last().Text, "Não encontrei uma chave PIX nesta imagem.")
}

func TestAudioCommandNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.transcripts["https://audio/1.ogg"] = "manda 50 pro bob"
	h.nlu.transcripts["https://audio/2.ogg"] = ""
	h.nlu.commands["manda 50 pro bob"] = email(5000)

	require.NoError(t, h.conv.Handle(t.Context(), models.ChatMessage{Identity: alice, AudioURL: "https://audio/1.ogg"}))
	assert.Contains(t, h.msg.last().Text, `🎤 _"manda 50 pro bob"_`)
	assert.Empty(t, h.settle.submitted())

	h.say(t, "sim")
	assert.Len(t, h.settle.submitted(), 1)

	require.NoError(t, h.conv.Handle(t.Context(), models.ChatMessage{Identity: alice, AudioURL: "https://audio/2.ogg"}))
	assert.Equal(t, "Não consegui entender o áudio. Tente novamente ou digite sua mensagem.", h.msg.last().Text)
}

func seedPayment(t *testing.T, h *harness, id string, amount int64) {
	t.Helper()
	_, err := h.ledger.Register(t.Context(), domain.Transaction{ID: id, Identity: alice, Type: domain.TxPayIn, Amount: amount})
	require.NoError(t, err)
	_, err = h.ledger.Transition(t.Context(), id, domain.StatusCompleted, nil)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
}

func TestRefundSingleMatch(t *testing.T) {
	h := newHarness(t)
	seedPayment(t, h, "in-9", 3000)
	h.nlu.commands["estorna o pix de 30"] = domain.Command{Action: domain.ActionSearchRefund, Amount: 3000}

	h.say(t, "estorna o pix de 30")
	assert.Contains(t, h.msg.last().Text, "PIX selecionado para estorno")
	assert.Empty(t, h.settle.refunds)

	h.say(t, "sim")
	require.Len(t, h.settle.refunds, 1)
	assert.Equal(t, refundCall{TxID: "in-9", Amount: 3000}, h.settle.refunds[0])
	assert.Contains(t, h.msg.last().Text, "✅ *Estorno solicitado com sucesso!*")

	tx, err := h.ledger.Get(t.Context(), "in-9")
	require.NoError(t, err)
	assert.True(t, tx.Refunded)
	assert.Equal(t, domain.StatusRefundRequested, tx.Status)
}

func TestRefundChooseFromList(t *testing.T) {
	h := newHarness(t)
	seedPayment(t, h, "in-1", 3000)
	seedPayment(t, h, "in-2", 4000)
	h.nlu.commands["quero estornar"] = domain.Command{Action: domain.ActionSearchRefund, RefundAmount: 1000}

	h.say(t, "quero estornar")
	assert.Contains(t, h.msg.last().Text, "responda com o número")

	h.say(t, "sim")
	assert.Contains(t, h.msg.last().Text, "primeiro selecione o PIX")

	h.say(t, "2")
	assert.Contains(t, h.msg.last().Text, "Valor a estornar: R$ 10.00 _(parcial)_")

	h.say(t, "sim")
	require.Len(t, h.settle.refunds, 1)
	assert.Equal(t, refundCall{TxID: "in-1", Amount: 1000}, h.settle.refunds[0])
	assert.Contains(t, h.msg.last().Text, "_(parcial)_")
}

func TestRefundNothingFound(t *testing.T) {
	h := newHarness(t)
	h.nlu.commands["estorna 99"] = domain.Command{Action: domain.ActionSearchRefund, Amount: 9900}

	h.say(t, "estorna 99")
	assert.Contains(t, h.msg.last().Text, "*Nenhum PIX encontrado para estorno*")
}

func TestContacts(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 50000)
	h.nlu.commands["salvar mãe"] = domain.Command{Action: domain.ActionSaveContact, ContactName: "Mãe", TargetKey: "mae@pix.com", KeyType: domain.KeyEmail}
	h.nlu.commands["manda 20 pra mãe"] = domain.Command{Action: domain.ActionSendToContact, Amount: 2000, ContactName: "mãe"}
	h.nlu.commands["manda 20 pro zé"] = domain.Command{Action: domain.ActionSendToContact, Amount: 2000, ContactName: "zé"}
	h.nlu.commands["meus contatos"] = domain.Command{Action: domain.ActionListContacts}

	h.say(t, "meus contatos")
	assert.Contains(t, h.msg.last().Text, "Você ainda não tem contatos salvos.")

	h.say(t, "salvar mãe")
	assert.Contains(t, h.msg.last().Text, "*Contato salvo!*")

	h.say(t, "meus contatos")
	assert.Contains(t, h.msg.last().Text, "📒 *Seus Contatos* (1)")

	h.say(t, "manda 20 pro zé")
	assert.Contains(t, h.msg.last().Text, "Contato *zé* não encontrado.")

	h.say(t, "manda 20 pra mãe")
	assert.Contains(t, h.msg.last().Text, "Para: Mãe")
	h.say(t, "sim")
	subs := h.settle.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "mae@pix.com", subs[0].DestinationKey)
	assert.Equal(t, domain.KeyEmail, subs[0].KeyType)
}

func TestChargeAndResendCode(t *testing.T) {
	h := newHarness(t)
	h.nlu.commands["gera um pix de 30"] = domain.Command{Action: domain.ActionGenerateCharge, Amount: 3000}

	h.say(t, "código")
	assert.Contains(t, h.msg.last().Text, "Nenhum código PIX ativo encontrado.")

	h.say(t, "gera um pix de 30")
	require.Len(t, h.settle.charges, 1)
	assert.Equal(t, "in-1", h.settle.charges[0].TxID)
	assert.NotEmpty(t, h.msg.containing("*PIX Gerado para Receber!*"))
	assert.NotEmpty(t, h.msg.containing("00020126-in-1"))

	tx, err := h.ledger.Get(t.Context(), "in-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TxPayIn, tx.Type)
	assert.Equal(t, domain.StatusPending, tx.Status)

	h.msg.reset()
	h.say(t, "me manda o copia e cola")
	assert.NotEmpty(t, h.msg.containing("00020126-in-1"))

	h.callback(t, "in-1", domain.StatusCompleted, 3000)
	assert.NotEmpty(t, h.msg.containing("*PIX RECEBIDO!*"))
	assert.Equal(t, int64(3000), h.balance(t))
}

func TestBalanceShortcut(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance(alice, 12345)

	h.say(t, "ver_saldo")
	assert.Equal(t, "*Seu saldo:*\n\nDisponível: R$ 123.45", h.msg.last().Text)
	assert.Empty(t, h.nlu.histories, "shortcuts skip the NLU service")
}

func TestHistoryIsKeptUntilTerminalAction(t *testing.T) {
	h := newHarness(t)
	h.nlu.commands["oi"] = domain.Command{Action: domain.ActionAsk, Message: "Olá! Como posso ajudar?"}
	h.nlu.commands["saldo"] = domain.Command{Action: domain.ActionCheckBalance}

	h.say(t, "oi")
	assert.Equal(t, "Olá! Como posso ajudar?", h.msg.last().Text)
	h.say(t, "oi")
	h.say(t, "saldo")
	h.say(t, "oi")

	require.Len(t, h.nlu.histories, 4)
	assert.Empty(t, h.nlu.histories[0])
	assert.Len(t, h.nlu.histories[1], 2)
	assert.Len(t, h.nlu.histories[2], 4)
	assert.Empty(t, h.nlu.histories[3])
}

func TestFixTenfold(t *testing.T) {
	tests := []struct {
		name   string
		said   string
		amount int64
		want   int64
	}{
		{name: "tenfold", said: "manda 500 pro bob", amount: 500000, want: 50000},
		{name: "correct", said: "manda 500 pro bob", amount: 50000, want: 50000},
		{name: "large near tenfold", said: "enviar 12500 reais", amount: 12_400_000, want: 1_250_000},
		{name: "short numbers", said: "manda 50", amount: 50000, want: 50000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fixTenfold(domain.Command{Action: domain.ActionWithdraw, Amount: tt.amount}, tt.said)
			assert.Equal(t, tt.want, got.Amount)
		})
	}

	ask := fixTenfold(domain.Command{Action: domain.ActionGenerateCharge, Amount: 500000}, "500")
	assert.Equal(t, int64(500000), ask.Amount)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		text string
		want int64
		ok   bool
	}{
		{"50", 5000, true},
		{"50,90", 5090, true},
		{"12.5 reais", 1250, true},
		{"R$ 7", 700, true},
		{"manda 50", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}
