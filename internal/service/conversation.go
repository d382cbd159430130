package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/dialogue"
	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/gateway"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/models"
	"github.com/punchamoorthee/chatpay/internal/session"
)

// DefaultHistoryTurns caps the dialogue history sent to the NLU service.
const DefaultHistoryTurns = 10

// PaymentCode is the last charge issued to a user, kept so the code can be
// sent again.
type PaymentCode struct {
	TxID   string `json:"tx_id"`
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
}

// ConversationDeps wires a Conversation.
type ConversationDeps struct {
	Engine      *dialogue.Engine
	Sessions    session.Store
	NLU         Interpreter
	Messenger   Messenger
	Settlement  Settlement
	Transfers   *TransferService
	Ledger      *ledger.Ledger
	Contacts    ContactBook
	History     *session.Scratch[[]gateway.Turn]
	Codes       *session.Scratch[PaymentCode]
	CallbackURL string
	Logger      *zap.Logger
}

// Conversation handles inbound chat messages. A reply to a live pending
// action is always resolved first; everything else goes to the NLU service.
type Conversation struct {
	engine      *dialogue.Engine
	sessions    session.Store
	nlu         Interpreter
	msg         Messenger
	settlement  Settlement
	transfers   *TransferService
	ledger      *ledger.Ledger
	contacts    ContactBook
	history     *session.Scratch[[]gateway.Turn]
	codes       *session.Scratch[PaymentCode]
	callbackURL string
	maxTurns    int
	newID       func() string
	log         *zap.Logger
}

func NewConversation(d ConversationDeps) *Conversation {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Conversation{
		engine:      d.Engine,
		sessions:    d.Sessions,
		nlu:         d.NLU,
		msg:         d.Messenger,
		settlement:  d.Settlement,
		transfers:   d.Transfers,
		ledger:      d.Ledger,
		contacts:    d.Contacts,
		history:     d.History,
		codes:       d.Codes,
		callbackURL: d.CallbackURL,
		maxTurns:    DefaultHistoryTurns,
		newID:       uuid.NewString,
		log:         d.Logger.With(zap.String("component", "conversation")),
	}
}

// Handle processes one inbound message. Failures of the user-facing kind
// are answered in the chat; only infrastructure errors are returned.
func (c *Conversation) Handle(ctx context.Context, m models.ChatMessage) error {
	switch {
	case m.AudioURL != "":
		return c.handleAudio(ctx, m.Identity, m.AudioURL)
	case m.ImageURL != "":
		return c.handleImage(ctx, m.Identity, m.ImageURL, m.Text)
	}
	return c.handleText(ctx, m.Identity, m.Text)
}

func (c *Conversation) handleText(ctx context.Context, id domain.Identity, text string) error {
	out, err := c.engine.Resolve(ctx, id, text)
	if err != nil {
		return err
	}
	if out.Pending {
		if out.Kind != session.KindImageKeyContext || out.Verdict != dialogue.Unrecognized {
			return c.apply(ctx, id, out)
		}
		if handled, err := c.imageFollowUp(ctx, id, text); handled || err != nil {
			return err
		}
	}

	switch lower := strings.ToLower(strings.TrimSpace(text)); {
	case lower == "ver_saldo" || strings.Contains(lower, "ver saldo"):
		return c.balance(ctx, id)
	case lower == "código" || lower == "codigo" || strings.Contains(lower, "código pix") ||
		strings.Contains(lower, "codigo pix") || strings.Contains(lower, "copia e cola"):
		return c.resendCode(ctx, id)
	}

	cmd, ok := c.interpret(ctx, id, gateway.Input{Text: text}, text)
	if !ok {
		return nil
	}
	return c.act(ctx, id, cmd, false)
}

// apply delivers the engine's answer and runs a released action.
func (c *Conversation) apply(ctx context.Context, id domain.Identity, out dialogue.Outcome) error {
	if out.Prompt.Text != "" {
		c.prompt(ctx, id, out.Prompt)
	}
	if !out.Execute() {
		return nil
	}

	switch p := out.Payload.(type) {
	case session.WithdrawConfirmation:
		return c.transfer(ctx, id, p.Command)
	case session.KeyTypeDisambiguation:
		return c.transfer(ctx, id, p.Command)
	case session.AudioCommandConfirmation:
		return c.act(ctx, id, p.Command, true)
	case session.RefundConfirmation:
		if p.Selected != nil {
			return c.refund(ctx, id, p.Selected.ID, p.RefundAmount)
		}
	}
	return nil
}

// interpret asks the NLU service for a command and records the exchange in
// the dialogue history. ok is false when the user was already told to retry.
func (c *Conversation) interpret(ctx context.Context, id domain.Identity, in gateway.Input, said string) (domain.Command, bool) {
	history, _ := c.history.Get(id)
	cmd, err := c.nlu.Interpret(ctx, in, history)
	if err != nil {
		c.log.Error("interpretation failed", zap.String("identity", string(id)), zap.Error(err))
		c.say(ctx, id, "Desculpe, não consegui processar sua mensagem agora. Tente novamente em instantes.")
		return domain.Command{}, false
	}
	cmd = fixTenfold(cmd, said)
	c.remember(id, said, cmd)
	return cmd, true
}

func (c *Conversation) remember(id domain.Identity, said string, cmd domain.Command) {
	if cmd.Action.Terminal() {
		c.history.Delete(id)
		return
	}
	reply := cmd.Message
	if reply == "" {
		data, _ := json.Marshal(cmd)
		reply = string(data)
	}
	c.history.Update(id, func(cur []gateway.Turn, _ bool) []gateway.Turn {
		next := append(append([]gateway.Turn(nil), cur...),
			gateway.Turn{Role: "user", Content: said},
			gateway.Turn{Role: "assistant", Content: reply})
		if len(next) > c.maxTurns {
			next = next[len(next)-c.maxTurns:]
		}
		return next
	})
}

// act runs a command. Commands that move money need a confirmation unless
// confirmed is set.
func (c *Conversation) act(ctx context.Context, id domain.Identity, cmd domain.Command, confirmed bool) error {
	switch cmd.Action {
	case domain.ActionWithdraw, domain.ActionSendToContact:
		if confirmed {
			return c.transfer(ctx, id, cmd)
		}
		return c.confirmWithdraw(ctx, id, cmd)
	case domain.ActionCheckBalance:
		return c.balance(ctx, id)
	case domain.ActionGenerateCharge:
		return c.charge(ctx, id, cmd.Amount)
	case domain.ActionResendCode:
		return c.resendCode(ctx, id)
	case domain.ActionSearchRefund:
		return c.searchRefund(ctx, id, cmd)
	case domain.ActionRefund:
		if confirmed {
			return c.refund(ctx, id, cmd.TransactionID, cmd.RefundAmount)
		}
		return c.confirmRefund(ctx, id, cmd)
	case domain.ActionSaveContact:
		return c.saveContact(ctx, id, cmd)
	case domain.ActionListContacts:
		return c.listContacts(ctx, id)
	case domain.ActionAsk:
		if cmd.Message != "" {
			c.say(ctx, id, cmd.Message)
			return nil
		}
	}
	c.say(ctx, id, helpText)
	return nil
}

func (c *Conversation) confirmWithdraw(ctx context.Context, id domain.Identity, cmd domain.Command) error {
	cmd, ok := c.resolveContact(ctx, id, cmd)
	if !ok {
		return nil
	}
	if cmd.Amount <= 0 {
		c.say(ctx, id, "Qual valor você quer enviar?")
		return nil
	}
	if cmd.TargetKey == "" {
		c.say(ctx, id, "Para qual chave PIX você quer enviar?")
		return nil
	}
	return c.hold(ctx, id, session.WithdrawConfirmation{Command: cmd})
}

// transfer submits a confirmed payout, asking first which kind of key an
// ambiguous 11-digit key is.
func (c *Conversation) transfer(ctx context.Context, id domain.Identity, cmd domain.Command) error {
	cmd, ok := c.resolveContact(ctx, id, cmd)
	if !ok {
		return nil
	}
	cmd, res := domain.NormalizeKey(cmd)
	if res == domain.KeyAmbiguous {
		return c.hold(ctx, id, session.KeyTypeDisambiguation{Command: cmd})
	}

	result, err := c.transfers.Submit(ctx, id, cmd)
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr) && verr.Question != "":
		c.say(ctx, id, verr.Question)
		return nil
	case errors.Is(err, domain.ErrInsufficientFunds):
		balance, _ := c.ledger.Balance(ctx, id)
		c.say(ctx, id, fmt.Sprintf("*Saldo insuficiente*\n\nSaldo disponível: %s\nValor solicitado: %s",
			domain.FormatAmount(balance), domain.FormatAmount(cmd.Amount)))
		return nil
	case err != nil:
		c.log.Error("transfer failed", zap.String("identity", string(id)), zap.Error(err))
		c.say(ctx, id, "Não foi possível processar a transferência agora. Tente novamente ou digite \"ajuda\".")
		return nil
	}

	// Rejected chunks were already announced by the reconciler.
	if result.Accepted == 0 {
		return nil
	}
	if result.Split() {
		c.say(ctx, id, fmt.Sprintf(
			"*Transferência de %s em processamento*\n\nDividida em %d PIX (limite de %s por transação).\nVocê será avisado quando todas forem concluídas.",
			domain.FormatAmount(cmd.Amount), len(result.Chunks), domain.FormatAmount(c.transfers.Ceiling())))
		return nil
	}
	c.say(ctx, id, fmt.Sprintf("PIX de %s para %s em processamento...", domain.FormatAmount(cmd.Amount), cmd.Destination()))
	return nil
}

// resolveContact fills the destination key of a command addressed to a
// saved contact. ok is false when the user was told the contact is unknown.
func (c *Conversation) resolveContact(ctx context.Context, id domain.Identity, cmd domain.Command) (domain.Command, bool) {
	if cmd.TargetKey != "" || cmd.ContactName == "" {
		return cmd, true
	}
	contact, err := c.contacts.LookupContact(ctx, id, cmd.ContactName)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownReference) {
			c.log.Error("contact lookup failed", zap.String("identity", string(id)), zap.Error(err))
		}
		c.say(ctx, id, fmt.Sprintf(
			"Contato *%s* não encontrado.\n\nDiga _\"meus contatos\"_ para ver seus contatos salvos.\nOu _\"salvar %s cpf 12345678900\"_ para criar.",
			cmd.ContactName, cmd.ContactName))
		return cmd, false
	}
	cmd.Action = domain.ActionWithdraw
	cmd.ContactName = contact.Name
	cmd.TargetKey = contact.Key
	cmd.KeyType = contact.KeyType
	return cmd, true
}

func (c *Conversation) balance(ctx context.Context, id domain.Identity) error {
	balance, err := c.ledger.Balance(ctx, id)
	if err != nil {
		c.log.Error("balance lookup failed", zap.String("identity", string(id)), zap.Error(err))
		c.say(ctx, id, "Não consegui consultar seu saldo agora. Tente novamente.")
		return nil
	}
	c.say(ctx, id, fmt.Sprintf("*Seu saldo:*\n\nDisponível: %s", domain.FormatAmount(balance)))
	return nil
}

// charge issues a payment code the user can share to receive amount. The
// incoming transaction is registered before the code exists, so its
// callback always finds it.
func (c *Conversation) charge(ctx context.Context, id domain.Identity, amount int64) error {
	if amount <= 0 {
		c.say(ctx, id, "Qual valor você quer receber?")
		return nil
	}
	txID := c.newID()
	if _, err := c.ledger.Register(ctx, domain.Transaction{ID: txID, Identity: id, Type: domain.TxPayIn, Amount: amount}); err != nil {
		return err
	}

	charge, err := c.settlement.CreateCharge(ctx, gateway.ChargeRequest{TxID: txID, Amount: amount, CallbackURL: c.callbackURL})
	if err != nil {
		c.log.Error("charge not issued", zap.String("identity", string(id)), zap.String("tx_id", txID), zap.Error(err))
		if _, terr := c.ledger.Transition(ctx, txID, domain.StatusCanceled, nil); terr != nil {
			c.log.Error("canceling charge failed", zap.String("tx_id", txID), zap.Error(terr))
		}
		c.say(ctx, id, "Não foi possível gerar o PIX agora. Tente novamente em instantes.")
		return nil
	}

	c.codes.Set(id, PaymentCode{TxID: charge.TxID, Code: charge.Code, Amount: amount})
	c.say(ctx, id, fmt.Sprintf("*PIX Gerado para Receber!*\n\nValor: *%s*\n⏰ Expira em: 24 horas\n\n*Código Copia e Cola:*", domain.FormatAmount(amount)))
	c.say(ctx, id, charge.Code)
	if charge.ImageURL != "" {
		if err := c.msg.SendImage(ctx, id, charge.ImageURL, "QR Code do PIX"); err != nil {
			c.log.Warn("qr code image not delivered", zap.String("identity", string(id)), zap.Error(err))
		}
	}
	c.say(ctx, id, "*Copie o código acima*\n\nAbra o app do banco de quem vai pagar\nEscolha \"Pagar com PIX\" → \"Copia e Cola\"\nCole o código e confirme\n\nVocê será notificado quando o pagamento for confirmado!")
	return nil
}

func (c *Conversation) resendCode(ctx context.Context, id domain.Identity) error {
	code, ok := c.codes.Get(id)
	if !ok {
		c.say(ctx, id, "Nenhum código PIX ativo encontrado.\n\nOs códigos expiram em 24 horas. Gere um novo PIX se necessário.")
		return nil
	}
	c.say(ctx, id, fmt.Sprintf("*Código Copia e Cola (%s):*", domain.FormatAmount(code.Amount)))
	c.say(ctx, id, code.Code)
	c.say(ctx, id, "*Copie o código acima*\n\n⏰ _Este código expira em 24 horas._")
	return nil
}

// searchRefund offers the user's refundable payments. With a partial
// refund amount and no payment amount every recent payment is a candidate.
func (c *Conversation) searchRefund(ctx context.Context, id domain.Identity, cmd domain.Command) error {
	search := cmd.Amount
	if cmd.RefundAmount > 0 && cmd.Amount <= 0 {
		search = 0
	}
	txs, err := c.ledger.Refundable(ctx, id, search, 5)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		msg := "*Nenhum PIX encontrado para estorno*\n\n"
		if search > 0 {
			msg += fmt.Sprintf("Não encontrei nenhum PIX recebido de %s que possa ser estornado.\n\n", domain.FormatAmount(search))
		} else {
			msg += "Não encontrei PIX recebidos que possam ser estornados.\n\n"
		}
		c.say(ctx, id, msg+"📌 _Lembre-se: só é possível estornar PIX recebidos que ainda não foram estornados._")
		return nil
	}

	candidates := make([]session.RefundCandidate, len(txs))
	for i, tx := range txs {
		candidates[i] = session.RefundCandidate{ID: tx.ID, Amount: tx.Amount, CreatedAt: tx.CreatedAt}
	}
	if len(candidates) == 1 {
		return c.hold(ctx, id, session.RefundConfirmation{Selected: &candidates[0], RefundAmount: cmd.RefundAmount})
	}
	return c.hold(ctx, id, session.RefundConfirmation{Candidates: candidates, RefundAmount: cmd.RefundAmount})
}

// confirmRefund asks to confirm a refund of a payment named by id.
func (c *Conversation) confirmRefund(ctx context.Context, id domain.Identity, cmd domain.Command) error {
	if cmd.TransactionID == "" {
		return c.searchRefund(ctx, id, cmd)
	}
	tx, ok := c.refundable(ctx, id, cmd.TransactionID)
	if !ok {
		return nil
	}
	return c.hold(ctx, id, session.RefundConfirmation{
		Selected:     &session.RefundCandidate{ID: tx.ID, Amount: tx.Amount, CreatedAt: tx.CreatedAt},
		RefundAmount: cmd.RefundAmount,
	})
}

// refund asks the provider to return amount (zero for everything) of a
// received payment and records the request.
func (c *Conversation) refund(ctx context.Context, id domain.Identity, txID string, amount int64) error {
	tx, ok := c.refundable(ctx, id, txID)
	if !ok {
		return nil
	}
	partial := amount > 0 && amount < tx.Amount
	if amount <= 0 {
		amount = tx.Amount
	}
	if amount > tx.Amount {
		c.say(ctx, id, fmt.Sprintf("O valor do estorno não pode ser maior que o PIX recebido (%s).", domain.FormatAmount(tx.Amount)))
		return nil
	}

	const reason = "Estorno solicitado"
	if err := c.settlement.RequestRefund(ctx, tx.ID, amount, reason); err != nil {
		c.log.Error("refund request failed", zap.String("identity", string(id)), zap.String("tx_id", tx.ID), zap.Error(err))
		c.say(ctx, id, "*Erro ao estornar PIX*\n\nO provedor não aceitou o pedido agora. Tente novamente em instantes.")
		return nil
	}
	if _, err := c.ledger.MarkRefunded(ctx, tx.ID, amount); err != nil {
		c.log.Error("recording refund failed", zap.String("tx_id", tx.ID), zap.Error(err))
	}

	msg := fmt.Sprintf("✅ *Estorno solicitado com sucesso!*\n\nValor: *%s*", domain.FormatAmount(amount))
	if partial {
		msg += " _(parcial)_"
	}
	c.say(ctx, id, msg+fmt.Sprintf("\nMotivo: %s\nID: %s\n\n⏳ _O estorno será processado em instantes._", reason, tx.ID))
	return nil
}

// refundable loads a payment the user may refund, telling them when it
// cannot be.
func (c *Conversation) refundable(ctx context.Context, id domain.Identity, txID string) (domain.Transaction, bool) {
	tx, err := c.ledger.Get(ctx, txID)
	if err != nil || tx.Identity != id {
		if err != nil && !errors.Is(err, domain.ErrUnknownReference) {
			c.log.Error("loading transaction failed", zap.String("tx_id", txID), zap.Error(err))
		}
		c.say(ctx, id, "Transação não encontrada. Verifique se o ID está correto.")
		return domain.Transaction{}, false
	}
	if tx.Type != domain.TxPayIn || tx.Status != domain.StatusCompleted || tx.Refunded {
		c.say(ctx, id, "Este PIX não pode ser estornado. Só é possível estornar PIX recebidos e concluídos que ainda não foram estornados.")
		return domain.Transaction{}, false
	}
	return tx, true
}

func (c *Conversation) saveContact(ctx context.Context, id domain.Identity, cmd domain.Command) error {
	if cmd.ContactName == "" || cmd.TargetKey == "" {
		c.say(ctx, id, "Para salvar um contato, diga o nome e a chave PIX. Ex: _\"salvar João cpf 12345678900\"_")
		return nil
	}
	cmd, res := domain.NormalizeKey(cmd)
	if res == domain.KeyAmbiguous {
		// Saved contacts need a definite key type; an unqualified 11-digit
		// key with a valid CPF checksum is kept as a CPF.
		cmd.KeyType = domain.KeyCPF
	}
	contact := domain.Contact{Name: cmd.ContactName, Key: cmd.TargetKey, KeyType: cmd.KeyType}
	if err := c.contacts.SaveContact(ctx, id, contact); err != nil {
		c.log.Error("saving contact failed", zap.String("identity", string(id)), zap.Error(err))
		c.say(ctx, id, "Não foi possível salvar o contato agora. Tente novamente.")
		return nil
	}
	c.say(ctx, id, fmt.Sprintf("*Contato salvo!*\n\n📒 Nome: *%s*\nChave: %s\nTipo: %s\n\nAgora você pode dizer:\n_\"enviar 50 para %s\"_",
		contact.Name, contact.Key, contact.KeyType, contact.Name))
	return nil
}

func (c *Conversation) listContacts(ctx context.Context, id domain.Identity) error {
	contacts, err := c.contacts.ListContacts(ctx, id)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		c.say(ctx, id, "📒 *Seus Contatos*\n\nVocê ainda não tem contatos salvos.\n\nPara adicionar, diga:\n_\"salvar João cpf 12345678900\"_")
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📒 *Seus Contatos* (%d)\n\n", len(contacts))
	for i, ct := range contacts {
		fmt.Fprintf(&b, "%d. *%s*\n   %s\n   %s\n\n", i+1, ct.Name, ct.Key, ct.KeyType)
	}
	b.WriteString("💡 Diga _\"enviar 50 para [nome]\"_ para transferir")
	c.say(ctx, id, b.String())
	return nil
}

func (c *Conversation) handleAudio(ctx context.Context, id domain.Identity, audioURL string) error {
	c.say(ctx, id, "🎤 Processando seu áudio...")
	text, err := c.nlu.Transcribe(ctx, audioURL)
	if err != nil {
		c.log.Error("transcription failed", zap.String("identity", string(id)), zap.Error(err))
		c.say(ctx, id, "Erro ao processar áudio. Tente novamente ou digite sua mensagem.")
		return nil
	}
	if text == "" {
		c.say(ctx, id, "Não consegui entender o áudio. Tente novamente ou digite sua mensagem.")
		return nil
	}

	cmd, ok := c.interpret(ctx, id, gateway.Input{Text: text}, text)
	if !ok {
		return nil
	}
	switch cmd.Action {
	case domain.ActionAsk, domain.ActionHelp, domain.ActionUnknown:
		return c.act(ctx, id, cmd, false)
	}
	return c.hold(ctx, id, session.AudioCommandConfirmation{Transcription: text, Command: cmd})
}

// handleImage reads a destination key from an image. With an amount in the
// caption the transfer goes straight to confirmation; otherwise the key is
// remembered until the user says how much to send.
func (c *Conversation) handleImage(ctx context.Context, id domain.Identity, imageURL, caption string) error {
	c.say(ctx, id, "🖼️ Analisando imagem...")
	cmd, err := c.nlu.Interpret(ctx, gateway.Input{Text: caption, ImageURL: imageURL}, nil)
	if err != nil {
		c.log.Error("image analysis failed", zap.String("identity", string(id)), zap.Error(err))
		c.say(ctx, id, "Erro ao analisar imagem. Tente novamente ou digite a chave manualmente.")
		return nil
	}
	if cmd.TargetKey == "" {
		c.say(ctx, id, "Não encontrei uma chave PIX nesta imagem.\n\nTente enviar uma foto mais clara ou digite a chave manualmente.")
		return nil
	}

	amount := cmd.Amount
	if amount <= 0 {
		amount, _ = findAmount(caption)
	}
	if amount > 0 {
		return c.confirmWithdraw(ctx, id, domain.Command{
			Action:       domain.ActionWithdraw,
			Amount:       amount,
			TargetKey:    cmd.TargetKey,
			KeyType:      cmd.KeyType,
			ReceiverName: cmd.ReceiverName,
		})
	}
	return c.hold(ctx, id, session.ImageKeyContext{Key: cmd.TargetKey, KeyType: cmd.KeyType, ReceiverName: cmd.ReceiverName})
}

// imageFollowUp turns a bare amount sent after an image into a transfer to
// the key read from it. handled is false when text is not an amount.
func (c *Conversation) imageFollowUp(ctx context.Context, id domain.Identity, text string) (bool, error) {
	amount, ok := parseAmount(text)
	if !ok {
		return false, nil
	}
	entry, live, err := c.sessions.Get(ctx, id)
	if err != nil {
		return true, err
	}
	p, isImage := entry.Payload.(session.ImageKeyContext)
	if !live || !isImage {
		return false, nil
	}
	return true, c.confirmWithdraw(ctx, id, domain.Command{
		Action:       domain.ActionWithdraw,
		Amount:       amount,
		TargetKey:    p.Key,
		KeyType:      p.KeyType,
		ReceiverName: p.ReceiverName,
	})
}

// hold stores p as the identity's pending action and shows its prompt.
func (c *Conversation) hold(ctx context.Context, id domain.Identity, p session.Payload) error {
	if _, err := c.sessions.Put(ctx, id, p); err != nil {
		return fmt.Errorf("store pending %s: %w", p.Kind(), err)
	}
	c.prompt(ctx, id, c.engine.Describe(p))
	return nil
}

func (c *Conversation) prompt(ctx context.Context, id domain.Identity, p dialogue.Prompt) {
	if len(p.Options) == 0 {
		c.say(ctx, id, p.Text)
		return
	}
	choices := make([]gateway.Choice, len(p.Options))
	for i, o := range p.Options {
		choices[i] = gateway.Choice{ID: o.ID, Label: o.Label}
	}
	if err := c.msg.SendChoice(ctx, id, p.Text, choices); err != nil {
		c.log.Error("prompt not delivered", zap.String("identity", string(id)), zap.Error(err))
	}
}

func (c *Conversation) say(ctx context.Context, id domain.Identity, text string) {
	if err := c.msg.Send(ctx, id, text); err != nil {
		c.log.Error("message not delivered", zap.String("identity", string(id)), zap.Error(err))
	}
}

const helpText = `*Como posso ajudar?*

💸 _"enviar 50 reais para fulano@email.com"_
📒 _"enviar 100 para João"_ (contato salvo)
💰 _"qual meu saldo?"_
📥 _"gerar pix de 30 reais"_
↩️ _"estornar pix de 20 reais"_
🎤 Você também pode mandar um áudio ou a foto de uma chave PIX.`

var (
	bareAmount   = regexp.MustCompile(`(?i)^(?:r\$\s*)?(\d+(?:[.,]\d{1,2})?)\s*(?:reais?|r\$)?$`)
	amountInText = regexp.MustCompile(`(?i)(\d+(?:[.,]\d{2})?)\s*(?:reais?|r\$)?`)
	longNumber   = regexp.MustCompile(`\b(\d{3,})\b`)
)

// parseAmount reads a reply that is nothing but an amount in reais.
func parseAmount(text string) (int64, bool) {
	m := bareAmount.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	return toMinor(m[1])
}

// findAmount reads the first amount mentioned anywhere in text.
func findAmount(text string) (int64, bool) {
	m := amountInText.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return toMinor(m[1])
}

func toMinor(s string) (int64, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	return d.Shift(2).Round(0).IntPart(), true
}

// fixTenfold undoes a known NLU slip where the amount comes back ten times
// the number the user wrote.
func fixTenfold(cmd domain.Command, said string) domain.Command {
	if (cmd.Action != domain.ActionWithdraw && cmd.Action != domain.ActionSendToContact) || cmd.Amount <= 0 {
		return cmd
	}
	for _, m := range longNumber.FindAllString(said, -1) {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		if cmd.Amount == n*1000 {
			cmd.Amount = n * 100
			return cmd
		}
		if cmd.Amount > 100_000*100 && n >= 1000 && n <= 99_999 && cmd.Amount >= 950*n && cmd.Amount <= 1050*n {
			cmd.Amount = n * 100
			return cmd
		}
	}
	return cmd
}
