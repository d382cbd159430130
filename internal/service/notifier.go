package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/gateway"
	"github.com/punchamoorthee/chatpay/internal/models"
)

var balanceChoice = []gateway.Choice{{ID: "ver_saldo", Label: "Ver saldo"}}

const balancePrompt = "Deseja ver seu saldo atualizado?"

// Notifier renders settlement outcomes into chat messages. Delivery errors
// are logged and never returned: a lost notice must not undo a settlement.
type Notifier struct {
	msg Messenger
	log *zap.Logger
}

func NewNotifier(msg Messenger, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{msg: msg, log: log.With(zap.String("component", "notifier"))}
}

// Group announces the resolution of a split transfer.
func (n *Notifier) Group(ctx context.Context, g domain.GroupSnapshot) {
	switch g.Status {
	case domain.GroupCompleted:
		n.send(ctx, g.Identity, sentReceipt(g.TotalAmount, g.ChunkCount, g.Meta.ReceiverName, g.Meta.DestinationKey, g.ID))
		n.choice(ctx, g.Identity, balancePrompt, balanceChoice)
	case domain.GroupPartial:
		n.send(ctx, g.Identity, fmt.Sprintf(
			"*PIX PARCIALMENTE ENVIADO*\n\nEnviado: *%s* (%d PIX)\nFalhou: *%s* (%d PIX)\n\n_O valor que falhou permanece na sua conta._",
			domain.FormatAmount(g.CompletedAmount), g.CompletedCount,
			domain.FormatAmount(g.FailedAmount), g.FailedCount))
		n.choice(ctx, g.Identity, balancePrompt, balanceChoice)
	case domain.GroupFailed:
		n.send(ctx, g.Identity, fmt.Sprintf(
			"*TRANSFERÊNCIA FALHOU*\n\nNenhuma das %d transações foi concluída.\nValor: %s\n\nO valor será estornado se foi debitado.",
			g.ChunkCount, domain.FormatAmount(g.TotalAmount)))
	}
}

// Transaction announces a standalone transaction's new status. Statuses
// without a user-facing meaning are skipped.
func (n *Notifier) Transaction(ctx context.Context, tx domain.Transaction, cb models.SettlementCallback) {
	amount := domain.FormatAmount(tx.Amount)

	if tx.Type == domain.TxPayIn {
		switch tx.Status {
		case domain.StatusCompleted:
			var b strings.Builder
			fmt.Fprintf(&b, "*PIX RECEBIDO!*\n\nValor: *%s*", amount)
			if cb.PayerName != "" {
				fmt.Fprintf(&b, "\nPagador: %s", cb.PayerName)
			}
			fmt.Fprintf(&b, "\nID: %s", firstNonEmpty(cb.EndToEndID, tx.ID))
			n.send(ctx, tx.Identity, b.String())
			n.choice(ctx, tx.Identity, balancePrompt, balanceChoice)
		case domain.StatusExpired:
			n.send(ctx, tx.Identity, fmt.Sprintf("⏰ *PIX EXPIRADO*\n\nO PIX de %s expirou.\nGere um novo se ainda precisar receber.", amount))
		case domain.StatusCanceled:
			n.send(ctx, tx.Identity, fmt.Sprintf("*PIX CANCELADO*\n\nO PIX de %s foi cancelado.", amount))
		case domain.StatusRefunded:
			n.send(ctx, tx.Identity, fmt.Sprintf("*ESTORNO CONCLUÍDO*\n\nO estorno de %s foi processado.", domain.FormatAmount(refundOf(tx, cb))))
		}
		return
	}

	switch tx.Status {
	case domain.StatusCompleted:
		n.send(ctx, tx.Identity, sentReceipt(tx.Amount, 1, firstNonEmpty(cb.ReceiverName, tx.ReceiverName), tx.DestinationKey, firstNonEmpty(cb.EndToEndID, tx.ID)))
		n.choice(ctx, tx.Identity, balancePrompt, balanceChoice)
	case domain.StatusError:
		n.send(ctx, tx.Identity, fmt.Sprintf("*ERRO NO PIX*\n\nA transferência de %s falhou.\nO valor será estornado se foi debitado.", amount))
	case domain.StatusCanceled, domain.StatusExpired:
		n.send(ctx, tx.Identity, fmt.Sprintf("*PIX CANCELADO*\n\nA transferência de %s foi cancelada.", amount))
	case domain.StatusRefunded:
		refund := refundOf(tx, cb)
		if refund < tx.Amount {
			n.send(ctx, tx.Identity, fmt.Sprintf(
				"*PIX ESTORNADO PARCIALMENTE*\n\nValor original: %s\nValor estornado: *%s*\n\nO valor retornou ao seu saldo.",
				amount, domain.FormatAmount(refund)))
			return
		}
		msg := fmt.Sprintf("*PIX ESTORNADO*\n\nO PIX de %s foi estornado.\nO valor retornou ao seu saldo.", domain.FormatAmount(refund))
		if cb.RefundReason != "" {
			msg += "\nMotivo: " + cb.RefundReason
		}
		n.send(ctx, tx.Identity, msg)
	}
}

// refundOf is the refunded amount a callback reports, defaulting to the
// whole transaction.
func refundOf(tx domain.Transaction, cb models.SettlementCallback) int64 {
	if v, ok := cb.RefundMinor(); ok && v > 0 {
		return v
	}
	if tx.RefundAmount > 0 {
		return tx.RefundAmount
	}
	return tx.Amount
}

func sentReceipt(amount int64, count int, receiver, key, id string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*PIX ENVIADO!*\n\nValor: *%s*", domain.FormatAmount(amount))
	if count > 1 {
		fmt.Fprintf(&b, " (%d PIX)", count)
	}
	if receiver != "" {
		fmt.Fprintf(&b, "\nRecebedor: %s", receiver)
	}
	if key != "" {
		fmt.Fprintf(&b, "\nChave: %s", key)
	}
	fmt.Fprintf(&b, "\nID: %s", id)
	return b.String()
}

func (n *Notifier) send(ctx context.Context, to domain.Identity, text string) {
	if err := n.msg.Send(ctx, to, text); err != nil {
		n.log.Error("notification not delivered", zap.String("identity", string(to)), zap.Error(err))
	}
}

func (n *Notifier) choice(ctx context.Context, to domain.Identity, text string, choices []gateway.Choice) {
	if err := n.msg.SendChoice(ctx, to, text, choices); err != nil {
		n.log.Error("choice not delivered", zap.String("identity", string(to)), zap.Error(err))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
