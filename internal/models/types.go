package models

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// SettlementCallback is the body the settlement provider posts for every
// status change of a transaction. Amounts arrive in major units.
type SettlementCallback struct {
	ID           string           `json:"id"`
	Status       domain.TxStatus  `json:"status"`
	Type         string           `json:"type,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	EndToEndID   string           `json:"endToEndId,omitempty"`
	PayerName    string           `json:"payerName,omitempty"`
	ReceiverName string           `json:"receiverName,omitempty"`
	RefundAmount *decimal.Decimal `json:"refundAmount,omitempty"`
	RefundReason string           `json:"refundReason,omitempty"`

	// Raw is the body as received, kept as transaction metadata.
	Raw json.RawMessage `json:"-"`
}

// AmountMinor is the callback amount in minor units.
func (c SettlementCallback) AmountMinor() int64 {
	return toMinor(c.Amount)
}

// RefundMinor is the refunded amount in minor units, if the callback
// carries one.
func (c SettlementCallback) RefundMinor() (int64, bool) {
	if c.RefundAmount == nil {
		return 0, false
	}
	return toMinor(*c.RefundAmount), true
}

func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// InboundMessage is the messaging gateway's webhook body. Only one of the
// content fields is normally set.
type InboundMessage struct {
	Phone   string `json:"phone"`
	FromMe  bool   `json:"fromMe"`
	IsGroup bool   `json:"isGroup"`
	Text    *struct {
		Message string `json:"message"`
	} `json:"text,omitempty"`
	ButtonsResponseMessage *struct {
		ButtonID string `json:"buttonId"`
		Message  string `json:"message"`
	} `json:"buttonsResponseMessage,omitempty"`
	ListResponseMessage *struct {
		Title         string `json:"title"`
		SelectedRowID string `json:"selectedRowId"`
	} `json:"listResponseMessage,omitempty"`
	Audio *struct {
		AudioURL string `json:"audioUrl"`
	} `json:"audio,omitempty"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
		Caption  string `json:"caption"`
	} `json:"image,omitempty"`
}

// ChatMessage is an inbound message reduced to what the conversation needs.
type ChatMessage struct {
	Identity domain.Identity
	Text     string
	AudioURL string
	ImageURL string
}

// Normalize extracts the chat message. ok is false for messages that must
// be ignored: our own echoes, group chats, and messages without content.
func (m InboundMessage) Normalize() (ChatMessage, bool) {
	if m.FromMe || m.IsGroup || m.Phone == "" {
		return ChatMessage{}, false
	}

	msg := ChatMessage{Identity: domain.Identity(m.Phone)}
	switch {
	case m.ButtonsResponseMessage != nil:
		msg.Text = firstNonEmpty(m.ButtonsResponseMessage.Message, m.ButtonsResponseMessage.ButtonID)
	case m.ListResponseMessage != nil:
		msg.Text = firstNonEmpty(m.ListResponseMessage.Title, m.ListResponseMessage.SelectedRowID)
	case m.Text != nil:
		msg.Text = m.Text.Message
	}
	if m.Audio != nil {
		msg.AudioURL = m.Audio.AudioURL
	}
	if m.Image != nil {
		msg.ImageURL = m.Image.ImageURL
		if m.Image.Caption != "" {
			msg.Text = m.Image.Caption
		}
	}
	msg.Text = strings.TrimSpace(msg.Text)

	if msg.Text == "" && msg.AudioURL == "" && msg.ImageURL == "" {
		return ChatMessage{}, false
	}
	return msg, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// BalanceResponse is returned by the balance endpoint.
type BalanceResponse struct {
	Identity  domain.Identity `json:"identity"`
	Balance   int64           `json:"balance"`
	Formatted string          `json:"formatted"`
}

// TransactionsResponse lists an identity's recent transactions.
type TransactionsResponse struct {
	Identity     domain.Identity      `json:"identity"`
	Transactions []domain.Transaction `json:"transactions"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
