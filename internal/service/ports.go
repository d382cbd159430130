// Package service orchestrates the chat payment flows: splitting and
// submitting transfers, reconciling settlement callbacks, and driving the
// conversation with each user.
package service

import (
	"context"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/gateway"
)

// Messenger delivers messages to a user.
type Messenger interface {
	Send(ctx context.Context, to domain.Identity, text string) error
	SendImage(ctx context.Context, to domain.Identity, image, caption string) error
	SendChoice(ctx context.Context, to domain.Identity, text string, choices []gateway.Choice) error
}

// Settlement moves money through the settlement provider.
type Settlement interface {
	Submit(ctx context.Context, req gateway.SubmitRequest) error
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.Charge, error)
	RequestRefund(ctx context.Context, txID string, amount int64, reason string) error
}

// Interpreter turns user input into commands.
type Interpreter interface {
	Interpret(ctx context.Context, in gateway.Input, history []gateway.Turn) (domain.Command, error)
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// ContactBook keeps the destination keys a user saved under a name.
// LookupContact reports a missing contact as domain.ErrUnknownReference.
type ContactBook interface {
	SaveContact(ctx context.Context, identity domain.Identity, c domain.Contact) error
	LookupContact(ctx context.Context, identity domain.Identity, name string) (domain.Contact, error)
	ListContacts(ctx context.Context, identity domain.Identity) ([]domain.Contact, error)
}

var (
	_ Messenger   = (*gateway.Messenger)(nil)
	_ Settlement  = (*gateway.Settlement)(nil)
	_ Interpreter = (*gateway.NLU)(nil)
)
