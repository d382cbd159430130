// Package session keeps the short-lived per-identity dialogue state: the single
// pending confirmable action, the NLU dialogue history and the last issued
// payment code. Nothing here is durable; losing it only restarts a dialogue.
package session

import (
	"context"
	"time"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Kind tags the variant of a pending action.
type Kind string

const (
	KindWithdrawConfirmation     Kind = "withdraw_confirmation"
	KindRefundConfirmation       Kind = "refund_confirmation"
	KindKeyTypeDisambiguation    Kind = "key_type_disambiguation"
	KindAudioCommandConfirmation Kind = "audio_command_confirmation"
	KindImageKeyContext          Kind = "image_key_context"
)

const (
	DefaultConfirmationTTL = 5 * time.Minute
	DefaultDialogueTTL     = 10 * time.Minute
	DefaultPaymentCodeTTL  = 24 * time.Hour
)

// Payload is the variant-specific body of a pending action.
type Payload interface {
	Kind() Kind
}

// WithdrawConfirmation waits for the user to confirm a payout.
type WithdrawConfirmation struct {
	Command domain.Command `json:"command"`
}

func (WithdrawConfirmation) Kind() Kind { return KindWithdrawConfirmation }

// RefundCandidate is one received transaction offered for refund.
type RefundCandidate struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// RefundConfirmation offers either a numbered candidate list or, once a
// candidate is selected, a single refund to confirm.
type RefundConfirmation struct {
	Candidates   []RefundCandidate `json:"candidates,omitempty"`
	Selected     *RefundCandidate  `json:"selected,omitempty"`
	RefundAmount int64             `json:"refund_amount,omitempty"`
}

func (RefundConfirmation) Kind() Kind { return KindRefundConfirmation }

// KeyTypeDisambiguation asks whether an 11-digit key is a CPF or a phone.
type KeyTypeDisambiguation struct {
	Command domain.Command `json:"command"`
}

func (KeyTypeDisambiguation) Kind() Kind { return KindKeyTypeDisambiguation }

// AudioCommandConfirmation confirms a command transcribed from a voice note.
type AudioCommandConfirmation struct {
	Transcription string         `json:"transcription"`
	Command       domain.Command `json:"command"`
}

func (AudioCommandConfirmation) Kind() Kind { return KindAudioCommandConfirmation }

// ImageKeyContext remembers a destination key read from an image until the
// user says how much to send.
type ImageKeyContext struct {
	Key          string         `json:"key"`
	KeyType      domain.KeyType `json:"key_type"`
	ReceiverName string         `json:"receiver_name,omitempty"`
}

func (ImageKeyContext) Kind() Kind { return KindImageKeyContext }

// Entry is the pending action stored for an identity.
type Entry struct {
	Kind      Kind
	Payload   Payload
	CreatedAt time.Time
}

// Policy maps each kind to its time-to-live.
type Policy map[Kind]time.Duration

// DefaultPolicy applies ttl to every pending action kind.
func DefaultPolicy(ttl time.Duration) Policy {
	return Policy{
		KindWithdrawConfirmation:     ttl,
		KindRefundConfirmation:       ttl,
		KindKeyTypeDisambiguation:    ttl,
		KindAudioCommandConfirmation: ttl,
		KindImageKeyContext:          ttl,
	}
}

// TTL returns the time-to-live for kind.
func (p Policy) TTL(kind Kind) time.Duration {
	if ttl, ok := p[kind]; ok && ttl > 0 {
		return ttl
	}
	return DefaultConfirmationTTL
}

func (p Policy) expired(e Entry, now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(p.TTL(e.Kind)))
}

type changeOp int

const (
	opKeep changeOp = iota
	opDelete
	opReplace
)

// Change is what an UpdateFunc asks the store to do with the current entry.
type Change struct {
	op      changeOp
	payload Payload
}

// Keep leaves the entry untouched.
func Keep() Change { return Change{op: opKeep} }

// Delete removes the entry.
func Delete() Change { return Change{op: opDelete} }

// Replace stores p with a fresh creation time.
func Replace(p Payload) Change { return Change{op: opReplace, payload: p} }

// UpdateFunc inspects the live entry (live is false when there is none or it
// has expired) and decides what happens to it. It runs inside the identity's
// critical section, so it must not block, and it may run more than once.
type UpdateFunc func(cur Entry, live bool) (Change, error)

// Store holds at most one pending action per identity.
type Store interface {
	Put(ctx context.Context, id domain.Identity, p Payload) (Entry, error)
	Get(ctx context.Context, id domain.Identity) (Entry, bool, error)
	Remove(ctx context.Context, id domain.Identity) error
	Update(ctx context.Context, id domain.Identity, fn UpdateFunc) error
	Sweep(now time.Time) int
}
