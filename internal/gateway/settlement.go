package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Settlement is the settlement provider client. Calls are never retried:
// a submission that timed out may still have been accepted.
type Settlement struct {
	c *client
}

func NewSettlement(opts Options) *Settlement {
	token := opts.Token
	return &Settlement{c: newClient("settlement", opts, func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	})}
}

// SubmitRequest asks the provider to pay out one transaction.
type SubmitRequest struct {
	TxID           string
	Amount         int64
	DestinationKey string
	KeyType        domain.KeyType
	CallbackURL    string
}

type submitBody struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	PixKey      string          `json:"pixKey"`
	PixKeyType  string          `json:"pixKeyType"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
}

// Submit sends a payout. A rejection is a *domain.ProviderError.
func (s *Settlement) Submit(ctx context.Context, req SubmitRequest) error {
	return s.c.doJSON(ctx, "submit", http.MethodPost, "/pix/out", submitBody{
		ID:          req.TxID,
		Amount:      major(req.Amount),
		PixKey:      req.DestinationKey,
		PixKeyType:  string(req.KeyType),
		CallbackURL: req.CallbackURL,
	}, nil)
}

// ChargeRequest asks for a payment code the identity can share to get paid.
type ChargeRequest struct {
	TxID        string
	Amount      int64
	CallbackURL string
}

// Charge is an issued payment code.
type Charge struct {
	TxID     string `json:"id"`
	Code     string `json:"qrCode"`
	ImageURL string `json:"qrCodeImage"`
}

type chargeBody struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
}

func (s *Settlement) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	var out Charge
	err := s.c.doJSON(ctx, "create_charge", http.MethodPost, "/pix/in", chargeBody{
		ID:          req.TxID,
		Amount:      major(req.Amount),
		CallbackURL: req.CallbackURL,
	}, &out)
	if err != nil {
		return Charge{}, err
	}
	if out.TxID == "" {
		out.TxID = req.TxID
	}
	return out, nil
}

type refundBody struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

// RequestRefund asks the provider to return amount of a received payment.
func (s *Settlement) RequestRefund(ctx context.Context, txID string, amount int64, reason string) error {
	return s.c.doJSON(ctx, "refund", http.MethodPost, "/pix/"+url.PathEscape(txID)+"/refund",
		refundBody{Amount: major(amount), Reason: reason}, nil)
}

func major(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
