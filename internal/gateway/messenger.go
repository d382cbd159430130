package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Choice is one button offered with a message.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Messenger talks to the chat messaging gateway. Transient failures are
// retried with exponential backoff.
type Messenger struct {
	c        *client
	attempts uint64
	initial  time.Duration
}

func NewMessenger(opts Options) *Messenger {
	token := opts.Token
	return &Messenger{
		c: newClient("messaging", opts, func(r *http.Request) {
			if token != "" {
				r.Header.Set("Client-Token", token)
			}
		}),
		attempts: 3,
		initial:  200 * time.Millisecond,
	}
}

type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendImageRequest struct {
	Phone   string `json:"phone"`
	Image   string `json:"image"`
	Caption string `json:"caption,omitempty"`
}

type sendButtonsRequest struct {
	Phone      string `json:"phone"`
	Message    string `json:"message"`
	ButtonList struct {
		Buttons []Choice `json:"buttons"`
	} `json:"buttonList"`
}

// Send delivers a text message.
func (m *Messenger) Send(ctx context.Context, to domain.Identity, text string) error {
	return m.retry(ctx, func() error {
		return m.c.doJSON(ctx, "send_text", http.MethodPost, "/send-text", sendTextRequest{Phone: string(to), Message: text}, nil)
	})
}

// SendImage delivers an image (URL or base64 data URI) with a caption.
func (m *Messenger) SendImage(ctx context.Context, to domain.Identity, image, caption string) error {
	return m.retry(ctx, func() error {
		return m.c.doJSON(ctx, "send_image", http.MethodPost, "/send-image", sendImageRequest{Phone: string(to), Image: image, Caption: caption}, nil)
	})
}

// SendChoice delivers text with buttons. When the buttons cannot be
// delivered it falls back to plain text listing the options by number.
func (m *Messenger) SendChoice(ctx context.Context, to domain.Identity, text string, choices []Choice) error {
	if len(choices) == 0 {
		return m.Send(ctx, to, text)
	}

	req := sendButtonsRequest{Phone: string(to), Message: text}
	req.ButtonList.Buttons = choices
	err := m.retry(ctx, func() error {
		return m.c.doJSON(ctx, "send_buttons", http.MethodPost, "/send-button-list", req, nil)
	})
	if err == nil {
		return nil
	}

	m.c.log.Warn("buttons not delivered, falling back to text",
		zap.String("identity", string(to)), zap.Error(err))
	return m.Send(ctx, to, PlainChoice(text, choices))
}

// PlainChoice renders choices as a numbered list under text.
func PlainChoice(text string, choices []Choice) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, c := range choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	return b.String()
}

func (m *Messenger) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initial
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, m.attempts-1), ctx))
}
