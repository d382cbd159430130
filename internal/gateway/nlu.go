package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Turn is one message of the dialogue history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is what the user sent: text, an image, or both.
type Input struct {
	Text     string
	ImageURL string
}

// NLU extracts structured commands from free text through an OpenAI-style
// chat completions API.
type NLU struct {
	c     *client
	model string
}

func NewNLU(opts Options, model string) *NLU {
	token := opts.Token
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &NLU{
		c: newClient("nlu", opts, func(r *http.Request) {
			if token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}),
		model: model,
	}
}

const systemPrompt = `You are the assistant of a PIX payments bot talking to Brazilian users in Portuguese.
Reply ONLY with one JSON object. Amounts are integers in centavos.
Actions:
- {"action":"withdraw","amount":1000,"pixKey":"...","pixKeyType":"cpf|cnpj|phone|email|evp|cpf_or_phone","receiverName":"..."}
  Use cpf_or_phone for an 11-digit key the user did not qualify.
- {"action":"send_to_contact","amount":5000,"contactName":"joão"}
- {"action":"save_contact","name":"joão","pixKey":"...","pixKeyType":"cpf"}
- {"action":"list_contacts"}
- {"action":"check_balance"}
- {"action":"generate_pix","amount":5000}
- {"action":"resend_pix"}
- {"action":"search_refund","amount":10000,"refundAmount":500} (either may be null)
- {"action":"refund","transactionId":"...","refundAmount":500}
- {"action":"help"}
- {"action":"ask","message":"..."} when a required field is missing; ask for it in Portuguese.
When given an image, read the PIX key (and receiver name and amount if present) from it.`

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// nluResult is the JSON contract of the prompt above.
type nluResult struct {
	Action        string `json:"action"`
	Amount        *int64 `json:"amount"`
	PixKey        string `json:"pixKey"`
	PixKeyType    string `json:"pixKeyType"`
	ReceiverName  string `json:"receiverName"`
	ContactName   string `json:"contactName"`
	Name          string `json:"name"`
	TransactionID string `json:"transactionId"`
	RefundAmount  *int64 `json:"refundAmount"`
	Message       string `json:"message"`
}

var actionAliases = map[string]domain.Action{
	"withdraw":        domain.ActionWithdraw,
	"send_to_contact": domain.ActionSendToContact,
	"check_balance":   domain.ActionCheckBalance,
	"generate_pix":    domain.ActionGenerateCharge,
	"generate_charge": domain.ActionGenerateCharge,
	"resend_pix":      domain.ActionResendCode,
	"resend_code":     domain.ActionResendCode,
	"refund":          domain.ActionRefund,
	"search_refund":   domain.ActionSearchRefund,
	"save_contact":    domain.ActionSaveContact,
	"list_contacts":   domain.ActionListContacts,
	"help":            domain.ActionHelp,
	"ask":             domain.ActionAsk,
}

// Interpret turns the user's input, given the recent history, into a command.
func (n *NLU) Interpret(ctx context.Context, in Input, history []Turn) (domain.Command, error) {
	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	for _, t := range history {
		msgs = append(msgs, chatMessage{Role: t.Role, Content: t.Content})
	}
	if in.ImageURL != "" {
		parts := []contentPart{{Type: "image_url", ImageURL: &imageURL{URL: in.ImageURL}}}
		if in.Text != "" {
			parts = append(parts, contentPart{Type: "text", Text: in.Text})
		}
		msgs = append(msgs, chatMessage{Role: "user", Content: parts})
	} else {
		msgs = append(msgs, chatMessage{Role: "user", Content: in.Text})
	}

	var resp chatResponse
	err := n.c.doJSON(ctx, "interpret", http.MethodPost, "/chat/completions", chatRequest{
		Model:          n.model,
		Messages:       msgs,
		ResponseFormat: map[string]string{"type": "json_object"},
	}, &resp)
	if err != nil {
		return domain.Command{}, err
	}
	if len(resp.Choices) == 0 {
		return domain.Command{}, &domain.ProviderError{Provider: "nlu", Op: "interpret", Err: fmt.Errorf("empty completion")}
	}
	return ParseCommand(resp.Choices[0].Message.Content)
}

// ParseCommand decodes the model's JSON answer.
func ParseCommand(content string) (domain.Command, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")

	var r nluResult
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return domain.Command{}, &domain.ProviderError{Provider: "nlu", Op: "interpret", Err: fmt.Errorf("decode command: %w", err)}
	}

	action, ok := actionAliases[strings.ToLower(r.Action)]
	if !ok {
		action = domain.ActionUnknown
	}
	cmd := domain.Command{
		Action:        action,
		TargetKey:     strings.TrimSpace(r.PixKey),
		KeyType:       domain.KeyType(strings.ToLower(r.PixKeyType)),
		ReceiverName:  r.ReceiverName,
		ContactName:   firstNonEmpty(r.ContactName, r.Name),
		TransactionID: r.TransactionID,
		Message:       r.Message,
	}
	if r.Amount != nil {
		cmd.Amount = *r.Amount
	}
	if r.RefundAmount != nil {
		cmd.RefundAmount = *r.RefundAmount
	}
	return cmd, nil
}

type transcription struct {
	Text string `json:"text"`
}

// Transcribe downloads the voice note at audioURL and returns its text.
func (n *NLU) Transcribe(ctx context.Context, audioURL string) (string, error) {
	audio, err := n.download(ctx, audioURL)
	if err != nil {
		return "", err
	}

	var out transcription
	err = n.c.do(ctx, "transcribe", func(ctx context.Context) (*http.Request, error) {
		var body bytes.Buffer
		form := multipart.NewWriter(&body)
		if err := form.WriteField("model", "whisper-1"); err != nil {
			return nil, err
		}
		if err := form.WriteField("language", "pt"); err != nil {
			return nil, err
		}
		name := path.Base(audioURL)
		if name == "" || name == "." || name == "/" {
			name = "audio.ogg"
		}
		part, err := form.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(audio); err != nil {
			return nil, err
		}
		if err := form.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.c.base+"/audio/transcriptions", &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		return req, nil
	}, &out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func (n *NLU) download(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "media", Op: "download", Err: err}
	}
	resp, err := n.c.http.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "media", Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ProviderError{Provider: "media", Op: "download", Status: resp.StatusCode, Err: fmt.Errorf("unexpected response")}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 25<<20))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "media", Op: "download", Err: err}
	}
	return data, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
