package dialogue

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/session"
)

// Option is one choice offered to the user.
type Option struct {
	ID    string
	Label string
}

// Prompt is a message plus the choices that go with it.
type Prompt struct {
	Text    string
	Options []Option
}

// Outcome is the result of matching a reply against the pending action.
type Outcome struct {
	// Pending is false when the identity had no live pending action; the
	// reply must then be handled as a new message.
	Pending bool
	Kind    session.Kind
	Verdict Verdict
	// Payload is set when the reply released the action for execution.
	Payload session.Payload
	Prompt  Prompt
}

// Execute reports whether the outcome carries an action to run.
func (o Outcome) Execute() bool {
	return o.Payload != nil
}

// Engine resolves replies against the session store.
type Engine struct {
	store  session.Store
	locale Locale
	log    *zap.Logger
}

func NewEngine(store session.Store, locale Locale, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, locale: locale, log: log.With(zap.String("component", "dialogue"))}
}

// Locale returns the engine's locale.
func (e *Engine) Locale() Locale { return e.locale }

// Resolve classifies text against the identity's pending action and applies
// the result inside the identity's critical section, so a payload is handed
// out for execution at most once.
func (e *Engine) Resolve(ctx context.Context, id domain.Identity, text string) (Outcome, error) {
	var out Outcome
	err := e.store.Update(ctx, id, func(cur session.Entry, live bool) (session.Change, error) {
		out = Outcome{}
		if !live {
			return session.Keep(), nil
		}
		out.Pending = true
		out.Kind = cur.Kind
		return e.decide(cur, text, &out), nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve reply: %w", err)
	}
	if out.Pending {
		e.log.Debug("reply classified",
			zap.String("identity", string(id)),
			zap.String("kind", string(out.Kind)),
			zap.Stringer("verdict", out.Verdict))
	}
	return out, nil
}

func (e *Engine) decide(cur session.Entry, text string, out *Outcome) session.Change {
	msgs := e.locale.Messages
	reply := Classify(e.locale.Vocab[cur.Kind], text, candidates(cur.Payload))
	out.Verdict = reply.Verdict

	switch reply.Verdict {
	case Affirm:
		if p, ok := cur.Payload.(session.RefundConfirmation); ok && p.Selected == nil {
			out.Verdict = Unrecognized
			out.Prompt = Prompt{Text: msgs.SelectFirst}
			return session.Keep()
		}
		out.Payload = cur.Payload
		out.Prompt = Prompt{Text: msgs.Confirmed[cur.Kind]}
		return session.Delete()

	case Cancel:
		out.Prompt = Prompt{Text: msgs.Canceled[cur.Kind]}
		return session.Delete()

	case Select:
		switch p := cur.Payload.(type) {
		case session.RefundConfirmation:
			if p.Selected == nil && reply.Index <= len(p.Candidates) {
				sel := p.Candidates[reply.Index-1]
				next := session.RefundConfirmation{Selected: &sel, RefundAmount: p.RefundAmount}
				out.Prompt = e.Describe(next)
				return session.Replace(next)
			}
		case session.KeyTypeDisambiguation:
			cmd := p.Command
			if reply.Index == 1 {
				cmd.KeyType = domain.KeyCPF
			} else {
				cmd.KeyType = domain.KeyPhone
			}
			cmd, _ = domain.NormalizeKey(cmd)
			out.Payload = session.KeyTypeDisambiguation{Command: cmd}
			return session.Delete()
		}
	}

	out.Verdict = Unrecognized
	p := e.Describe(cur.Payload)
	p.Text = msgs.NotUnderstood + "\n\n" + p.Text
	out.Prompt = p
	return session.Keep()
}

func candidates(p session.Payload) int {
	if r, ok := p.(session.RefundConfirmation); ok && r.Selected == nil {
		return len(r.Candidates)
	}
	return 0
}

// Describe renders the prompt for a pending action with every detail the
// user needs to answer it.
func (e *Engine) Describe(p session.Payload) Prompt {
	msgs := e.locale.Messages
	yesNo := func(kind session.Kind) []Option {
		return []Option{
			{ID: "confirm", Label: msgs.Yes[kind]},
			{ID: "cancel", Label: msgs.No},
		}
	}

	switch p := p.(type) {
	case session.WithdrawConfirmation:
		return Prompt{
			Text:    fmt.Sprintf(msgs.PendingWithdraw, domain.FormatAmount(p.Command.Amount), p.Command.Destination()),
			Options: yesNo(p.Kind()),
		}

	case session.AudioCommandConfirmation:
		return Prompt{
			Text:    fmt.Sprintf(msgs.PendingAudio, p.Transcription, e.describeCommand(p.Command)),
			Options: yesNo(p.Kind()),
		}

	case session.RefundConfirmation:
		if p.Selected == nil {
			var b strings.Builder
			b.WriteString(msgs.ChooseRefund)
			for i, c := range p.Candidates {
				fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, domain.FormatAmount(c.Amount), c.CreatedAt.Format(msgs.DateLayout))
			}
			return Prompt{Text: b.String()}
		}
		var b strings.Builder
		fmt.Fprintf(&b, msgs.RefundSelected, domain.FormatAmount(p.Selected.Amount))
		if p.RefundAmount > 0 && p.RefundAmount < p.Selected.Amount {
			fmt.Fprintf(&b, msgs.RefundPartial, domain.FormatAmount(p.RefundAmount))
		}
		fmt.Fprintf(&b, msgs.RefundDetails, p.Selected.CreatedAt.Format(msgs.DateLayout), p.Selected.ID)
		return Prompt{Text: b.String(), Options: yesNo(p.Kind())}

	case session.KeyTypeDisambiguation:
		return Prompt{
			Text: fmt.Sprintf(msgs.KeyAmbiguous, p.Command.TargetKey),
			Options: []Option{
				{ID: "cpf", Label: msgs.CPF},
				{ID: "telefone", Label: msgs.Phone},
				{ID: "cancel", Label: msgs.No},
			},
		}

	case session.ImageKeyContext:
		return Prompt{Text: fmt.Sprintf(msgs.ImageKey, p.Key)}
	}
	return Prompt{}
}

func (e *Engine) describeCommand(cmd domain.Command) string {
	desc := string(cmd.Action)
	if cmd.Amount > 0 {
		desc += " " + domain.FormatAmount(cmd.Amount)
	}
	if dest := cmd.Destination(); dest != "" {
		desc += " → " + dest
	}
	return fmt.Sprintf(e.locale.Messages.AudioCommand, desc)
}
