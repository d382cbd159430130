package dialogue

import "github.com/punchamoorthee/chatpay/internal/session"

// Vocabulary is the closed token set recognized for one pending kind.
// Exact entries must equal the whole normalized reply; phrases may appear
// anywhere in it.
type Vocabulary struct {
	Affirm        []string
	AffirmPhrases []string
	Cancel        []string
	CancelPhrases []string
	// Options maps reply tokens to 1-based selections.
	Options map[string]int
	// OptionPhrases select when found inside a longer reply. A reply that
	// names two different options, or carries one of Negations, selects
	// nothing.
	OptionPhrases []OptionPhrase
	Negations     []string
}

// OptionPhrase is a phrase that selects option Index.
type OptionPhrase struct {
	Phrase string
	Index  int
}

// Messages holds the user-facing texts of one locale.
type Messages struct {
	NotUnderstood   string
	PendingWithdraw string
	PendingAudio    string
	AudioCommand    string
	PendingRefund   string
	RefundPartial   string
	RefundDetails   string
	RefundSelected  string
	ChooseRefund    string
	SelectFirst     string
	KeyAmbiguous    string
	ImageKey        string
	Confirmed       map[session.Kind]string
	Canceled        map[session.Kind]string
	Yes             map[session.Kind]string
	No              string
	CPF             string
	Phone           string
	DateLayout      string
}

// Locale pairs the vocabularies with the messages of one language.
type Locale struct {
	Name     string
	Vocab    map[session.Kind]Vocabulary
	Messages Messages
}

var (
	ptAffirm = []string{"sim", "s", "y", "yes", "confirmar", "confirma", "ok"}
	ptCancel = []string{"não", "nao", "n", "cancelar", "cancela"}
)

func join(a []string, b ...string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// PtBR is the default locale.
var PtBR = Locale{
	Name: "pt-BR",
	Vocab: map[session.Kind]Vocabulary{
		session.KindWithdrawConfirmation: {
			Affirm:        join(ptAffirm, "enviar", "pode enviar", "manda", "envia", "sim, enviar"),
			AffirmPhrases: []string{"sim, enviar"},
			Cancel:        join(ptCancel, "não enviar", "nao enviar"),
			CancelPhrases: []string{"cancelar"},
		},
		session.KindRefundConfirmation: {
			Affirm:        join(ptAffirm, "estornar", "devolver", "sim, estornar", "estornar parcial"),
			AffirmPhrases: []string{"sim, estornar", "estornar parcial"},
			Cancel:        ptCancel,
			CancelPhrases: []string{"cancelar"},
		},
		session.KindAudioCommandConfirmation: {
			Affirm:        join(ptAffirm, "sim, executar"),
			AffirmPhrases: []string{"sim, executar"},
			Cancel:        ptCancel,
			CancelPhrases: []string{"cancelar"},
		},
		session.KindKeyTypeDisambiguation: {
			Cancel:        []string{"cancelar", "cancela", "não", "nao"},
			CancelPhrases: []string{"cancelar"},
			Options: map[string]int{
				"1": 1, "cpf": 1, "é cpf": 1, "e cpf": 1,
				"2": 2, "telefone": 2, "tel": 2, "celular": 2, "phone": 2, "fone": 2, "é telefone": 2, "e telefone": 2,
			},
			OptionPhrases: []OptionPhrase{{"cpf", 1}, {"telefone", 2}, {"celular", 2}},
			Negations:     []string{"não", "nao", "nem"},
		},
		session.KindImageKeyContext: {
			Cancel:        []string{"cancelar", "cancela", "não", "nao"},
			CancelPhrases: []string{"cancelar"},
		},
	},
	Messages: Messages{
		NotUnderstood:   "Não entendi sua resposta.",
		PendingWithdraw: "*Transferência pendente:*\nValor: %s\nPara: %s",
		PendingAudio:    "*Comando pendente:*\n🎤 _\"%s\"_\n\n%s",
		AudioCommand:    "Comando: %s",
		PendingRefund:   "*Estorno pendente:*\nValor do PIX: %s\n",
		RefundPartial:   "Valor a estornar: %s _(parcial)_\n",
		RefundDetails:   "Data: %s\nID: %s",
		RefundSelected:  "*PIX selecionado para estorno:*\n\nValor do PIX: *%s*\n",
		ChooseRefund:    "Por favor, responda com o número do PIX que deseja estornar (1, 2, 3...):\n",
		SelectFirst:     "Por favor, primeiro selecione o PIX digitando o número (1, 2, 3...)",
		KeyAmbiguous:    "A chave *%s* pode ser CPF ou telefone.",
		ImageKey:        "Chave *%s* recebida.\nQual valor você quer enviar?",
		Confirmed: map[session.Kind]string{
			session.KindWithdrawConfirmation:     "Confirmado! Enviando PIX...",
			session.KindRefundConfirmation:       "Confirmado! Processando estorno...",
			session.KindAudioCommandConfirmation: "Confirmado! Executando...",
		},
		Canceled: map[session.Kind]string{
			session.KindWithdrawConfirmation:     "Transferência cancelada. Como posso ajudar?",
			session.KindRefundConfirmation:       "Estorno cancelado. Como posso ajudar?",
			session.KindAudioCommandConfirmation: "Cancelado. Como posso ajudar?",
			session.KindKeyTypeDisambiguation:    "Transferência cancelada. Como posso ajudar?",
			session.KindImageKeyContext:          "Cancelado. Como posso ajudar?",
		},
		Yes: map[session.Kind]string{
			session.KindWithdrawConfirmation:     "Sim, enviar",
			session.KindRefundConfirmation:       "Sim, estornar",
			session.KindAudioCommandConfirmation: "Sim, executar",
		},
		No:         "Cancelar",
		CPF:        "CPF",
		Phone:      "Telefone",
		DateLayout: "02/01/2006 15:04",
	},
}

var (
	enAffirm = []string{"yes", "y", "ok", "confirm", "sure"}
	enCancel = []string{"no", "n", "cancel", "stop"}
)

// English is used when LOCALE=en.
var English = Locale{
	Name: "en",
	Vocab: map[session.Kind]Vocabulary{
		session.KindWithdrawConfirmation: {
			Affirm:        join(enAffirm, "send", "yes, send"),
			AffirmPhrases: []string{"yes, send"},
			Cancel:        join(enCancel, "don't send"),
			CancelPhrases: []string{"cancel"},
		},
		session.KindRefundConfirmation: {
			Affirm:        join(enAffirm, "refund", "yes, refund"),
			AffirmPhrases: []string{"yes, refund"},
			Cancel:        enCancel,
			CancelPhrases: []string{"cancel"},
		},
		session.KindAudioCommandConfirmation: {
			Affirm:        join(enAffirm, "yes, run"),
			AffirmPhrases: []string{"yes, run"},
			Cancel:        enCancel,
			CancelPhrases: []string{"cancel"},
		},
		session.KindKeyTypeDisambiguation: {
			Cancel:        enCancel,
			CancelPhrases: []string{"cancel"},
			Options:       map[string]int{"1": 1, "cpf": 1, "2": 2, "phone": 2, "mobile": 2, "telefone": 2},
			OptionPhrases: []OptionPhrase{{"cpf", 1}, {"phone", 2}, {"mobile", 2}},
			Negations:     []string{"not", "no", "isn't", "nor"},
		},
		session.KindImageKeyContext: {
			Cancel:        enCancel,
			CancelPhrases: []string{"cancel"},
		},
	},
	Messages: Messages{
		NotUnderstood:   "Sorry, I didn't get that.",
		PendingWithdraw: "*Pending transfer:*\nAmount: %s\nTo: %s",
		PendingAudio:    "*Pending command:*\n🎤 _\"%s\"_\n\n%s",
		AudioCommand:    "Command: %s",
		PendingRefund:   "*Pending refund:*\nPayment amount: %s\n",
		RefundPartial:   "Refund amount: %s _(partial)_\n",
		RefundDetails:   "Date: %s\nID: %s",
		RefundSelected:  "*Payment selected for refund:*\n\nAmount: *%s*\n",
		ChooseRefund:    "Please reply with the number of the payment to refund (1, 2, 3...):\n",
		SelectFirst:     "Please select the payment first by typing its number (1, 2, 3...)",
		KeyAmbiguous:    "The key *%s* can be a CPF or a phone number.",
		ImageKey:        "Key *%s* received.\nHow much do you want to send?",
		Confirmed: map[session.Kind]string{
			session.KindWithdrawConfirmation:     "Confirmed! Sending...",
			session.KindRefundConfirmation:       "Confirmed! Processing refund...",
			session.KindAudioCommandConfirmation: "Confirmed! Running...",
		},
		Canceled: map[session.Kind]string{
			session.KindWithdrawConfirmation:     "Transfer canceled. How can I help?",
			session.KindRefundConfirmation:       "Refund canceled. How can I help?",
			session.KindAudioCommandConfirmation: "Canceled. How can I help?",
			session.KindKeyTypeDisambiguation:    "Transfer canceled. How can I help?",
			session.KindImageKeyContext:          "Canceled. How can I help?",
		},
		Yes: map[session.Kind]string{
			session.KindWithdrawConfirmation:     "Yes, send",
			session.KindRefundConfirmation:       "Yes, refund",
			session.KindAudioCommandConfirmation: "Yes, run",
		},
		No:         "Cancel",
		CPF:        "CPF",
		Phone:      "Phone",
		DateLayout: "2006-01-02 15:04",
	},
}

// LocaleFor returns the locale named name, falling back to PtBR.
func LocaleFor(name string) Locale {
	if name == English.Name {
		return English
	}
	return PtBR
}
