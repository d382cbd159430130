package domain

import (
	"strings"
	"unicode"
)

// Action is what the user asked for, as resolved by the NLU service.
type Action string

const (
	ActionAsk            Action = "ask"
	ActionWithdraw       Action = "withdraw"
	ActionSendToContact  Action = "send_to_contact"
	ActionCheckBalance   Action = "check_balance"
	ActionGenerateCharge Action = "generate_charge"
	ActionResendCode     Action = "resend_code"
	ActionRefund         Action = "refund"
	ActionSearchRefund   Action = "search_refund"
	ActionSaveContact    Action = "save_contact"
	ActionListContacts   Action = "list_contacts"
	ActionHelp           Action = "help"
	ActionUnknown        Action = "unknown"
)

// Terminal reports whether the action ends the dialogue, discarding history.
func (a Action) Terminal() bool {
	switch a {
	case ActionWithdraw, ActionSendToContact, ActionCheckBalance, ActionGenerateCharge,
		ActionRefund, ActionSearchRefund, ActionSaveContact, ActionListContacts:
		return true
	}
	return false
}

// MovesMoney reports whether executing the action submits a settlement.
func (a Action) MovesMoney() bool {
	return a == ActionWithdraw || a == ActionSendToContact || a == ActionRefund
}

// KeyType is the kind of destination key a payout is addressed to.
type KeyType string

const (
	KeyCPF        KeyType = "cpf"
	KeyCNPJ       KeyType = "cnpj"
	KeyPhone      KeyType = "phone"
	KeyEmail      KeyType = "email"
	KeyRandom     KeyType = "evp"
	KeyCPFOrPhone KeyType = "cpf_or_phone"
)

// Command is a structured request extracted from free text.
type Command struct {
	Action        Action  `json:"action"`
	Amount        int64   `json:"amount,omitempty"`
	TargetKey     string  `json:"target_key,omitempty"`
	KeyType       KeyType `json:"key_type,omitempty"`
	ReceiverName  string  `json:"receiver_name,omitempty"`
	ContactName   string  `json:"contact_name,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	RefundAmount  int64   `json:"refund_amount,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Destination is the label shown to the user for the command's target.
func (c Command) Destination() string {
	if c.ContactName != "" {
		return c.ContactName
	}
	return c.TargetKey
}

// KeyResolution is the outcome of normalizing a destination key.
type KeyResolution int

const (
	KeyResolved KeyResolution = iota
	KeyAmbiguous
)

// NormalizeKey canonicalizes the command's destination key. A cpf_or_phone
// key of 11 digits with a valid CPF checksum stays ambiguous and must be
// confirmed by the user; otherwise it is treated as a phone number. Phone
// keys always carry the 55 country prefix.
func NormalizeKey(cmd Command) (Command, KeyResolution) {
	keyType := KeyType(strings.ToLower(string(cmd.KeyType)))
	if keyType == "random" {
		keyType = KeyRandom
	}
	cmd.KeyType = keyType

	if keyType == KeyCPFOrPhone {
		digits := onlyDigits(cmd.TargetKey)
		if len(digits) == 11 {
			cmd.TargetKey = digits
			if ValidCPF(digits) {
				return cmd, KeyAmbiguous
			}
			cmd.KeyType = KeyPhone
		}
	}
	if cmd.KeyType == KeyPhone {
		cmd.TargetKey = onlyDigits(cmd.TargetKey)
		if !strings.HasPrefix(cmd.TargetKey, "55") {
			cmd.TargetKey = "55" + cmd.TargetKey
		}
	}
	return cmd, KeyResolved
}

// ValidCPF checks the two CPF verification digits.
func ValidCPF(cpf string) bool {
	cpf = onlyDigits(cpf)
	if len(cpf) != 11 {
		return false
	}
	same := true
	for i := 1; i < 11; i++ {
		if cpf[i] != cpf[0] {
			same = false
			break
		}
	}
	if same {
		return false
	}

	check := func(n int) bool {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(cpf[i]-'0') * (n + 1 - i)
		}
		rest := (sum * 10) % 11
		if rest == 10 {
			rest = 0
		}
		return rest == int(cpf[n]-'0')
	}
	return check(9) && check(10)
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
