package domain

import (
	"encoding/json"
	"time"
)

// Identity is the stable per-end-user key (the chat address of the user).
type Identity string

// TxType tells which way money moves relative to the owning identity.
type TxType string

const (
	TxPayIn  TxType = "pay_in"
	TxPayOut TxType = "pay_out"
)

// TxStatus is the settlement status of a single transaction.
type TxStatus string

const (
	StatusPending         TxStatus = "PENDING"
	StatusCompleted       TxStatus = "COMPLETED"
	StatusError           TxStatus = "ERROR"
	StatusCanceled        TxStatus = "CANCELED"
	StatusExpired         TxStatus = "EXPIRED"
	StatusRefunded        TxStatus = "REFUNDED"
	StatusRefundRequested TxStatus = "REFUND_REQUESTED"
)

// Valid reports whether s is a status the settlement provider may deliver.
func (s TxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusError, StatusCanceled,
		StatusExpired, StatusRefunded, StatusRefundRequested:
		return true
	}
	return false
}

// Terminal reports whether s ends the transaction for counting purposes.
// COMPLETED may still move to REFUNDED or REFUND_REQUESTED later.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Failed reports whether s is a terminal failure.
func (s TxStatus) Failed() bool {
	switch s {
	case StatusError, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Transaction is one settlement request tracked by the ledger.
type Transaction struct {
	ID             string          `json:"id"`
	Identity       Identity        `json:"identity"`
	Type           TxType          `json:"type"`
	Amount         int64           `json:"amount"`
	Status         TxStatus        `json:"status"`
	GroupID        string          `json:"group_id,omitempty"`
	DestinationKey string          `json:"destination_key,omitempty"`
	KeyType        KeyType         `json:"key_type,omitempty"`
	ReceiverName   string          `json:"receiver_name,omitempty"`
	Refunded       bool            `json:"refunded"`
	RefundAmount   int64           `json:"refund_amount,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SignedAmount is the balance delta applied when the transaction completes.
func (t Transaction) SignedAmount() int64 {
	if t.Type == TxPayIn {
		return t.Amount
	}
	return -t.Amount
}

// BalanceChange records the owning balance around a completed transaction.
type BalanceChange struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// GroupStatus is the aggregate outcome of a split transfer.
type GroupStatus string

const (
	GroupPending   GroupStatus = "PENDING"
	GroupCompleted GroupStatus = "COMPLETED"
	GroupFailed    GroupStatus = "FAILED"
	GroupPartial   GroupStatus = "PARTIAL"
)

// Terminal reports whether the group has resolved.
func (s GroupStatus) Terminal() bool {
	return s == GroupCompleted || s == GroupFailed || s == GroupPartial
}

// GroupMeta carries the user-facing details of a split transfer.
type GroupMeta struct {
	DestinationKey string   `json:"destination_key"`
	KeyType        KeyType  `json:"key_type"`
	ReceiverName   string   `json:"receiver_name,omitempty"`
	ChunkIDs       []string `json:"chunk_ids,omitempty"`
}

// GroupSnapshot is a copy of a transfer group's counters at one instant.
type GroupSnapshot struct {
	ID              string      `json:"id"`
	Identity        Identity    `json:"identity"`
	TotalAmount     int64       `json:"total_amount"`
	ChunkCount      int         `json:"chunk_count"`
	CompletedCount  int         `json:"completed_count"`
	FailedCount     int         `json:"failed_count"`
	CompletedAmount int64       `json:"completed_amount"`
	FailedAmount    int64       `json:"failed_amount"`
	FailedIDs       []string    `json:"failed_ids,omitempty"`
	Status          GroupStatus `json:"status"`
	Meta            GroupMeta   `json:"meta"`
	CreatedAt       time.Time   `json:"created_at"`
	ResolvedAt      time.Time   `json:"resolved_at,omitempty"`
}

// Contact is a destination key saved under a name by its owner.
type Contact struct {
	Name    string  `json:"name"`
	Key     string  `json:"key"`
	KeyType KeyType `json:"key_type"`
}
