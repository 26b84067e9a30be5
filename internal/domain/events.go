package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the events exchange.
const (
	EventBankLinked             = "bank.linked"
	EventTransferInitiated      = "transfer.initiated"
	EventReconciliationRequired = "reconciliation.required"
)

type BankLinkedEvent struct {
	CustomerID       uuid.UUID `json:"customer_id"`
	BankID           uuid.UUID `json:"bank_id"`
	AccountID        string    `json:"account_id"`
	FundingSourceURL string    `json:"funding_source_url"`
	LinkedAt         time.Time `json:"linked_at"`
}

type TransferInitiatedEvent struct {
	CustomerID          uuid.UUID  `json:"customer_id"`
	TransactionID       uuid.UUID  `json:"transaction_id"`
	BankID              *uuid.UUID `json:"bank_id,omitempty"`
	Amount              string     `json:"amount"`
	DwollaTransactionID string     `json:"dwolla_transaction_id"`
	InitiatedAt         time.Time  `json:"initiated_at"`
}

type ReconciliationRequiredEvent struct {
	ReconciliationID uuid.UUID `json:"reconciliation_id"`
	Kind             string    `json:"kind"`
	CustomerID       uuid.UUID `json:"customer_id"`
	RemoteRef        string    `json:"remote_ref"`
	Reason           string    `json:"reason"`
}
