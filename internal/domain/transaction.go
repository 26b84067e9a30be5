package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTypeTransfer = "transfer"

	TransactionStatusPending = "pending"
)

// Transaction records one transfer accepted by the payment network. Status
// starts as pending; settlement happens out of band.
type Transaction struct {
	ID                  uuid.UUID       `json:"id"`
	CustomerID          uuid.UUID       `json:"customer_id"`
	BankID              *uuid.UUID      `json:"bank_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	TransactionType     string          `json:"transaction_type"`
	Description         *string         `json:"description,omitempty"`
	Status              string          `json:"status"`
	DwollaTransactionID string          `json:"dwolla_transaction_id"`
	DwollaTransferURL   string          `json:"-"`
	CreatedAt           time.Time       `json:"created_at"`
}

// TransferRequest is the DTO for initiating a transfer. Amount accepts either a
// JSON number or a numeric string.
type TransferRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	FundingSourceURL string          `json:"funding_source_url"`
	BankID           string          `json:"bank_id"`
	CustomerID       string          `json:"customer_id"`
	Description      string          `json:"description"`
}

// Dashboard is the read model behind the dashboard page.
type Dashboard struct {
	Customer     *Customer     `json:"customer"`
	Banks        []Bank        `json:"banks"`
	Transactions []Transaction `json:"transactions"`
}
