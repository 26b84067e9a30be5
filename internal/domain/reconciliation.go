package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconciliationKind names the local write that failed after a remote side
// effect succeeded.
type ReconciliationKind string

const (
	ReconcileCustomerIdentifier ReconciliationKind = "customer_identifier"
	ReconcileBank               ReconciliationKind = "bank"
	ReconcileTransaction        ReconciliationKind = "transaction"
	ReconcileOrphanedCustomer   ReconciliationKind = "orphaned_customer"
)

const (
	ReconciliationPending  = "pending"
	ReconciliationResolved = "resolved"
	ReconciliationManual   = "manual"
)

// Reconciliation is a row of `pending_reconciliations`. Payload holds the local
// record that could not be written, encoded as JSON.
type Reconciliation struct {
	ID            uuid.UUID          `json:"id"`
	Kind          ReconciliationKind `json:"kind"`
	CustomerID    uuid.UUID          `json:"customer_id"`
	RemoteRef     string             `json:"remote_ref"`
	Payload       json.RawMessage    `json:"payload"`
	Status        string             `json:"status"`
	Attempts      int                `json:"attempts"`
	LastError     *string            `json:"last_error,omitempty"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// CustomerIdentifierPayload is the payload for ReconcileCustomerIdentifier and
// ReconcileOrphanedCustomer rows.
type CustomerIdentifierPayload struct {
	DwollaCustomerID string `json:"dwolla_customer_id"`
	ExistingID       string `json:"existing_id,omitempty"`
}
