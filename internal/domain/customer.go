/**
 * @description
 * Core domain models for the banking service. These structs map to the
 * `customers`, `banks` and `transactions` tables and are shared by the store,
 * app and api layers.
 *
 * @notes
 * - Monetary values use shopspring/decimal so amounts round-trip through NUMERIC
 *   columns without floating-point drift.
 * - Secrets (access tokens, national identifiers) carry `json:"-"` and never leave
 *   the service in an API response.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer is the local profile of a user. DwollaCustomerID is set exactly once,
// by payment-network provisioning.
type Customer struct {
	ID               uuid.UUID `json:"id"`
	UserID           string    `json:"user_id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Address          string    `json:"address"`
	City             string    `json:"city"`
	State            string    `json:"state"`
	ZipCode          string    `json:"zip_code"`
	DateOfBirth      string    `json:"date_of_birth"`
	NIN              string    `json:"-"`
	Email            string    `json:"email"`
	DwollaCustomerID *string   `json:"dwolla_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasPaymentIdentity reports whether the customer is already provisioned on the
// payment network.
func (c *Customer) HasPaymentIdentity() bool {
	return c.DwollaCustomerID != nil && *c.DwollaCustomerID != ""
}

// CreateCustomerRequest is the DTO for completing a user's profile.
type CreateCustomerRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zip_code"`
	DateOfBirth string `json:"date_of_birth"`
	NIN         string `json:"nin"`
	Email       string `json:"email"`
}
