package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the point-in-time balance snapshot captured when an account is linked.
type Balance struct {
	Available       decimal.NullDecimal `json:"available"`
	Current         decimal.NullDecimal `json:"current"`
	ISOCurrencyCode *string             `json:"iso_currency_code"`
}

// Bank is one linked external account, registered as a funding source on the
// payment network. A row only exists once the funding source was created.
type Bank struct {
	ID               uuid.UUID `json:"id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	AccessToken      string    `json:"-"`
	AccountID        string    `json:"account_id"`
	AccountName      string    `json:"account_name"`
	Balance          Balance   `json:"balance"`
	FundingSourceURL string    `json:"funding_source_url"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExchangePublicTokenRequest is the DTO for linking a bank account.
type ExchangePublicTokenRequest struct {
	PublicToken string `json:"public_token"`
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	BankName    string `json:"bank_name"`
}

// LinkTokenRequest is the DTO for creating a link token. UserID is only used
// when the request is not tied to an authenticated session.
type LinkTokenRequest struct {
	UserID string `json:"userId"`
}
