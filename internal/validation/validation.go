/**
 * @description
 * Pure field validators for customer profile data and transfer input. These run
 * before any request is sent to the payment network, so a failure here never
 * leaves remote state behind.
 *
 * @dependencies
 * - regexp, strings: Standard Go libraries.
 * - github.com/shopspring/decimal: Transfer amount checks.
 */
package validation

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MessageRegionCode = "State must be a valid 2-letter US abbreviation (e.g., CA, NY, TX)."
	MessagePostalCode = "Postal code must be a valid US ZIP code (e.g., 12345 or 12345-6789)."
	MessageNationalID = "SSN must be 9 digits (no dashes or spaces)."
	MessageAmount     = "Amount must be a positive number with at most 2 decimal places."
	MessageSource     = "A funding source URL or bank id is required."
	MessageAmountMax  = "Amount must not exceed 999,999,999,999.99."
)

// MaxAmount is the largest amount the transactions table can hold (NUMERIC(14,2)).
var MaxAmount = decimal.RequireFromString("999999999999.99")

var (
	postalCodePattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	nationalIDPattern = regexp.MustCompile(`^\d{9}$`)
)

var regionCodes = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {}, "FL": {}, "GA": {},
	"HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {}, "KY": {}, "LA": {}, "ME": {}, "MD": {},
	"MA": {}, "MI": {}, "MN": {}, "MS": {}, "MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {},
	"NM": {}, "NY": {}, "NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {},
	"SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {}, "WI": {}, "WY": {},
}

// FieldError reports which input field failed validation. Message is safe to
// show to the end user.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// NormalizeRegionCode upper-cases the code and reports whether it is one of
// the 50 recognized US state abbreviations.
func NormalizeRegionCode(code string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != 2 {
		return normalized, false
	}
	_, ok := regionCodes[normalized]
	return normalized, ok
}

func ValidRegionCode(code string) bool {
	_, ok := NormalizeRegionCode(code)
	return ok
}

func ValidPostalCode(code string) bool {
	return postalCodePattern.MatchString(code)
}

func ValidNationalID(id string) bool {
	return nationalIDPattern.MatchString(id)
}

// CheckProfile validates the fields the payment network requires for a
// personal customer. It returns the normalized region code, or the first
// failing field as a *FieldError.
func CheckProfile(region, postalCode, nationalID string) (string, error) {
	normalized, ok := NormalizeRegionCode(region)
	if !ok {
		return "", &FieldError{Field: "state", Message: MessageRegionCode}
	}
	if !ValidPostalCode(strings.TrimSpace(postalCode)) {
		return "", &FieldError{Field: "zip_code", Message: MessagePostalCode}
	}
	if !ValidNationalID(strings.TrimSpace(nationalID)) {
		return "", &FieldError{Field: "nin", Message: MessageNationalID}
	}
	return normalized, nil
}

// CheckAmount requires a strictly positive amount expressible in cents and no
// larger than MaxAmount.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) {
		return &FieldError{Field: "amount", Message: MessageAmount}
	}
	if amount.GreaterThan(MaxAmount) {
		return &FieldError{Field: "amount", Message: MessageAmountMax}
	}
	return nil
}

// Required returns a FieldError when value is blank.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Message: field + " is required"}
	}
	return nil
}
