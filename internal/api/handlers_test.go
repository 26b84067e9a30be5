package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Djonahuti/u-bank/internal/app"
	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/validation"
	"github.com/Djonahuti/u-bank/pkg/middleware"
)

const testSecret = "api-test-secret"

var testCustomerID = uuid.MustParse("6f1c1d8e-0a5b-4b43-9a59-0d5f8f1b2c3d")

type linkTokenStub struct {
	gotUserID string
	err       error
}

func (s *linkTokenStub) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	s.gotUserID = userID
	if s.err != nil {
		return "", s.err
	}
	return "link-sandbox-1", nil
}

type bankLinkerStub struct {
	got app.LinkBankInput
	err error
}

func (s *bankLinkerStub) LinkBank(ctx context.Context, in app.LinkBankInput) (*app.LinkBankResult, error) {
	s.got = in
	if s.err != nil {
		return nil, s.err
	}
	return &app.LinkBankResult{Bank: &domain.Bank{ID: uuid.New()}, FundingSourceURL: "https://api-sandbox.dwolla.com/funding-sources/fs-1"}, nil
}

type transferStub struct {
	got   app.TransferInput
	calls int
	err   error
}

func (s *transferStub) InitiateTransfer(ctx context.Context, in app.TransferInput) error {
	s.calls++
	s.got = in
	return s.err
}

type customerStub struct {
	createErr    error
	dashboardErr error
	resolveErr   error
}

func (s *customerStub) CreateProfile(ctx context.Context, userID string, req domain.CreateCustomerRequest) (*domain.Customer, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &domain.Customer{ID: testCustomerID, UserID: userID, FirstName: req.FirstName, NIN: req.NIN}, nil
}

func (s *customerStub) Dashboard(ctx context.Context, userID string) (*domain.Dashboard, error) {
	if s.dashboardErr != nil {
		return nil, s.dashboardErr
	}
	return &domain.Dashboard{
		Customer:     &domain.Customer{ID: testCustomerID, UserID: userID},
		Banks:        []domain.Bank{{ID: uuid.New(), AccessToken: "access-secret", FundingSourceURL: "https://fs"}},
		Transactions: []domain.Transaction{},
	}, nil
}

func (s *customerStub) ResolveCustomer(ctx context.Context, userID, requestedCustomerID string) (uuid.UUID, error) {
	if s.resolveErr != nil {
		return uuid.Nil, s.resolveErr
	}
	return testCustomerID, nil
}

type countingLimiter struct {
	counts map[string]int
}

func (l *countingLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[scope+":"+subject]++
	return l.counts[scope+":"+subject], 60, nil
}

type apiFixture struct {
	linkTokens *linkTokenStub
	banks      *bankLinkerStub
	transfers  *transferStub
	customers  *customerStub
	limiter    *countingLimiter
	router     http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		linkTokens: &linkTokenStub{},
		banks:      &bankLinkerStub{},
		transfers:  &transferStub{},
		customers:  &customerStub{},
		limiter:    &countingLimiter{},
	}
	handlers := NewHandlers(f.linkTokens, f.banks, f.transfers, f.customers, nil)
	f.router = NewRouter(handlers, RouterConfig{
		Auth:              middleware.AuthConfig{Secret: testSecret},
		AllowedOrigins:    []string{"http://localhost:3000"},
		Limiter:           f.limiter,
		LinkRateLimit:     2,
		TransferRateLimit: 5,
	}, nil)
	return f
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + token
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/dwolla/transfer", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if f.transfers.calls != 0 {
		t.Fatal("expected handler not to run")
	}
}

func TestCreateLinkToken_UsesAuthenticatedUser(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/plaid/link-token", `{"userId":"someone-else"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["link_token"] != "link-sandbox-1" {
		t.Fatalf("unexpected body %v", body)
	}
	if f.linkTokens.gotUserID != "user-1" {
		t.Fatalf("expected authenticated user, got %q", f.linkTokens.gotUserID)
	}
}

func TestCreateLinkToken_EmptyBodyAndFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.linkTokens.err = fmt.Errorf("%w: boom", app.ErrLinkToken)

	rec := f.do(t, http.MethodPost, "/api/plaid/link-token", "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Failed to create link token" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestExchangePublicToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/plaid/exchange-public-token", `{"public_token":"tok_good","account_id":"acc_1","account_name":"Checking","bank_name":"Chase"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["fundingSourceUrl"] != "https://api-sandbox.dwolla.com/funding-sources/fs-1" {
		t.Fatalf("unexpected body %v", body)
	}
	want := app.LinkBankInput{UserID: "user-1", PublicToken: "tok_good", AccountID: "acc_1", AccountName: "Checking", BankName: "Chase"}
	if f.banks.got != want {
		t.Fatalf("unexpected link input %+v", f.banks.got)
	}
}

func TestExchangePublicToken_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "validation", err: &validation.FieldError{Field: "state", Message: validation.MessageRegionCode}, wantStatus: http.StatusBadRequest, wantError: validation.MessageRegionCode},
		{name: "profile incomplete", err: app.ErrProfileIncomplete, wantStatus: http.StatusBadRequest, wantError: app.ErrProfileIncomplete.Error()},
		{name: "account not found", err: app.ErrAccountNotFound, wantStatus: http.StatusInternalServerError, wantError: "Account not found"},
		{name: "timeout", err: fmt.Errorf("%w: deadline", app.ErrRemoteTimeout), wantStatus: http.StatusGatewayTimeout, wantError: app.ErrRemoteTimeout.Error()},
		{name: "inconsistency", err: &app.InconsistencyError{Kind: domain.ReconcileBank, RemoteRef: "https://fs", Err: errors.New("db down")}, wantStatus: http.StatusInternalServerError, wantError: "Failed to process request"},
		{name: "exchange", err: fmt.Errorf("%w: plaid", app.ErrExchange), wantStatus: http.StatusInternalServerError, wantError: "Failed to process request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.banks.err = tc.err

			rec := f.do(t, http.MethodPost, "/api/plaid/exchange-public-token", `{"public_token":"tok","account_id":"acc"}`)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != tc.wantError {
				t.Fatalf("expected error %q, got %v", tc.wantError, body["error"])
			}
		})
	}
}

func TestLinkRoutesShareRateLimit(t *testing.T) {
	f := newAPIFixture(t)

	f.do(t, http.MethodPost, "/api/plaid/link-token", "")
	f.do(t, http.MethodPost, "/api/plaid/exchange-public-token", `{"public_token":"tok","account_id":"acc"}`)
	rec := f.do(t, http.MethodPost, "/api/plaid/link-token", "")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestTransfer(t *testing.T) {
	f := newAPIFixture(t)
	bankID := uuid.New()

	rec := f.do(t, http.MethodPost, "/api/dwolla/transfer", fmt.Sprintf(`{"amount":"100.50","bank_id":%q,"description":"rent"}`, bankID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	got := f.transfers.got
	if got.CustomerID != testCustomerID || got.Amount.String() != "100.5" || got.BankID == nil || *got.BankID != bankID {
		t.Fatalf("unexpected transfer input %+v", got)
	}
}

func TestTransfer_NumericAmount(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/dwolla/transfer", `{"amount":100,"funding_source_url":"https://fs"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.transfers.got.Amount.String() != "100" || f.transfers.got.FundingSourceURL != "https://fs" {
		t.Fatalf("unexpected transfer input %+v", f.transfers.got)
	}
}

func TestTransfer_ErrorMapping(t *testing.T) {
	rejected := &app.RemoteDetailError{Detail: "Insufficient funds.", Err: fmt.Errorf("%w: declined", app.ErrTransferRejected)}

	cases := []struct {
		name        string
		resolveErr  error
		transferErr error
		body        string
		wantStatus  int
		wantError   string
		wantDetails string
	}{
		{name: "foreign customer", resolveErr: app.ErrForbidden, wantStatus: http.StatusForbidden, wantError: "Forbidden"},
		{name: "bank not found", transferErr: app.ErrBankNotFound, wantStatus: http.StatusNotFound, wantError: "Bank account not found"},
		{name: "customer not found", transferErr: app.ErrCustomerNotFound, wantStatus: http.StatusNotFound, wantError: "Customer not found"},
		{name: "invalid amount", transferErr: &validation.FieldError{Field: "amount", Message: validation.MessageAmount}, wantStatus: http.StatusBadRequest, wantError: validation.MessageAmount},
		{name: "rejected", transferErr: rejected, wantStatus: http.StatusInternalServerError, wantError: "Failed to process transfer", wantDetails: "Insufficient funds."},
		{name: "no location", transferErr: fmt.Errorf("%w: no location", app.ErrRemoteProvisioning), wantStatus: http.StatusInternalServerError, wantError: "Failed to process transfer"},
		{name: "timeout", transferErr: app.ErrRemoteTimeout, wantStatus: http.StatusGatewayTimeout, wantError: app.ErrRemoteTimeout.Error()},
		{name: "bad bank id", body: `{"amount":1,"bank_id":"nope"}`, wantStatus: http.StatusBadRequest, wantError: "bank_id must be a valid UUID"},
		{name: "bad json", body: `{"amount":`, wantStatus: http.StatusBadRequest, wantError: "Invalid request body"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.customers.resolveErr = tc.resolveErr
			f.transfers.err = tc.transferErr
			body := tc.body
			if body == "" {
				body = `{"amount":1,"funding_source_url":"https://fs"}`
			}

			rec := f.do(t, http.MethodPost, "/api/dwolla/transfer", body)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			decoded := decodeBody(t, rec)
			if decoded["error"] != tc.wantError {
				t.Fatalf("expected error %q, got %v", tc.wantError, decoded["error"])
			}
			if tc.wantDetails != "" && decoded["details"] != tc.wantDetails {
				t.Fatalf("expected details %q, got %v", tc.wantDetails, decoded["details"])
			}
			if tc.wantDetails == "" && decoded["details"] != nil {
				t.Fatalf("expected no details, got %v", decoded["details"])
			}
		})
	}
}

func TestCreateCustomer(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/customers", `{"first_name":"Ada","nin":"123456789"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "123456789") {
		t.Fatal("national identifier must not be serialized")
	}

	f.customers.createErr = app.ErrProfileExists
	if rec := f.do(t, http.MethodPost, "/api/customers", `{}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/dashboard", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "access-secret") {
		t.Fatal("access token must not be serialized")
	}

	f.customers.dashboardErr = app.ErrProfileIncomplete
	if rec := f.do(t, http.MethodGet, "/api/dashboard", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
