/**
 * @description
 * HTTP handlers for the banking API. Handlers decode requests, call the app
 * services and are the single place where service errors become HTTP statuses.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/validation: Services, DTOs and error types.
 * - go.uber.org/zap: Structured request-outcome logging.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/app"
	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/validation"
	"github.com/Djonahuti/u-bank/pkg/middleware"
)

const maxRequestBodyBytes = 1 << 20

type LinkTokenCreator interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
}

type BankLinker interface {
	LinkBank(ctx context.Context, in app.LinkBankInput) (*app.LinkBankResult, error)
}

type TransferInitiator interface {
	InitiateTransfer(ctx context.Context, in app.TransferInput) error
}

type CustomerDirectory interface {
	CreateProfile(ctx context.Context, userID string, req domain.CreateCustomerRequest) (*domain.Customer, error)
	Dashboard(ctx context.Context, userID string) (*domain.Dashboard, error)
	ResolveCustomer(ctx context.Context, userID, requestedCustomerID string) (uuid.UUID, error)
}

// Handlers holds the services the endpoints use.
type Handlers struct {
	linkTokens LinkTokenCreator
	banks      BankLinker
	transfers  TransferInitiator
	customers  CustomerDirectory
	logger     *zap.Logger
}

func NewHandlers(linkTokens LinkTokenCreator, banks BankLinker, transfers TransferInitiator, customers CustomerDirectory, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		linkTokens: linkTokens,
		banks:      banks,
		transfers:  transfers,
		customers:  customers,
		logger:     logger.With(zap.String("component", "api")),
	}
}

type linkTokenResponse struct {
	LinkToken string `json:"link_token"`
}

type exchangeResponse struct {
	Success          bool   `json:"success"`
	FundingSourceURL string `json:"fundingSourceUrl"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreateLinkTokenHandler mints a Plaid Link token. The authenticated user
// always wins over a userId in the body.
func (h *Handlers) CreateLinkTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkTokenRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = req.UserID
	}

	token, err := h.linkTokens.CreateLinkToken(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "link_token", err, "Failed to create link token")
		return
	}
	h.writeJSON(w, http.StatusOK, linkTokenResponse{LinkToken: token})
}

// ExchangePublicTokenHandler links the selected account as a funding source.
func (h *Handlers) ExchangePublicTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.ExchangePublicTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid request body", zap.String("endpoint", "exchange_public_token"), zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.banks.LinkBank(r.Context(), app.LinkBankInput{
		UserID:      userID,
		PublicToken: req.PublicToken,
		AccountID:   req.AccountID,
		AccountName: req.AccountName,
		BankName:    req.BankName,
	})
	if err != nil {
		h.writeServiceError(w, "exchange_public_token", err, "Failed to process request")
		return
	}

	h.logger.Info("bank account linked", zap.String("user_id", userID), zap.String("funding_source_url", result.FundingSourceURL))
	h.writeJSON(w, http.StatusOK, exchangeResponse{Success: true, FundingSourceURL: result.FundingSourceURL})
}

// TransferHandler submits a transfer for the authenticated user's customer.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid request body", zap.String("endpoint", "transfer"), zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	customerID, err := h.customers.ResolveCustomer(r.Context(), userID, req.CustomerID)
	if err != nil {
		h.writeServiceError(w, "transfer", err, "Failed to process transfer")
		return
	}

	in := app.TransferInput{
		CustomerID:       customerID,
		Amount:           req.Amount,
		FundingSourceURL: req.FundingSourceURL,
		Description:      req.Description,
	}
	if bankID := strings.TrimSpace(req.BankID); bankID != "" {
		parsed, err := uuid.Parse(bankID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bank_id must be a valid UUID")
			return
		}
		in.BankID = &parsed
	}

	if err := h.transfers.InitiateTransfer(r.Context(), in); err != nil {
		h.writeServiceError(w, "transfer", err, "Failed to process transfer")
		return
	}
	h.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// CreateCustomerHandler completes the authenticated user's profile.
func (h *Handlers) CreateCustomerHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.CreateCustomerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	customer, err := h.customers.CreateProfile(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, "create_customer", err, "Failed to create customer profile")
		return
	}
	h.writeJSON(w, http.StatusCreated, customer)
}

// DashboardHandler returns the user's customer, banks and transactions.
func (h *Handlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	dashboard, err := h.customers.Dashboard(r.Context(), userID)
	if err != nil {
		if errors.Is(err, app.ErrProfileIncomplete) {
			h.writeError(w, http.StatusNotFound, "Customer profile not found")
			return
		}
		h.writeServiceError(w, "dashboard", err, "Failed to load dashboard")
		return
	}
	h.writeJSON(w, http.StatusOK, dashboard)
}

// writeServiceError maps service errors to statuses. Internal details are
// logged and never returned, except the payment network's decline message.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error, fallback string) {
	var (
		fieldErr      *validation.FieldError
		detailErr     *app.RemoteDetailError
		inconsistency *app.InconsistencyError
	)

	status := http.StatusInternalServerError
	resp := errorResponse{Error: fallback}

	switch {
	case errors.As(err, &fieldErr):
		status, resp.Error = http.StatusBadRequest, fieldErr.Message
	case errors.Is(err, app.ErrProfileIncomplete):
		status, resp.Error = http.StatusBadRequest, app.ErrProfileIncomplete.Error()
	case errors.Is(err, app.ErrProfileExists):
		status, resp.Error = http.StatusConflict, "Customer profile already exists"
	case errors.Is(err, app.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "Forbidden"
	case errors.Is(err, app.ErrCustomerNotFound):
		status, resp.Error = http.StatusNotFound, "Customer not found"
	case errors.Is(err, app.ErrBankNotFound):
		status, resp.Error = http.StatusNotFound, "Bank account not found"
	case errors.Is(err, app.ErrRemoteTimeout):
		status, resp.Error = http.StatusGatewayTimeout, app.ErrRemoteTimeout.Error()
	case errors.Is(err, app.ErrAccountNotFound):
		resp.Error = app.ErrAccountNotFound.Error()
	case errors.As(err, &inconsistency):
		h.logger.Error("remote side effect without local record",
			zap.String("endpoint", endpoint),
			zap.String("kind", string(inconsistency.Kind)),
			zap.String("remote_ref", inconsistency.RemoteRef),
			zap.String("reconciliation_id", inconsistency.ReconciliationID),
		)
	case errors.As(err, &detailErr) && errors.Is(err, app.ErrTransferRejected):
		resp.Details = detailErr.Detail
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Warn("request rejected", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, resp)
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Warn("failed to encode response", zap.Error(err))
		}
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
