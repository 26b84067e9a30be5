/**
 * @description
 * Reconciliation of remote-success/local-failure windows. When a payment
 * network resource was created but its local record could not be written, the
 * Reconciler records what was lost and a scheduled job re-applies the write.
 *
 * @dependencies
 * - internal/store: Reconciliation rows and the writes being retried.
 * - go.uber.org/zap: Error-level logging with remote identifiers.
 *
 * @notes
 * - Retries back off exponentially (1s doubling, capped at 300s).
 * - Identifier conflicts cannot be fixed automatically and are parked as
 *   `manual` for the deactivate-customer tool.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/store"
)

const (
	reconcileBatchSize  = 50
	reconcileStaleAfter = 2 * time.Minute
	recordTimeout       = 10 * time.Second
)

type bankPayload struct {
	SealedAccessToken string         `json:"sealed_access_token"`
	AccountID         string         `json:"account_id"`
	AccountName       string         `json:"account_name"`
	Balance           domain.Balance `json:"balance"`
	FundingSourceURL  string         `json:"funding_source_url"`
}

type transactionPayload struct {
	BankID              *uuid.UUID      `json:"bank_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	TransactionType     string          `json:"transaction_type"`
	Description         *string         `json:"description,omitempty"`
	Status              string          `json:"status"`
	DwollaTransactionID string          `json:"dwolla_transaction_id"`
	DwollaTransferURL   string          `json:"dwolla_transfer_url"`
}

// Reconciler records inconsistencies and retries the failed local writes.
type Reconciler struct {
	repo   store.Repository
	sealer store.TokenSealer
	events eventEmitter
	logger *zap.Logger
}

func NewReconciler(repo store.Repository, sealer store.TokenSealer, publisher EventPublisher, exchange string, logger *zap.Logger) *Reconciler {
	logger = nopIfNil(logger).With(zap.String("component", "reconciler"))
	return &Reconciler{
		repo:   repo,
		sealer: sealer,
		events: newEventEmitter(publisher, exchange, logger),
		logger: logger,
	}
}

// recordCustomerIdentifier is used when the identifier update failed after the
// remote customer was created. manual parks the row for an operator.
func (r *Reconciler) recordCustomerIdentifier(ctx context.Context, kind domain.ReconciliationKind, customerID uuid.UUID, dwollaCustomerID, existingID string, manual bool, cause error) error {
	payload := domain.CustomerIdentifierPayload{DwollaCustomerID: dwollaCustomerID, ExistingID: existingID}
	return r.record(ctx, kind, customerID, dwollaCustomerID, payload, manual, cause)
}

func (r *Reconciler) recordBank(ctx context.Context, bank *domain.Bank, cause error) error {
	payload := bankPayload{
		AccountID:        bank.AccountID,
		AccountName:      bank.AccountName,
		Balance:          bank.Balance,
		FundingSourceURL: bank.FundingSourceURL,
	}
	manual := false
	sealed, err := r.sealer.Seal(bank.AccessToken)
	if err != nil {
		r.logger.Error("failed to seal access token for reconciliation", zap.String("funding_source_url", bank.FundingSourceURL), zap.Error(err))
		manual = true
	} else {
		payload.SealedAccessToken = sealed
	}
	return r.record(ctx, domain.ReconcileBank, bank.CustomerID, bank.FundingSourceURL, payload, manual, cause)
}

func (r *Reconciler) recordTransaction(ctx context.Context, tx *domain.Transaction, cause error) error {
	payload := transactionPayload{
		BankID:              tx.BankID,
		Amount:              tx.Amount,
		TransactionType:     tx.TransactionType,
		Description:         tx.Description,
		Status:              tx.Status,
		DwollaTransactionID: tx.DwollaTransactionID,
		DwollaTransferURL:   tx.DwollaTransferURL,
	}
	return r.record(ctx, domain.ReconcileTransaction, tx.CustomerID, tx.DwollaTransferURL, payload, false, cause)
}

// record logs the inconsistency, stores a reconciliation row and publishes
// reconciliation.required. It always returns an *InconsistencyError, even when
// the row itself cannot be stored.
func (r *Reconciler) record(ctx context.Context, kind domain.ReconciliationKind, customerID uuid.UUID, remoteRef string, payload interface{}, manual bool, cause error) error {
	inconsistency := &InconsistencyError{Kind: kind, RemoteRef: remoteRef, Err: cause}

	r.logger.Error("remote resource exists without local record",
		zap.String("kind", string(kind)),
		zap.String("customer_id", customerID.String()),
		zap.String("remote_ref", remoteRef),
		zap.Bool("manual", manual),
		zap.Error(cause),
	)

	blob, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to encode reconciliation payload", zap.String("remote_ref", remoteRef), zap.Error(err))
		return inconsistency
	}

	reason := cause.Error()
	item := &domain.Reconciliation{
		Kind:       kind,
		CustomerID: customerID,
		RemoteRef:  remoteRef,
		Payload:    blob,
		LastError:  &reason,
	}
	if manual {
		item.Status = domain.ReconciliationManual
	}

	// The request context may already be cancelled; the record must still land.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repo.CreateReconciliation(recordCtx, item); err != nil {
		r.logger.Error("failed to store reconciliation; manual follow-up required",
			zap.String("kind", string(kind)),
			zap.String("customer_id", customerID.String()),
			zap.String("remote_ref", remoteRef),
			zap.ByteString("payload", redactPayload(kind, blob)),
			zap.Error(err),
		)
		return inconsistency
	}
	inconsistency.ReconciliationID = item.ID.String()

	r.events.emit(recordCtx, domain.EventReconciliationRequired, domain.ReconciliationRequiredEvent{
		ReconciliationID: item.ID,
		Kind:             string(kind),
		CustomerID:       customerID,
		RemoteRef:        remoteRef,
		Reason:           reason,
	})
	return inconsistency
}

// RunOnce claims due reconciliations and re-applies each local write. It
// returns how many rows were resolved.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	items, err := r.repo.ClaimDueReconciliations(ctx, reconcileBatchSize, reconcileStaleAfter)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, item := range items {
		logger := r.logger.With(
			zap.String("reconciliation_id", item.ID.String()),
			zap.String("kind", string(item.Kind)),
			zap.String("remote_ref", item.RemoteRef),
		)

		outcome, applyErr := r.apply(ctx, item)
		switch outcome {
		case outcomeResolved:
			if err := r.repo.MarkReconciliationResolved(ctx, item.ID); err != nil {
				logger.Error("failed to mark reconciliation resolved", zap.Error(err))
				continue
			}
			resolved++
			logger.Info("reconciliation resolved")
		case outcomeManual:
			logger.Error("reconciliation requires manual intervention", zap.Error(applyErr))
			if err := r.repo.MarkReconciliationManual(ctx, item.ID, errorText(applyErr)); err != nil {
				logger.Error("failed to mark reconciliation manual", zap.Error(err))
			}
		default:
			retryAfter := retryDelaySeconds(item.Attempts)
			logger.Warn("reconciliation attempt failed", zap.Int("attempts", item.Attempts), zap.Int("retry_after_seconds", retryAfter), zap.Error(applyErr))
			if err := r.repo.MarkReconciliationFailed(ctx, item.ID, retryAfter, errorText(applyErr)); err != nil {
				logger.Error("failed to reschedule reconciliation", zap.Error(err))
			}
		}
	}
	return resolved, nil
}

type reconcileOutcome int

const (
	outcomeRetry reconcileOutcome = iota
	outcomeResolved
	outcomeManual
)

func (r *Reconciler) apply(ctx context.Context, item domain.Reconciliation) (reconcileOutcome, error) {
	switch item.Kind {
	case domain.ReconcileCustomerIdentifier:
		return r.applyCustomerIdentifier(ctx, item)
	case domain.ReconcileBank:
		return r.applyBank(ctx, item)
	case domain.ReconcileTransaction:
		return r.applyTransaction(ctx, item)
	default:
		return outcomeManual, fmt.Errorf("reconciliation kind %q is not retried automatically", item.Kind)
	}
}

func (r *Reconciler) applyCustomerIdentifier(ctx context.Context, item domain.Reconciliation) (reconcileOutcome, error) {
	var payload domain.CustomerIdentifierPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil || payload.DwollaCustomerID == "" {
		return outcomeManual, fmt.Errorf("malformed customer identifier payload: %v", err)
	}

	applied, err := r.repo.SetDwollaCustomerID(ctx, item.CustomerID, payload.DwollaCustomerID)
	switch {
	case errors.Is(err, store.ErrDwollaCustomerIDTaken), errors.Is(err, store.ErrCustomerNotFound):
		return outcomeManual, err
	case err != nil:
		return outcomeRetry, err
	case applied:
		return outcomeResolved, nil
	}

	customer, err := r.repo.FindCustomerByID(ctx, item.CustomerID)
	if err != nil {
		return outcomeRetry, err
	}
	if customer.HasPaymentIdentity() && *customer.DwollaCustomerID == payload.DwollaCustomerID {
		return outcomeResolved, nil
	}
	return outcomeManual, fmt.Errorf("%w: customer holds %s, orphaned %s", ErrConcurrentProvisioning, derefString(customer.DwollaCustomerID), payload.DwollaCustomerID)
}

func (r *Reconciler) applyBank(ctx context.Context, item domain.Reconciliation) (reconcileOutcome, error) {
	var payload bankPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil || payload.FundingSourceURL == "" {
		return outcomeManual, fmt.Errorf("malformed bank payload: %v", err)
	}
	if payload.SealedAccessToken == "" {
		return outcomeManual, errors.New("bank payload has no access token")
	}
	accessToken, err := r.sealer.Open(payload.SealedAccessToken)
	if err != nil {
		return outcomeManual, fmt.Errorf("failed to open access token: %w", err)
	}

	bank := &domain.Bank{
		CustomerID:       item.CustomerID,
		AccessToken:      accessToken,
		AccountID:        payload.AccountID,
		AccountName:      payload.AccountName,
		Balance:          payload.Balance,
		FundingSourceURL: payload.FundingSourceURL,
	}
	if err := r.repo.CreateBank(ctx, bank); err != nil {
		if errors.Is(err, store.ErrDuplicateFundingSource) {
			return outcomeResolved, nil
		}
		return outcomeRetry, err
	}
	return outcomeResolved, nil
}

func (r *Reconciler) applyTransaction(ctx context.Context, item domain.Reconciliation) (reconcileOutcome, error) {
	var payload transactionPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil || payload.DwollaTransactionID == "" {
		return outcomeManual, fmt.Errorf("malformed transaction payload: %v", err)
	}

	tx := &domain.Transaction{
		CustomerID:          item.CustomerID,
		BankID:              payload.BankID,
		Amount:              payload.Amount,
		TransactionType:     payload.TransactionType,
		Description:         payload.Description,
		Status:              payload.Status,
		DwollaTransactionID: payload.DwollaTransactionID,
		DwollaTransferURL:   payload.DwollaTransferURL,
	}
	if err := r.repo.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			return outcomeResolved, nil
		}
		return outcomeRetry, err
	}
	return outcomeResolved, nil
}

// redactPayload drops the sealed access token before a payload is logged.
func redactPayload(kind domain.ReconciliationKind, blob []byte) []byte {
	if kind != domain.ReconcileBank {
		return blob
	}
	var payload bankPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		return nil
	}
	payload.SealedAccessToken = ""
	redacted, _ := json.Marshal(payload)
	return redacted
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 9)
	if delay > 300 {
		return 300
	}
	return delay
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
