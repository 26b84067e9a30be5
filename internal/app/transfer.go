package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/store"
	"github.com/Djonahuti/u-bank/internal/validation"
	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
)

// TransferInput describes one transfer from a linked funding source. Either
// FundingSourceURL or BankID identifies the source.
type TransferInput struct {
	CustomerID       uuid.UUID
	Amount           decimal.Decimal
	FundingSourceURL string
	BankID           *uuid.UUID
	Description      string
}

// TransferService submits transfers to the payment network and records them
// as pending transactions.
type TransferService struct {
	repo                        store.Repository
	network                     PaymentNetwork
	reconciler                  *Reconciler
	events                      eventEmitter
	destinationFundingSourceURL string
	timeout                     time.Duration
	logger                      *zap.Logger
}

func NewTransferService(
	repo store.Repository,
	network PaymentNetwork,
	reconciler *Reconciler,
	publisher EventPublisher,
	exchange string,
	destinationFundingSourceURL string,
	timeout time.Duration,
	logger *zap.Logger,
) *TransferService {
	logger = nopIfNil(logger).With(zap.String("component", "transfer_service"))
	return &TransferService{
		repo:                        repo,
		network:                     network,
		reconciler:                  reconciler,
		events:                      newEventEmitter(publisher, exchange, logger),
		destinationFundingSourceURL: destinationFundingSourceURL,
		timeout:                     remoteTimeout(timeout),
		logger:                      logger,
	}
}

// InitiateTransfer submits the transfer and records it. Only success or
// failure is reported; callers re-read transactions to observe the record.
func (s *TransferService) InitiateTransfer(ctx context.Context, in TransferInput) error {
	if err := validation.CheckAmount(in.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(in.FundingSourceURL) == "" && in.BankID == nil {
		return &validation.FieldError{Field: "funding_source_url", Message: validation.MessageSource}
	}

	if _, err := s.repo.FindCustomerByID(ctx, in.CustomerID); err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return fmt.Errorf("%w: %s", ErrCustomerNotFound, in.CustomerID)
		}
		return fmt.Errorf("failed to load customer %s: %w", in.CustomerID, err)
	}

	bank, err := s.resolveSource(ctx, in)
	if err != nil {
		return err
	}

	location, err := s.submit(ctx, bank.FundingSourceURL, in.Amount)
	if err != nil {
		return err
	}

	tx := &domain.Transaction{
		CustomerID:          in.CustomerID,
		BankID:              &bank.ID,
		Amount:              in.Amount,
		TransactionType:     domain.TransactionTypeTransfer,
		Status:              domain.TransactionStatusPending,
		DwollaTransactionID: dwollaclient.ResourceID(location),
		DwollaTransferURL:   location,
	}
	if description := strings.TrimSpace(in.Description); description != "" {
		tx.Description = &description
	}

	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			s.logger.Warn("transfer already recorded", zap.String("dwolla_transaction_id", tx.DwollaTransactionID))
			return nil
		}
		return s.reconciler.recordTransaction(ctx, tx, err)
	}

	s.logger.Info("transfer initiated",
		zap.String("customer_id", tx.CustomerID.String()),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("dwolla_transaction_id", tx.DwollaTransactionID),
	)
	s.events.emit(ctx, domain.EventTransferInitiated, domain.TransferInitiatedEvent{
		CustomerID:          tx.CustomerID,
		TransactionID:       tx.ID,
		BankID:              tx.BankID,
		Amount:              tx.Amount.StringFixed(2),
		DwollaTransactionID: tx.DwollaTransactionID,
		InitiatedAt:         tx.CreatedAt,
	})
	return nil
}

// resolveSource finds the customer's bank for the given reference. A locator
// that does not belong to the customer is treated as not found.
func (s *TransferService) resolveSource(ctx context.Context, in TransferInput) (*domain.Bank, error) {
	var (
		bank *domain.Bank
		err  error
	)
	if in.BankID != nil {
		bank, err = s.repo.FindBankByID(ctx, in.CustomerID, *in.BankID)
	} else {
		bank, err = s.repo.FindBankByFundingSourceURL(ctx, in.CustomerID, strings.TrimSpace(in.FundingSourceURL))
	}
	if err != nil {
		if errors.Is(err, store.ErrBankNotFound) {
			return nil, ErrBankNotFound
		}
		return nil, fmt.Errorf("failed to resolve funding source: %w", err)
	}
	if in.BankID != nil && in.FundingSourceURL != "" && strings.TrimSpace(in.FundingSourceURL) != bank.FundingSourceURL {
		return nil, &validation.FieldError{Field: "funding_source_url", Message: "funding_source_url does not match bank_id"}
	}
	return bank, nil
}

func (s *TransferService) submit(ctx context.Context, sourceURL string, amount decimal.Decimal) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := dwollaclient.NewTransferRequest(sourceURL, s.destinationFundingSourceURL, amount)
	location, err := s.network.CreateTransfer(callCtx, req)
	if err != nil {
		var apiErr *dwollaclient.APIError
		if errors.As(err, &apiErr) {
			return "", &RemoteDetailError{Detail: apiErr.Detail(), Err: classifyRemote(err, ErrTransferRejected)}
		}
		return "", classifyRemote(err, ErrRemoteProvisioning)
	}
	if dwollaclient.ResourceID(location) == "" {
		return "", fmt.Errorf("%w: transfer submission returned no location", ErrRemoteProvisioning)
	}
	return location, nil
}
