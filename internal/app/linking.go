package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/store"
	"github.com/Djonahuti/u-bank/internal/validation"
	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
	"github.com/Djonahuti/u-bank/pkg/plaidclient"
)

const defaultFundingSourceName = "Bank Account"

// LinkBankInput carries one bank-link request.
type LinkBankInput struct {
	UserID      string
	PublicToken string
	AccountID   string
	AccountName string
	BankName    string
}

// LinkBankResult describes the linked bank.
type LinkBankResult struct {
	Bank             *domain.Bank
	FundingSourceURL string
}

// BankLinker turns a Plaid public token into a Dwolla funding source and a
// persisted Bank row. Steps run strictly in sequence and nothing is rolled
// back: a failure leaves the remote effects of the steps that succeeded.
type BankLinker struct {
	repo        store.Repository
	aggregator  AccountAggregator
	network     PaymentNetwork
	provisioner *Provisioner
	reconciler  *Reconciler
	events      eventEmitter
	timeout     time.Duration
	logger      *zap.Logger
}

func NewBankLinker(
	repo store.Repository,
	aggregator AccountAggregator,
	network PaymentNetwork,
	provisioner *Provisioner,
	reconciler *Reconciler,
	publisher EventPublisher,
	exchange string,
	timeout time.Duration,
	logger *zap.Logger,
) *BankLinker {
	logger = nopIfNil(logger).With(zap.String("component", "bank_linker"))
	return &BankLinker{
		repo:        repo,
		aggregator:  aggregator,
		network:     network,
		provisioner: provisioner,
		reconciler:  reconciler,
		events:      newEventEmitter(publisher, exchange, logger),
		timeout:     remoteTimeout(timeout),
		logger:      logger,
	}
}

// LinkBank exchanges the public token, resolves the chosen account, mints a
// processor token, provisions the payment customer, registers the funding
// source and records the bank.
func (l *BankLinker) LinkBank(ctx context.Context, in LinkBankInput) (*LinkBankResult, error) {
	for _, field := range []struct{ name, value string }{
		{"public_token", in.PublicToken},
		{"account_id", in.AccountID},
		{"user_id", in.UserID},
	} {
		if err := validation.Required(field.name, field.value); err != nil {
			return nil, err
		}
	}

	accessToken, err := l.exchangePublicToken(ctx, in.PublicToken)
	if err != nil {
		return nil, err
	}

	account, err := l.findAccount(ctx, accessToken, in.AccountID)
	if err != nil {
		return nil, err
	}

	processorToken, err := l.createProcessorToken(ctx, accessToken, account.AccountID)
	if err != nil {
		return nil, err
	}

	customer, err := l.repo.FindCustomerByUserID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return nil, ErrProfileIncomplete
		}
		return nil, fmt.Errorf("failed to load customer for user %s: %w", in.UserID, err)
	}

	dwollaCustomerID, err := l.provisioner.ensure(ctx, customer)
	if err != nil {
		return nil, err
	}

	fundingSourceURL, err := l.createFundingSource(ctx, dwollaCustomerID, processorToken, fundingSourceName(in, account))
	if err != nil {
		return nil, err
	}

	bank := &domain.Bank{
		CustomerID:  customer.ID,
		AccessToken: accessToken,
		AccountID:   account.AccountID,
		AccountName: firstNonEmpty(in.AccountName, account.Name),
		Balance: domain.Balance{
			Available:       account.Balances.Available,
			Current:         account.Balances.Current,
			ISOCurrencyCode: account.Balances.ISOCurrencyCode,
		},
		FundingSourceURL: fundingSourceURL,
	}
	if err := l.repo.CreateBank(ctx, bank); err != nil {
		if errors.Is(err, store.ErrDuplicateFundingSource) {
			return l.existingBank(ctx, customer, fundingSourceURL)
		}
		return nil, l.reconciler.recordBank(ctx, bank, err)
	}

	l.logger.Info("bank linked",
		zap.String("customer_id", customer.ID.String()),
		zap.String("bank_id", bank.ID.String()),
		zap.String("funding_source_url", fundingSourceURL),
	)
	l.events.emit(ctx, domain.EventBankLinked, domain.BankLinkedEvent{
		CustomerID:       customer.ID,
		BankID:           bank.ID,
		AccountID:        bank.AccountID,
		FundingSourceURL: fundingSourceURL,
		LinkedAt:         bank.CreatedAt,
	})

	return &LinkBankResult{Bank: bank, FundingSourceURL: fundingSourceURL}, nil
}

func (l *BankLinker) exchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.aggregator.ExchangePublicToken(callCtx, publicToken)
	if err != nil {
		return "", classifyRemote(err, ErrExchange)
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access token", ErrExchange)
	}
	return resp.AccessToken, nil
}

func (l *BankLinker) findAccount(ctx context.Context, accessToken, accountID string) (*plaidclient.Account, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.aggregator.GetAccounts(callCtx, accessToken)
	if err != nil {
		return nil, classifyRemote(err, ErrExchange)
	}
	account, ok := resp.FindAccount(accountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (l *BankLinker) createProcessorToken(ctx context.Context, accessToken, accountID string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.aggregator.CreateProcessorToken(callCtx, accessToken, accountID, plaidclient.ProcessorDwolla)
	if err != nil {
		return "", classifyRemote(err, ErrProcessorToken)
	}
	if strings.TrimSpace(resp.ProcessorToken) == "" {
		return "", fmt.Errorf("%w: empty processor token", ErrProcessorToken)
	}
	return resp.ProcessorToken, nil
}

func (l *BankLinker) createFundingSource(ctx context.Context, dwollaCustomerID, processorToken, name string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	location, err := l.network.CreateFundingSource(callCtx, dwollaCustomerID, dwollaclient.CreateFundingSourceRequest{
		PlaidToken: processorToken,
		Name:       name,
	})
	if err != nil {
		var apiErr *dwollaclient.APIError
		if errors.As(err, &apiErr) {
			if href, ok := apiErr.DuplicateResourceHref(); ok {
				l.logger.Warn("funding source already registered; reusing it",
					zap.String("dwolla_customer_id", dwollaCustomerID),
					zap.String("funding_source_url", href),
				)
				return href, nil
			}
			return "", &RemoteDetailError{Detail: apiErr.Detail(), Err: classifyRemote(err, ErrRemoteProvisioning)}
		}
		return "", classifyRemote(err, ErrRemoteProvisioning)
	}
	if location == "" {
		return "", fmt.Errorf("%w: funding source creation returned no location", ErrRemoteProvisioning)
	}
	return location, nil
}

// existingBank returns the customer's bank already recorded for the locator,
// which makes relinking the same account idempotent.
func (l *BankLinker) existingBank(ctx context.Context, customer *domain.Customer, fundingSourceURL string) (*LinkBankResult, error) {
	bank, err := l.repo.FindBankByFundingSourceURL(ctx, customer.ID, fundingSourceURL)
	if err != nil {
		return nil, fmt.Errorf("funding source %s is linked to another customer: %w", fundingSourceURL, store.ErrDuplicateFundingSource)
	}
	return &LinkBankResult{Bank: bank, FundingSourceURL: fundingSourceURL}, nil
}

func fundingSourceName(in LinkBankInput, account *plaidclient.Account) string {
	return firstNonEmpty(in.BankName, in.AccountName, account.Name, defaultFundingSourceName)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
