/**
 * @description
 * Collaborator contracts for the banking orchestration services and the small
 * helpers they share: per-call timeouts and best-effort event publishing.
 *
 * @dependencies
 * - pkg/plaidclient, pkg/dwollaclient: Request/response types of the remote providers.
 * - go.uber.org/zap: Structured logging.
 *
 * @notes
 * - The concrete clients satisfy these interfaces; tests substitute stubs.
 */
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
	"github.com/Djonahuti/u-bank/pkg/plaidclient"
)

const (
	defaultRemoteTimeout = 15 * time.Second
	publishTimeout       = 5 * time.Second
)

// AccountAggregator is the subset of the Plaid API used here.
type AccountAggregator interface {
	CreateLinkToken(ctx context.Context, req plaidclient.LinkTokenCreateRequest) (*plaidclient.LinkTokenCreateResponse, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*plaidclient.PublicTokenExchangeResponse, error)
	GetAccounts(ctx context.Context, accessToken string) (*plaidclient.AccountsGetResponse, error)
	CreateProcessorToken(ctx context.Context, accessToken, accountID, processor string) (*plaidclient.ProcessorTokenCreateResponse, error)
}

// PaymentNetwork is the subset of the Dwolla API used here. Create calls
// return the Location of the new resource, empty when none was sent.
type PaymentNetwork interface {
	CreateCustomer(ctx context.Context, req dwollaclient.CreateCustomerRequest) (string, error)
	CreateFundingSource(ctx context.Context, customerID string, req dwollaclient.CreateFundingSourceRequest) (string, error)
	CreateTransfer(ctx context.Context, req dwollaclient.CreateTransferRequest) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// eventEmitter publishes events without ever failing the calling flow.
type eventEmitter struct {
	publisher EventPublisher
	exchange  string
	logger    *zap.Logger
}

func newEventEmitter(publisher EventPublisher, exchange string, logger *zap.Logger) eventEmitter {
	return eventEmitter{publisher: publisher, exchange: exchange, logger: logger}
}

func (e eventEmitter) emit(ctx context.Context, routingKey string, payload interface{}) {
	if e.publisher == nil || e.exchange == "" {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(publishCtx, e.exchange, routingKey, payload); err != nil {
		e.logger.Warn("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func remoteTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultRemoteTimeout
	}
	return d
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
