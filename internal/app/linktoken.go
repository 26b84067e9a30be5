package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/validation"
	"github.com/Djonahuti/u-bank/pkg/plaidclient"
)

const linkTokenLanguage = "en"

// LinkTokenOptions configures the Plaid Link session.
type LinkTokenOptions struct {
	ClientName   string
	Products     []string
	CountryCodes []string
}

// LinkTokenService mints Plaid Link tokens for the client-side bank picker.
type LinkTokenService struct {
	aggregator AccountAggregator
	options    LinkTokenOptions
	timeout    time.Duration
	logger     *zap.Logger
}

func NewLinkTokenService(aggregator AccountAggregator, options LinkTokenOptions, timeout time.Duration, logger *zap.Logger) *LinkTokenService {
	return &LinkTokenService{
		aggregator: aggregator,
		options:    options,
		timeout:    remoteTimeout(timeout),
		logger:     nopIfNil(logger).With(zap.String("component", "link_token_service")),
	}
}

// CreateLinkToken returns a short-lived link token bound to userID.
func (s *LinkTokenService) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if err := validation.Required("user_id", userID); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.aggregator.CreateLinkToken(callCtx, plaidclient.LinkTokenCreateRequest{
		ClientName:   s.options.ClientName,
		User:         plaidclient.LinkTokenUser{ClientUserID: userID},
		Products:     s.options.Products,
		CountryCodes: s.options.CountryCodes,
		Language:     linkTokenLanguage,
	})
	if err != nil {
		s.logger.Error("failed to create link token", zap.String("user_id", userID), zap.Error(err))
		return "", classifyRemote(err, ErrLinkToken)
	}
	return resp.LinkToken, nil
}
