package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/store"
	"github.com/Djonahuti/u-bank/internal/validation"
)

const dashboardTransactionLimit = 50

// CustomerService owns the local customer profile and the dashboard reads.
type CustomerService struct {
	repo   store.Repository
	logger *zap.Logger
}

func NewCustomerService(repo store.Repository, logger *zap.Logger) *CustomerService {
	return &CustomerService{
		repo:   repo,
		logger: nopIfNil(logger).With(zap.String("component", "customer_service")),
	}
}

// CreateProfile stores the user's profile. Address formats are checked later,
// when the payment customer is provisioned.
func (s *CustomerService) CreateProfile(ctx context.Context, userID string, req domain.CreateCustomerRequest) (*domain.Customer, error) {
	customer := &domain.Customer{
		UserID:      strings.TrimSpace(userID),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Address:     strings.TrimSpace(req.Address),
		City:        strings.TrimSpace(req.City),
		State:       strings.TrimSpace(req.State),
		ZipCode:     strings.TrimSpace(req.ZipCode),
		DateOfBirth: strings.TrimSpace(req.DateOfBirth),
		NIN:         strings.TrimSpace(req.NIN),
		Email:       strings.TrimSpace(req.Email),
	}
	if region, ok := validation.NormalizeRegionCode(customer.State); ok {
		customer.State = region
	}

	for _, field := range []struct{ name, value string }{
		{"user_id", customer.UserID},
		{"first_name", customer.FirstName},
		{"last_name", customer.LastName},
		{"email", customer.Email},
	} {
		if err := validation.Required(field.name, field.value); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		if errors.Is(err, store.ErrCustomerExists) {
			return nil, ErrProfileExists
		}
		return nil, fmt.Errorf("failed to create customer profile: %w", err)
	}

	s.logger.Info("customer profile created", zap.String("customer_id", customer.ID.String()), zap.String("user_id", customer.UserID))
	return customer, nil
}

// Dashboard loads the user's customer with its banks and recent transactions.
func (s *CustomerService) Dashboard(ctx context.Context, userID string) (*domain.Dashboard, error) {
	customer, err := s.findByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	banks, err := s.repo.ListBanksByCustomerID(ctx, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}
	transactions, err := s.repo.ListTransactionsByCustomerID(ctx, customer.ID, dashboardTransactionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	if banks == nil {
		banks = []domain.Bank{}
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	return &domain.Dashboard{Customer: customer, Banks: banks, Transactions: transactions}, nil
}

// ResolveCustomer returns the customer id a request may act on. An explicit
// id must belong to the authenticated user.
func (s *CustomerService) ResolveCustomer(ctx context.Context, userID, requestedCustomerID string) (uuid.UUID, error) {
	customer, err := s.findByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}

	requested := strings.TrimSpace(requestedCustomerID)
	if requested == "" {
		return customer.ID, nil
	}
	requestedID, err := uuid.Parse(requested)
	if err != nil {
		return uuid.Nil, &validation.FieldError{Field: "customer_id", Message: "customer_id must be a valid UUID"}
	}
	if requestedID != customer.ID {
		s.logger.Warn("customer id does not belong to user", zap.String("user_id", userID), zap.String("customer_id", requested))
		return uuid.Nil, ErrForbidden
	}
	return customer.ID, nil
}

func (s *CustomerService) findByUser(ctx context.Context, userID string) (*domain.Customer, error) {
	customer, err := s.repo.FindCustomerByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return nil, ErrProfileIncomplete
		}
		return nil, fmt.Errorf("failed to load customer for user %s: %w", userID, err)
	}
	return customer, nil
}
