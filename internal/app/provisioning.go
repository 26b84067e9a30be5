package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/store"
	"github.com/Djonahuti/u-bank/internal/validation"
	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
)

// Provisioner guarantees a local customer has a payment-network identity,
// creating it on first use.
type Provisioner struct {
	repo       store.Repository
	network    PaymentNetwork
	reconciler *Reconciler
	timeout    time.Duration
	logger     *zap.Logger
}

func NewProvisioner(repo store.Repository, network PaymentNetwork, reconciler *Reconciler, timeout time.Duration, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		repo:       repo,
		network:    network,
		reconciler: reconciler,
		timeout:    remoteTimeout(timeout),
		logger:     nopIfNil(logger).With(zap.String("component", "provisioner")),
	}
}

// EnsurePaymentCustomer returns the customer's payment-network identifier,
// creating the remote customer when none is recorded yet.
func (p *Provisioner) EnsurePaymentCustomer(ctx context.Context, customerID uuid.UUID) (string, error) {
	customer, err := p.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
		return "", fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}
	return p.ensure(ctx, customer)
}

func (p *Provisioner) ensure(ctx context.Context, customer *domain.Customer) (string, error) {
	region, err := checkCustomerProfile(customer)
	if err != nil {
		return "", err
	}

	if customer.HasPaymentIdentity() {
		return *customer.DwollaCustomerID, nil
	}

	dwollaCustomerID, err := p.createRemoteCustomer(ctx, customer, region)
	if err != nil {
		return "", err
	}
	return p.persistIdentifier(ctx, customer, dwollaCustomerID)
}

func checkCustomerProfile(customer *domain.Customer) (string, error) {
	region, err := validation.CheckProfile(customer.State, customer.ZipCode, customer.NIN)
	if err != nil {
		return "", err
	}
	required := []struct{ field, value string }{
		{"first_name", customer.FirstName},
		{"last_name", customer.LastName},
		{"email", customer.Email},
		{"date_of_birth", customer.DateOfBirth},
		{"address", customer.Address},
		{"city", customer.City},
	}
	for _, r := range required {
		if err := validation.Required(r.field, r.value); err != nil {
			return "", err
		}
	}
	return region, nil
}

func (p *Provisioner) createRemoteCustomer(ctx context.Context, customer *domain.Customer, region string) (string, error) {
	req := dwollaclient.CreateCustomerRequest{
		FirstName:   strings.TrimSpace(customer.FirstName),
		LastName:    strings.TrimSpace(customer.LastName),
		Email:       strings.TrimSpace(customer.Email),
		Type:        dwollaclient.CustomerTypePersonal,
		Address1:    strings.TrimSpace(customer.Address),
		City:        strings.TrimSpace(customer.City),
		State:       region,
		PostalCode:  strings.TrimSpace(customer.ZipCode),
		DateOfBirth: strings.TrimSpace(customer.DateOfBirth),
		SSN:         strings.TrimSpace(customer.NIN),
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	location, err := p.network.CreateCustomer(callCtx, req)
	if err != nil {
		var apiErr *dwollaclient.APIError
		if errors.As(err, &apiErr) {
			// A duplicate means an earlier attempt created the customer but never
			// recorded it locally; adopt that identity.
			if href, ok := apiErr.DuplicateResourceHref(); ok {
				existingID := dwollaclient.ResourceID(href)
				p.logger.Warn("payment customer already exists; adopting existing identity",
					zap.String("customer_id", customer.ID.String()),
					zap.String("dwolla_customer_id", existingID),
				)
				return existingID, nil
			}
			return "", &RemoteDetailError{Detail: apiErr.Detail(), Err: classifyRemote(err, ErrRemoteProvisioning)}
		}
		return "", classifyRemote(err, ErrRemoteProvisioning)
	}

	dwollaCustomerID := dwollaclient.ResourceID(location)
	if dwollaCustomerID == "" {
		return "", fmt.Errorf("%w: customer creation returned no location", ErrRemoteProvisioning)
	}

	p.logger.Info("payment customer created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("dwolla_customer_id", dwollaCustomerID),
	)
	return dwollaCustomerID, nil
}

func (p *Provisioner) persistIdentifier(ctx context.Context, customer *domain.Customer, dwollaCustomerID string) (string, error) {
	applied, err := p.repo.SetDwollaCustomerID(ctx, customer.ID, dwollaCustomerID)
	if err != nil {
		manual := errors.Is(err, store.ErrDwollaCustomerIDTaken)
		return "", p.reconciler.recordCustomerIdentifier(ctx, domain.ReconcileCustomerIdentifier, customer.ID, dwollaCustomerID, "", manual, err)
	}
	if applied {
		customer.DwollaCustomerID = &dwollaCustomerID
		return dwollaCustomerID, nil
	}

	// Another request set the identifier between our read and our write.
	current, err := p.repo.FindCustomerByID(ctx, customer.ID)
	if err == nil && current.HasPaymentIdentity() && *current.DwollaCustomerID == dwollaCustomerID {
		customer.DwollaCustomerID = current.DwollaCustomerID
		return dwollaCustomerID, nil
	}
	existingID := ""
	if err == nil {
		existingID = derefString(current.DwollaCustomerID)
	}
	return "", p.reconciler.recordCustomerIdentifier(ctx, domain.ReconcileOrphanedCustomer, customer.ID, dwollaCustomerID, existingID, true, ErrConcurrentProvisioning)
}
