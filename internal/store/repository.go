/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * operations required by the banking service, and its PostgreSQL implementation.
 * By depending on the interface, the app layer stays independent of pgx and is
 * easy to test with stubs.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver, pool and error codes.
 * - github.com/google/uuid: Row identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Djonahuti/u-bank/internal/domain"
)

var (
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrCustomerExists         = errors.New("customer profile already exists")
	ErrDwollaCustomerIDTaken  = errors.New("dwolla customer id already assigned to another customer")
	ErrBankNotFound           = errors.New("bank not found")
	ErrDuplicateFundingSource = errors.New("funding source already linked")
	ErrDuplicateTransaction   = errors.New("transaction already recorded")
	ErrReconciliationNotFound = errors.New("reconciliation not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Customer methods
	CreateCustomer(ctx context.Context, customer *domain.Customer) error
	FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error)
	FindCustomerByUserID(ctx context.Context, userID string) (*domain.Customer, error)
	// SetDwollaCustomerID sets the identifier only while it is still null and
	// reports whether this call set it.
	SetDwollaCustomerID(ctx context.Context, customerID uuid.UUID, dwollaCustomerID string) (bool, error)

	// Bank methods
	CreateBank(ctx context.Context, bank *domain.Bank) error
	FindBankByID(ctx context.Context, customerID, bankID uuid.UUID) (*domain.Bank, error)
	FindBankByFundingSourceURL(ctx context.Context, customerID uuid.UUID, fundingSourceURL string) (*domain.Bank, error)
	ListBanksByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Bank, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactionsByCustomerID(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.Transaction, error)

	// Reconciliation methods
	CreateReconciliation(ctx context.Context, item *domain.Reconciliation) error
	ClaimDueReconciliations(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.Reconciliation, error)
	MarkReconciliationResolved(ctx context.Context, id uuid.UUID) error
	MarkReconciliationFailed(ctx context.Context, id uuid.UUID, retryAfterSeconds int, reason string) error
	MarkReconciliationManual(ctx context.Context, id uuid.UUID, reason string) error
}

// TokenSealer encrypts secrets before they are written and decrypts them on read.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// PostgresRepository is the PostgreSQL implementation of the Repository.
type PostgresRepository struct {
	db     *pgxpool.Pool
	sealer TokenSealer
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, sealer TokenSealer) *PostgresRepository {
	return &PostgresRepository{db: db, sealer: sealer}
}

// isUniqueViolation reports a unique_violation, optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func truncateReason(reason string) string {
	if len(reason) > 2000 {
		return reason[:2000]
	}
	return reason
}
