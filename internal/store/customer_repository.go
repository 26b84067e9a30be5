package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Djonahuti/u-bank/internal/domain"
)

const customerColumns = `
	id, user_id, first_name, last_name, address, city, state, zip_code,
	date_of_birth, nin, email, dwolla_customer_id, created_at
`

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Address, &c.City, &c.State, &c.ZipCode,
		&c.DateOfBirth, &c.NIN, &c.Email, &c.DwollaCustomerID, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts a customer profile and fills in its id and created_at.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	query := `
		INSERT INTO customers (user_id, first_name, last_name, address, city, state, zip_code, date_of_birth, nin, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		customer.UserID, customer.FirstName, customer.LastName, customer.Address, customer.City,
		customer.State, customer.ZipCode, customer.DateOfBirth, customer.NIN, customer.Email,
	).Scan(&customer.ID, &customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "customers_user_id_key") {
			return ErrCustomerExists
		}
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	return scanCustomer(r.db.QueryRow(ctx, query, customerID))
}

func (r *PostgresRepository) FindCustomerByUserID(ctx context.Context, userID string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE user_id = $1 LIMIT 1`
	return scanCustomer(r.db.QueryRow(ctx, query, userID))
}

// SetDwollaCustomerID performs the null-to-value transition of the payment
// network identifier. It returns false when another writer already set it.
func (r *PostgresRepository) SetDwollaCustomerID(ctx context.Context, customerID uuid.UUID, dwollaCustomerID string) (bool, error) {
	query := `
		UPDATE customers
		SET dwolla_customer_id = $1
		WHERE id = $2 AND dwolla_customer_id IS NULL
	`
	commandTag, err := r.db.Exec(ctx, query, dwollaCustomerID, customerID)
	if err != nil {
		if isUniqueViolation(err, "customers_dwolla_customer_id_key") {
			return false, ErrDwollaCustomerIDTaken
		}
		return false, fmt.Errorf("failed to set dwolla customer id: %w", err)
	}
	if commandTag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check customer: %w", err)
	}
	if !exists {
		return false, ErrCustomerNotFound
	}
	return false, nil
}
