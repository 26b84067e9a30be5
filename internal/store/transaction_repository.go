package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Djonahuti/u-bank/internal/domain"
)

// CreateTransaction records a transfer accepted by the payment network.
// Amounts travel as text so NUMERIC keeps full precision.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			customer_id, bank_id, amount, transaction_type, description, status,
			dwolla_transaction_id, dwolla_transfer_url
		)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.CustomerID, tx.BankID, tx.Amount.String(), tx.TransactionType, tx.Description, tx.Status,
		tx.DwollaTransactionID, tx.DwollaTransferURL,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "transactions_dwolla_transaction_id_key") {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListTransactionsByCustomerID returns the newest transactions first.
func (r *PostgresRepository) ListTransactionsByCustomerID(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, customer_id, bank_id, amount::text, transaction_type, description, status,
			dwolla_transaction_id, dwolla_transfer_url, created_at
		FROM transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		var (
			tx     domain.Transaction
			amount string
		)
		if err := rows.Scan(
			&tx.ID, &tx.CustomerID, &tx.BankID, &amount, &tx.TransactionType, &tx.Description, &tx.Status,
			&tx.DwollaTransactionID, &tx.DwollaTransferURL, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount for transaction %s: %w", tx.ID, err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}
