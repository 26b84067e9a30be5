package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Djonahuti/u-bank/internal/domain"
)

const bankColumns = `
	id, customer_id, plaid_access_token, account_id, account_name, balance::text, funding_source_url, created_at
`

func (r *PostgresRepository) scanBank(row pgx.Row) (*domain.Bank, error) {
	var (
		b           domain.Bank
		sealedToken string
		balanceJSON string
	)
	err := row.Scan(&b.ID, &b.CustomerID, &sealedToken, &b.AccountID, &b.AccountName, &balanceJSON, &b.FundingSourceURL, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBankNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(balanceJSON), &b.Balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance for bank %s: %w", b.ID, err)
	}
	token, err := r.sealer.Open(sealedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to open access token for bank %s: %w", b.ID, err)
	}
	b.AccessToken = token
	return &b, nil
}

// CreateBank seals the access token and inserts the bank row.
func (r *PostgresRepository) CreateBank(ctx context.Context, bank *domain.Bank) error {
	sealedToken, err := r.sealer.Seal(bank.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	balance, err := json.Marshal(bank.Balance)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}

	query := `
		INSERT INTO banks (customer_id, plaid_access_token, account_id, account_name, balance, funding_source_url)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query,
		bank.CustomerID, sealedToken, bank.AccountID, bank.AccountName, string(balance), bank.FundingSourceURL,
	).Scan(&bank.ID, &bank.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "banks_funding_source_url_key") {
			return ErrDuplicateFundingSource
		}
		return fmt.Errorf("failed to insert bank: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindBankByID(ctx context.Context, customerID, bankID uuid.UUID) (*domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks WHERE id = $1 AND customer_id = $2`
	return r.scanBank(r.db.QueryRow(ctx, query, bankID, customerID))
}

func (r *PostgresRepository) FindBankByFundingSourceURL(ctx context.Context, customerID uuid.UUID, fundingSourceURL string) (*domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks WHERE funding_source_url = $1 AND customer_id = $2`
	return r.scanBank(r.db.QueryRow(ctx, query, fundingSourceURL, customerID))
}

func (r *PostgresRepository) ListBanksByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks WHERE customer_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}
	defer rows.Close()

	banks := make([]domain.Bank, 0)
	for rows.Next() {
		bank, err := r.scanBank(rows)
		if err != nil {
			return nil, err
		}
		banks = append(banks, *bank)
	}
	return banks, rows.Err()
}
