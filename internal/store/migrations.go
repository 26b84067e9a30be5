package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lopezator/migrator"
)

var postgresMigrations = migrator.Migrations(
	execsql(
		"enable_pgcrypto",
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	),
	execsql(
		"create_customers",
		`CREATE TABLE IF NOT EXISTS customers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			zip_code TEXT NOT NULL DEFAULT '',
			date_of_birth TEXT NOT NULL DEFAULT '',
			nin TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			dwolla_customer_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT customers_user_id_key UNIQUE (user_id),
			CONSTRAINT customers_dwolla_customer_id_key UNIQUE (dwolla_customer_id)
		)`,
	),
	execsql(
		"create_banks",
		`CREATE TABLE IF NOT EXISTS banks (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			customer_id UUID NOT NULL REFERENCES customers(id),
			plaid_access_token TEXT NOT NULL,
			account_id TEXT NOT NULL,
			account_name TEXT NOT NULL DEFAULT '',
			balance JSONB NOT NULL DEFAULT '{}'::jsonb,
			funding_source_url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT banks_funding_source_url_key UNIQUE (funding_source_url)
		)`,
	),
	execsql(
		"create_banks_customer_index",
		`CREATE INDEX IF NOT EXISTS banks_customer_id_idx ON banks (customer_id)`,
	),
	execsql(
		"create_transactions",
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			customer_id UUID NOT NULL REFERENCES customers(id),
			bank_id UUID REFERENCES banks(id),
			amount NUMERIC(14, 2) NOT NULL CHECK (amount > 0),
			transaction_type TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			dwolla_transaction_id TEXT NOT NULL,
			dwolla_transfer_url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT transactions_dwolla_transaction_id_key UNIQUE (dwolla_transaction_id)
		)`,
	),
	execsql(
		"create_transactions_customer_index",
		`CREATE INDEX IF NOT EXISTS transactions_customer_created_idx ON transactions (customer_id, created_at DESC)`,
	),
	execsql(
		"create_pending_reconciliations",
		`CREATE TABLE IF NOT EXISTS pending_reconciliations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			kind TEXT NOT NULL,
			customer_id UUID NOT NULL,
			remote_ref TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	),
	execsql(
		"create_pending_reconciliations_due_index",
		`CREATE INDEX IF NOT EXISTS pending_reconciliations_due_idx ON pending_reconciliations (status, next_attempt_at)`,
	),
)

func execsql(name, raw string) *migrator.MigrationNoTx {
	return &migrator.MigrationNoTx{
		Name: name,
		Func: func(db *sql.DB) error {
			_, err := db.Exec(raw)
			return err
		},
	}
}

// Migrate applies pending schema migrations through the pgx database/sql driver.
func Migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	m, err := migrator.New(postgresMigrations)
	if err != nil {
		return fmt.Errorf("failed to build migrator: %w", err)
	}
	if err := m.Migrate(db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
