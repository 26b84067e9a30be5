package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Djonahuti/u-bank/internal/domain"
)

// CreateReconciliation records a local write that failed after its remote
// side effect succeeded.
func (r *PostgresRepository) CreateReconciliation(ctx context.Context, item *domain.Reconciliation) error {
	status := item.Status
	if status == "" {
		status = domain.ReconciliationPending
	}
	query := `
		INSERT INTO pending_reconciliations (kind, customer_id, remote_ref, payload, status, last_error)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		RETURNING id, status, attempts, next_attempt_at, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		string(item.Kind), item.CustomerID, item.RemoteRef, string(item.Payload), status, item.LastError,
	).Scan(&item.ID, &item.Status, &item.Attempts, &item.NextAttemptAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation: %w", err)
	}
	return nil
}

// ClaimDueReconciliations moves up to limit due rows to processing. Rows left
// in processing for longer than staleAfter are claimed again.
func (r *PostgresRepository) ClaimDueReconciliations(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.Reconciliation, error) {
	if limit <= 0 {
		limit = 50
	}
	staleAfterSeconds := int(staleAfter.Seconds())
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM pending_reconciliations
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND updated_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE pending_reconciliations AS p
		SET status = 'processing',
			attempts = p.attempts + 1,
			updated_at = NOW()
		FROM candidates
		WHERE p.id = candidates.id
		RETURNING p.id, p.kind, p.customer_id, p.remote_ref, p.payload::text, p.status,
			p.attempts, p.last_error, p.next_attempt_at, p.created_at, p.updated_at
	`
	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to claim reconciliations: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Reconciliation, 0, limit)
	for rows.Next() {
		var (
			item    domain.Reconciliation
			kind    string
			payload string
		)
		if err := rows.Scan(
			&item.ID, &kind, &item.CustomerID, &item.RemoteRef, &payload, &item.Status,
			&item.Attempts, &item.LastError, &item.NextAttemptAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Kind = domain.ReconciliationKind(kind)
		item.Payload = []byte(payload)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) MarkReconciliationResolved(ctx context.Context, id uuid.UUID) error {
	return r.setReconciliationStatus(ctx, id, domain.ReconciliationResolved, nil)
}

func (r *PostgresRepository) MarkReconciliationManual(ctx context.Context, id uuid.UUID, reason string) error {
	reason = truncateReason(reason)
	return r.setReconciliationStatus(ctx, id, domain.ReconciliationManual, &reason)
}

func (r *PostgresRepository) MarkReconciliationFailed(ctx context.Context, id uuid.UUID, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	commandTag, err := r.db.Exec(ctx, `
		UPDATE pending_reconciliations
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, retryAfterSeconds, truncateReason(reason))
	if err != nil {
		return fmt.Errorf("failed to mark reconciliation failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrReconciliationNotFound
	}
	return nil
}

func (r *PostgresRepository) setReconciliationStatus(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	commandTag, err := r.db.Exec(ctx, `
		UPDATE pending_reconciliations
		SET status = $2,
			last_error = COALESCE($3, last_error),
			updated_at = NOW()
		WHERE id = $1
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrReconciliationNotFound
	}
	return nil
}
