package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashfox/toolgate/internal/ports"
)

// Account CRUD, grounded on the teacher's pkg/user/{user,store}.go, trimmed
// of on-call notification-preference fields that have no home in this
// domain.

func (r *WorkspaceRepository) CreateAccount(ctx context.Context, account ports.Account) (ports.Account, error) {
	const query = `INSERT INTO accounts (account_id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING account_id, email, name, created_at, updated_at`
	row := r.pool.QueryRow(ctx, query, account.AccountID, account.Email, account.Name)
	return scanAccount(row)
}

func (r *WorkspaceRepository) GetAccount(ctx context.Context, accountID string) (*ports.Account, error) {
	const query = `SELECT account_id, email, name, created_at, updated_at FROM accounts WHERE account_id = $1`
	acc, err := scanAccount(r.pool.QueryRow(ctx, query, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &acc, nil
}

func (r *WorkspaceRepository) UpdateAccount(ctx context.Context, account ports.Account) error {
	const query = `UPDATE accounts SET email = $2, name = $3, updated_at = now() WHERE account_id = $1`
	_, err := r.pool.Exec(ctx, query, account.AccountID, account.Email, account.Name)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return nil
}

func scanAccount(row rowScanner) (ports.Account, error) {
	var a ports.Account
	err := row.Scan(&a.AccountID, &a.Email, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
