package database

import (
	"context"
	"fmt"
)

// Table names shared by the repositories
const (
	UsersTable        = "users"
	TransactionsTable = "payment_transactions"
)

// users is a projection of the account record owned by the auth service.
// Only the entitlement columns are written here.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		premium_since TIMESTAMP NULL,
		package_id TEXT NOT NULL DEFAULT '',
		last_session_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		package_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		session_status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		entitled_at TIMESTAMP NULL,
		reconciled_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_transactions_user ON payment_transactions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_transactions_unsettled ON payment_transactions (entitled_at, created_at)`,
}

// Migrate creates the tables used by the payment confirmation flow
func (c *Client) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed applying migration %d: %w", i+1, err)
		}
	}
	return nil
}
