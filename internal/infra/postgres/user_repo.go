package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barbosaigor/investrack/internal/domain"
)

// UserRepository handles account and exchange-credential persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a PostgreSQL user repository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Get retrieves a user by id.
func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, subscription_status, subscription_valid_until, trial_ends_at, created_at
		FROM users
		WHERE id = $1
	`
	var (
		u      domain.User
		status string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &status, &u.SubscriptionValidUntil, &u.TrialEndsAt, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.SubscriptionStatus = domain.SubscriptionStatus(status)
	return &u, nil
}

// UpdateSubscription mirrors payment-provider state onto the user row.
func (r *UserRepository) UpdateSubscription(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, validUntil *time.Time) error {
	query := `
		UPDATE users
		SET subscription_status = $2, subscription_valid_until = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, string(status), validUntil)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListIDs returns every user id for per-user job fan-out.
func (r *UserRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetCredential retrieves the user's encrypted credentials for one
// exchange.
func (r *UserRepository) GetCredential(ctx context.Context, userID uuid.UUID, exchange string) (*domain.ExchangeCredential, error) {
	query := `
		SELECT id, user_id, exchange, api_key, api_secret, passphrase, last_synced_at, created_at
		FROM exchange_credentials
		WHERE user_id = $1 AND exchange = $2
	`
	var cred domain.ExchangeCredential
	err := r.pool.QueryRow(ctx, query, userID, exchange).Scan(
		&cred.ID, &cred.UserID, &cred.Exchange, &cred.APIKey, &cred.APISecret,
		&cred.Passphrase, &cred.LastSyncedAt, &cred.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential inserts or replaces the user's credentials for the
// exchange.
func (r *UserRepository) SaveCredential(ctx context.Context, cred *domain.ExchangeCredential) error {
	query := `
		INSERT INTO exchange_credentials (id, user_id, exchange, api_key, api_secret, passphrase, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, exchange) DO UPDATE SET
		       api_key = EXCLUDED.api_key,
		       api_secret = EXCLUDED.api_secret,
		       passphrase = EXCLUDED.passphrase
	`
	_, err := r.pool.Exec(ctx, query,
		cred.ID, cred.UserID, cred.Exchange, cred.APIKey, cred.APISecret,
		cred.Passphrase, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// TouchCredentialSync stamps the start of the exchange sync window.
func (r *UserRepository) TouchCredentialSync(ctx context.Context, credentialID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exchange_credentials SET last_synced_at = $2 WHERE id = $1`, credentialID, at)
	if err != nil {
		return fmt.Errorf("failed to touch credential sync: %w", err)
	}
	return nil
}
