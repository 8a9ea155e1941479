package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/money"
)

// RateRepository is the persistent store behind the conversion-rate
// cache.
type RateRepository struct {
	pool *pgxpool.Pool
}

// NewRateRepository creates a PostgreSQL rate repository.
func NewRateRepository(pool *pgxpool.Pool) *RateRepository {
	return &RateRepository{pool: pool}
}

// Get returns the stored rate for the currency pair.
func (r *RateRepository) Get(ctx context.Context, from, to money.Currency) (*domain.ConversionRate, error) {
	query := `
		SELECT from_currency, to_currency, rate, updated_at
		FROM conversion_rates
		WHERE from_currency = $1 AND to_currency = $2
	`
	var (
		rate     domain.ConversionRate
		fromS, toS string
	)
	err := r.pool.QueryRow(ctx, query, string(from), string(to)).Scan(
		&fromS, &toS, &rate.Rate, &rate.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversion rate: %w", err)
	}
	rate.From = money.Currency(fromS)
	rate.To = money.Currency(toS)
	return &rate, nil
}

// Upsert replaces the stored rate for the pair.
func (r *RateRepository) Upsert(ctx context.Context, rate *domain.ConversionRate) error {
	query := `
		INSERT INTO conversion_rates (from_currency, to_currency, rate, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_currency, to_currency) DO UPDATE SET
		       rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		string(rate.From), string(rate.To), rate.Rate, rate.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert conversion rate: %w", err)
	}
	return nil
}
