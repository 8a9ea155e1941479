package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/money"
)

// MetadataRepository handles shared asset metadata persistence.
type MetadataRepository struct {
	pool *pgxpool.Pool
}

// NewMetadataRepository creates a PostgreSQL metadata repository.
func NewMetadataRepository(pool *pgxpool.Pool) *MetadataRepository {
	return &MetadataRepository{pool: pool}
}

const metadataColumns = `id, code, type, currency, asset_id, sector, current_price, current_price_updated_at`

// GetOrCreate inserts the metadata row for the key or returns the
// existing one. assetID pins the row to a single aggregate for
// self-custody assets; shared rows key on (code, type, currency).
func (r *MetadataRepository) GetOrCreate(ctx context.Context, key domain.MetadataKey, assetID *uuid.UUID, initialPrice decimal.Decimal) (*domain.AssetMetaData, bool, error) {
	id := uuid.New()

	var query string
	if assetID != nil {
		query = `
			INSERT INTO asset_metadata (id, code, type, currency, asset_id, current_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (asset_id) WHERE asset_id IS NOT NULL DO NOTHING
		`
	} else {
		query = `
			INSERT INTO asset_metadata (id, code, type, currency, asset_id, current_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code, type, currency) WHERE asset_id IS NULL DO NOTHING
		`
	}
	tag, err := r.pool.Exec(ctx, query,
		id, key.Code, string(key.Type), string(key.Currency), assetID, initialPrice)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert metadata: %w", err)
	}

	md, err := r.get(ctx, key, assetID)
	if err != nil {
		return nil, false, err
	}
	return md, tag.RowsAffected() == 1, nil
}

func (r *MetadataRepository) get(ctx context.Context, key domain.MetadataKey, assetID *uuid.UUID) (*domain.AssetMetaData, error) {
	var row pgx.Row
	if assetID != nil {
		query := fmt.Sprintf(`SELECT %s FROM asset_metadata WHERE asset_id = $1`, metadataColumns)
		row = r.pool.QueryRow(ctx, query, *assetID)
	} else {
		query := fmt.Sprintf(`
			SELECT %s FROM asset_metadata
			WHERE code = $1 AND type = $2 AND currency = $3 AND asset_id IS NULL
		`, metadataColumns)
		row = r.pool.QueryRow(ctx, query, key.Code, string(key.Type), string(key.Currency))
	}
	return scanMetadata(row)
}

// GetForAsset returns the metadata row backing the asset: the pinned
// row for self-custody assets, the shared ticker row otherwise.
func (r *MetadataRepository) GetForAsset(ctx context.Context, asset *domain.Asset) (*domain.AssetMetaData, error) {
	key := domain.MetadataKey{Code: asset.Code, Type: asset.Type, Currency: asset.Currency}
	if asset.HeldInSelfCustody {
		id := asset.ID
		return r.get(ctx, key, &id)
	}
	return r.get(ctx, key, nil)
}

// ListEligibleForRefresh returns metadata rows referenced by at least
// one asset with an open position and last refreshed outside the
// cooldown. Self-custody rows are excluded: their prices are owner
// managed.
func (r *MetadataRepository) ListEligibleForRefresh(ctx context.Context, cooldown time.Duration) ([]*domain.AssetMetaData, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM asset_metadata m
		WHERE m.asset_id IS NULL
		  AND (m.current_price_updated_at IS NULL OR m.current_price_updated_at < $1)
		  AND EXISTS (
			SELECT 1 FROM asset_read_models rm
			WHERE rm.code = m.code AND rm.type = m.type AND rm.currency = m.currency
			  AND rm.quantity > 0
		  )
	`, prefixColumns("m", metadataColumns))
	rows, err := r.pool.Query(ctx, query, time.Now().UTC().Add(-cooldown))
	if err != nil {
		return nil, fmt.Errorf("failed to query refreshable metadata: %w", err)
	}
	defer rows.Close()

	var out []*domain.AssetMetaData
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

// BatchUpdatePrices writes current prices and the refresh timestamp for
// the given rows in one statement.
func (r *MetadataRepository) BatchUpdatePrices(ctx context.Context, rows []*domain.AssetMetaData, updatedAt time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(rows))
	prices := make([]decimal.Decimal, len(rows))
	for i, md := range rows {
		ids[i] = md.ID
		prices[i] = md.CurrentPrice
	}
	query := `
		UPDATE asset_metadata m
		SET current_price = u.price, current_price_updated_at = $3
		FROM (SELECT UNNEST($1::uuid[]) AS id, UNNEST($2::numeric[]) AS price) u
		WHERE m.id = u.id
	`
	if _, err := r.pool.Exec(ctx, query, ids, prices, updatedAt); err != nil {
		return fmt.Errorf("failed to batch update prices: %w", err)
	}
	return nil
}

// AssetIDsForMetadata maps asset id to owner id for every open asset
// referencing one of the given metadata rows, for projection fan-out.
func (r *MetadataRepository) AssetIDsForMetadata(ctx context.Context, rows []*domain.AssetMetaData) (map[uuid.UUID]uuid.UUID, error) {
	if len(rows) == 0 {
		return map[uuid.UUID]uuid.UUID{}, nil
	}
	codes := make([]string, len(rows))
	types := make([]string, len(rows))
	currencies := make([]string, len(rows))
	for i, md := range rows {
		codes[i] = md.Code
		types[i] = string(md.Type)
		currencies[i] = string(md.Currency)
	}
	query := `
		SELECT a.id, a.user_id
		FROM assets a
		JOIN (SELECT UNNEST($1::text[]) AS code, UNNEST($2::text[]) AS type, UNNEST($3::text[]) AS currency) m
		  ON a.code = m.code AND a.type = m.type AND a.currency = m.currency
	`
	result, err := r.pool.Query(ctx, query, codes, types, currencies)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets for metadata: %w", err)
	}
	defer result.Close()

	out := make(map[uuid.UUID]uuid.UUID)
	for result.Next() {
		var assetID, userID uuid.UUID
		if err := result.Scan(&assetID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		out[assetID] = userID
	}
	return out, result.Err()
}

func scanMetadata(row pgx.Row) (*domain.AssetMetaData, error) {
	var (
		md            domain.AssetMetaData
		typ, currency string
	)
	err := row.Scan(&md.ID, &md.Code, &typ, &currency, &md.AssetID, &md.Sector,
		&md.CurrentPrice, &md.CurrentPriceUpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan metadata: %w", err)
	}
	md.Type = domain.AssetType(typ)
	md.Currency = money.Currency(currency)
	return &md, nil
}

// prefixColumns qualifies a comma-separated column list with a table
// alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
