package match

import (
	"context"
	"fmt"
	"strings"

	"kanon/internal/db"
)

// CatalogDB backs LocalCatalog with the canonical series table.
type CatalogDB struct {
	pool *db.Pool
}

func NewCatalogDB(pool *db.Pool) *CatalogDB {
	return &CatalogDB{pool: pool}
}

func (c *CatalogDB) FindByExactTitle(ctx context.Context, rawTitle string) (*LocalSeries, error) {
	if c == nil || c.pool == nil {
		return nil, fmt.Errorf("catalog is not initialized")
	}

	trimmed := strings.TrimSpace(rawTitle)
	if trimmed == "" {
		return nil, nil
	}

	const q = `
SELECT series_id, title
FROM catalog.canonical_series
WHERE lower(title) = lower($1)
  AND deleted_at IS NULL
ORDER BY series_id
LIMIT 1
`

	var row LocalSeries
	if err := c.pool.QueryRow(ctx, q, trimmed).Scan(&row.SeriesID, &row.Title); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find series by exact title: %w", err)
	}
	return &row, nil
}
