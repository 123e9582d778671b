package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS price_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    decimals INTEGER NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_samples_feed ON price_samples(feed, observed_at);
`

// ErrHistoryPathRequired is returned when the history DSN is missing.
var ErrHistoryPathRequired = errors.New("oracle history path must be configured")

// History persists every observed quote so operators can audit the prices
// positions were valued with.
type History struct {
	db *sql.DB
}

// OpenHistory opens a sqlite-compatible DSN and applies the schema.
func OpenHistory(dsn string) (*History, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrHistoryPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Record stores q for feed.
func (h *History) Record(ctx context.Context, feed string, q Quote) error {
	if h == nil {
		return fmt.Errorf("history not configured")
	}
	if q.Price == nil {
		return fmt.Errorf("quote missing price")
	}
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO price_samples(feed, source, price, decimals, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, normaliseID(feed), strings.ToLower(q.Source), q.Price.String(), int(q.Decimals), q.UpdatedAt.UTC().Unix(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Recent returns up to limit samples for feed, newest first.
func (h *History) Recent(ctx context.Context, feed string, limit int) ([]Quote, error) {
	if h == nil {
		return nil, fmt.Errorf("history not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
        SELECT source, price, decimals, observed_at FROM price_samples
        WHERE feed = ? ORDER BY observed_at DESC, id DESC LIMIT ?
    `, normaliseID(feed), limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var out []Quote
	for rows.Next() {
		var (
			source   string
			priceStr string
			decimals int
			observed int64
		)
		if err := rows.Scan(&source, &priceStr, &decimals, &observed); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		price, ok := new(big.Int).SetString(priceStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid stored price %q", priceStr)
		}
		out = append(out, Quote{Price: price, Decimals: uint8(decimals), UpdatedAt: time.Unix(observed, 0).UTC(), Source: source})
	}
	return out, rows.Err()
}
