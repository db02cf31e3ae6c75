package cacheinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// cacheRow is the durable tier's storage model. The table is a plain
// key-value map; entry semantics (payload, validity, loaded flag) live
// in the value envelope, with ExpiresAt duplicated out of it so expired
// rows can be filtered and reaped in SQL.
type cacheRow struct {
	bun.BaseModel `bun:"table:rc_cache_entries,alias:ce"`

	Key       string    `bun:"key,pk"`
	Value     []byte    `bun:"value,notnull"`
	ExpiresAt time.Time `bun:"expires_at,nullzero"`
}

// bunBackend implements the durable cache.Backend over a bun database.
type bunBackend struct {
	db  *bun.DB
	now func() time.Time
}

// NewSQLiteBackend opens (or creates) a sqlite-backed durable tier at
// the given DSN. Use ":memory:" for an ephemeral store.
func NewSQLiteBackend(ctx context.Context, dsn string) (*bunBackend, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	return NewBunBackend(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
}

// NewPostgresBackend opens a postgres-backed durable tier at the given
// DSN, suitable when several application processes share one cache.
func NewPostgresBackend(ctx context.Context, dsn string) (*bunBackend, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return NewBunBackend(ctx, bun.NewDB(sqldb, pgdialect.New()))
}

// NewBunBackend wraps an existing bun DB, creating the storage table if
// it does not exist yet.
func NewBunBackend(ctx context.Context, db *bun.DB) (*bunBackend, error) {
	if _, err := db.NewCreateTable().Model((*cacheRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, err
	}
	return &bunBackend{db: db, now: time.Now}, nil
}

// WithClock overrides the backend's time source. Tests use this to
// simulate expiry.
func (b *bunBackend) WithClock(now func() time.Time) *bunBackend {
	b.now = now
	return b
}

// Get returns the bytes stored under key. Rows past their expiry are
// deleted and reported as a miss.
func (b *bunBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := new(cacheRow)
	err := b.db.NewSelect().Model(row).Where("ce.key = ?", key).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if b.expired(row) {
		if err := b.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return row.Value, true, nil
}

// GetMulti resolves all keys in one query. Expired rows are skipped and
// reaped in a single trailing delete.
func (b *bunBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var rows []cacheRow
	err := b.db.NewSelect().Model(&rows).Where("ce.key IN (?)", bun.In(keys)).Scan(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string][]byte, len(rows))
	var stale []string
	for i := range rows {
		if b.expired(&rows[i]) {
			stale = append(stale, rows[i].Key)
			continue
		}
		results[rows[i].Key] = rows[i].Value
	}
	if len(stale) > 0 {
		if _, err := b.db.NewDelete().Model((*cacheRow)(nil)).Where("key IN (?)", bun.In(stale)).Exec(ctx); err != nil {
			return nil, err
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

// Set upserts value under key with the given ttl (0 = no expiry).
func (b *bunBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	row := &cacheRow{Key: key, Value: value}
	if ttl > 0 {
		row.ExpiresAt = b.now().Add(ttl)
	}
	_, err := b.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

// Delete removes key from the tier.
func (b *bunBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.NewDelete().Model((*cacheRow)(nil)).Where("key = ?", key).Exec(ctx)
	return err
}

func (b *bunBackend) expired(row *cacheRow) bool {
	return !row.ExpiresAt.IsZero() && b.now().After(row.ExpiresAt)
}
