// Package store persists raw feature-query results between runs so that
// repeated invocations against the same upstream revision skip the slow
// network round trips.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// SQLiteCache implements metrics.Cache using modernc.org/sqlite.
type SQLiteCache struct {
	db       *sql.DB
	revision string
	ttl      time.Duration
}

// DefaultTTL is how long cached query results stay valid. Feature data moves
// slowly; a week keeps iterative runs fast without serving stale counts for
// long.
const DefaultTTL = 7 * 24 * time.Hour

// NewSQLite opens (creating if needed) a cache database at the given path and
// configures WAL mode. The revision string partitions entries: queries cached
// under a different revision are invisible.
func NewSQLite(dsn, revision string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	c := &SQLiteCache{db: db, revision: revision, ttl: DefaultTTL}
	if err := c.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS query_cache (
	commune_id TEXT NOT NULL,
	category   TEXT NOT NULL,
	revision   TEXT NOT NULL,
	elements   TEXT NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (commune_id, category, revision)
);

CREATE INDEX IF NOT EXISTS idx_query_cache_expires_at ON query_cache(expires_at);
`

func (c *SQLiteCache) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Get returns the cached elements for a commune/category pair, or ok=false on
// a miss. Expired rows count as misses.
func (c *SQLiteCache) Get(ctx context.Context, communeID, category string) ([]model.GeoElement, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT elements FROM query_cache
		 WHERE commune_id = ? AND category = ? AND revision = ? AND expires_at > datetime('now')`,
		communeID, category, c.revision,
	)

	var elemsJSON string
	err := row.Scan(&elemsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "store: get %s/%s", communeID, category)
	}

	var elems []model.GeoElement
	if err := json.Unmarshal([]byte(elemsJSON), &elems); err != nil {
		return nil, false, eris.Wrap(err, "store: unmarshal elements")
	}
	return elems, true, nil
}

// Put stores query results, replacing any previous entry for the same key.
func (c *SQLiteCache) Put(ctx context.Context, communeID, category string, elems []model.GeoElement) error {
	elemsJSON, err := json.Marshal(elems)
	if err != nil {
		return eris.Wrap(err, "store: marshal elements")
	}

	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO query_cache (commune_id, category, revision, elements, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (commune_id, category, revision) DO UPDATE
		 SET elements = excluded.elements, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		communeID, category, c.revision, string(elemsJSON), now, now.Add(c.ttl),
	)
	return eris.Wrapf(err, "store: put %s/%s", communeID, category)
}

// DeleteExpired removes stale rows and returns how many were dropped.
func (c *SQLiteCache) DeleteExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM query_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "store: rows affected")
}
