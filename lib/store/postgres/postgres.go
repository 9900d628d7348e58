// Package postgres implements the store interface for PostgreSQL. It is the primary backend: the
// additive counter upsert relies on ON CONFLICT increments so concurrent writers never
// read-modify-write a bucket, and the per-hour user set relies on ON CONFLICT DO NOTHING so
// re-observing a user is a no-op.
//
// Expected tables: dapps, addresses, dapp_addresses, hourly_stats, hourly_users, processed_txs
// and sync_runs, with uniqueness constraints matching the store models (see migrations in ops).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/NodeSphereGL/Story-Dapp/lib/store"
)

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// UpsertDapp inserts the dApp or refreshes its title, active flag and priority, returning its id.
// Rows are never deleted; deactivation is done through the active flag.
func (p *Postgres) UpsertDapp(ctx context.Context, d store.Dapp) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO dapps (slug, title, active, priority, total_tx, updated)
		VALUES ($1, $2, $3, $4, 0, NOW())
		ON CONFLICT (slug)
		DO UPDATE SET title = EXCLUDED.title,
		              active = EXCLUDED.active,
		              priority = EXCLUDED.priority,
		              updated = NOW()
		RETURNING id
	`, d.Slug, d.Title, d.Active, d.Priority).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("could not upsert dapp %s: %w", d.Slug, err)
	}

	return id, nil
}

// GetDapps returns all dApps, or only the active ones, ordered by priority.
func (p *Postgres) GetDapps(ctx context.Context, onlyActive bool) ([]store.Dapp, error) {
	q := `SELECT id, slug, title, active, priority, total_tx, updated FROM dapps`
	if onlyActive {
		q += ` WHERE active`
	}
	q += ` ORDER BY priority, slug`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("could not get dapps: %w", err)
	}
	defer rows.Close()

	return scanDapps(rows)
}

// DappsBySlugs returns the dApps matching any of the given slugs.
func (p *Postgres) DappsBySlugs(ctx context.Context, slugs []string) ([]store.Dapp, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, slug, title, active, priority, total_tx, updated
		FROM dapps
		WHERE slug = ANY($1)
		ORDER BY priority, slug
	`, pq.Array(slugs))
	if err != nil {
		return nil, fmt.Errorf("could not get dapps by slugs: %w", err)
	}
	defer rows.Close()

	return scanDapps(rows)
}

func scanDapps(rows *sql.Rows) ([]store.Dapp, error) {
	var out []store.Dapp
	for rows.Next() {
		var d store.Dapp
		if err := rows.Scan(&d.ID, &d.Slug, &d.Title, &d.Active, &d.Priority, &d.TotalTx, &d.Updated); err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

// AddDappTotalTx adds delta to the informational lifetime transaction counter.
func (p *Postgres) AddDappTotalTx(ctx context.Context, dappID int64, delta int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE dapps SET total_tx = total_tx + $2, updated = NOW() WHERE id = $1
	`, dappID, delta)

	return err
}

// UpsertAddress inserts the address or refreshes its name, type and last-seen timestamp,
// returning its id. Uniqueness is on (network, addr); Addr must already be lower-cased.
func (p *Postgres) UpsertAddress(ctx context.Context, a store.Address) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO addresses (network, addr, name, type, last_seen)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NOW())
		ON CONFLICT (network, addr)
		DO UPDATE SET name = COALESCE(EXCLUDED.name, addresses.name),
		              type = COALESCE(EXCLUDED.type, addresses.type),
		              last_seen = NOW()
		RETURNING id
	`, a.Network, a.Addr, a.Name, a.Type).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("could not upsert address %s: %w", a.Addr, err)
	}

	return id, nil
}

// LinkDappAddress creates the m:n link once; re-linking an existing pair is a no-op.
func (p *Postgres) LinkDappAddress(ctx context.Context, dappID, addrID int64, role string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dapp_addresses (dapp_id, address_id, role)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (dapp_id, address_id) DO NOTHING
	`, dappID, addrID, role)

	return err
}

// DappAddresses returns the addresses linked to the dApp on the given network.
func (p *Postgres) DappAddresses(ctx context.Context, dappID int64, network string) ([]store.Address, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.network, a.addr, COALESCE(a.name, ''), COALESCE(a.type, ''), a.last_seen
		FROM addresses a
		JOIN dapp_addresses da ON da.address_id = a.id
		WHERE da.dapp_id = $1 AND a.network = $2
		ORDER BY a.addr
	`, dappID, network)
	if err != nil {
		return nil, fmt.Errorf("could not get dapp addresses: %w", err)
	}
	defer rows.Close()

	var out []store.Address
	for rows.Next() {
		var a store.Address
		if err := rows.Scan(&a.ID, &a.Network, &a.Addr, &a.Name, &a.Type, &a.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

// IncTxCount additively upserts the hourly bucket's transaction counter.
func (p *Postgres) IncTxCount(ctx context.Context, dappID int64, network string, hour time.Time, delta int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO hourly_stats (dapp_id, network, hour, tx_count, unique_users)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (dapp_id, network, hour)
		DO UPDATE SET tx_count = hourly_stats.tx_count + EXCLUDED.tx_count
	`, dappID, network, hour.UTC().Truncate(time.Hour), delta)

	return err
}

// AddHourlyUser inserts the user into the hour's set; already present is a no-op.
func (p *Postgres) AddHourlyUser(ctx context.Context, dappID int64, network string, hour time.Time, user string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO hourly_users (dapp_id, network, hour, user_addr)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dapp_id, network, hour, user_addr) DO NOTHING
	`, dappID, network, hour.UTC().Truncate(time.Hour), user)

	return err
}

// RefreshUniqueCount recomputes the bucket's distinct-user counter from the set's cardinality.
// The counter is a cached aggregate of hourly_users, never an independent source of truth.
func (p *Postgres) RefreshUniqueCount(ctx context.Context, dappID int64, network string, hour time.Time) error {
	h := hour.UTC().Truncate(time.Hour)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO hourly_stats (dapp_id, network, hour, tx_count, unique_users)
		VALUES ($1, $2, $3, 0,
			(SELECT COUNT(*) FROM hourly_users
			 WHERE dapp_id = $1 AND network = $2 AND hour = $3))
		ON CONFLICT (dapp_id, network, hour)
		DO UPDATE SET unique_users =
			(SELECT COUNT(*) FROM hourly_users
			 WHERE dapp_id = $1 AND network = $2 AND hour = $3)
	`, dappID, network, h)

	return err
}

// MarkTxSeen records the transaction hash for the dApp, returning true only the first time. The
// tracker uses it to keep re-crawls of an already ingested range from double-counting.
func (p *Postgres) MarkTxSeen(ctx context.Context, dappID int64, network, hash string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_txs (dapp_id, network, tx_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (dapp_id, network, tx_hash) DO NOTHING
	`, dappID, network, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()

	return n > 0, err
}

// SumInWindow sums the buckets of each dApp whose hour falls in [from, to). Hours without a
// bucket contribute zero. dApps without any bucket still get a zero-valued entry.
func (p *Postgres) SumInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64]store.WindowTotals, error) {
	out := make(map[int64]store.WindowTotals, len(dappIDs))
	for _, id := range dappIDs {
		out[id] = store.WindowTotals{}
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT dapp_id, COALESCE(SUM(tx_count), 0), COALESCE(SUM(unique_users), 0)
		FROM hourly_stats
		WHERE dapp_id = ANY($1) AND network = $2 AND hour >= $3 AND hour < $4
		GROUP BY dapp_id
	`, pq.Array(dappIDs), network, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("could not sum window: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var w store.WindowTotals
		if err := rows.Scan(&id, &w.TxCount, &w.UniqueUsers); err != nil {
			return nil, err
		}
		out[id] = w
	}

	return out, rows.Err()
}

// SeriesInWindow returns the gap-free ascending hourly transaction-count series of each dApp
// over [from, to).
func (p *Postgres) SeriesInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64][]store.HourPoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT dapp_id, hour, tx_count
		FROM hourly_stats
		WHERE dapp_id = ANY($1) AND network = $2 AND hour >= $3 AND hour < $4
		ORDER BY dapp_id, hour
	`, pq.Array(dappIDs), network, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("could not get series: %w", err)
	}
	defer rows.Close()

	sparse := make(map[int64][]store.HourPoint, len(dappIDs))
	for rows.Next() {
		var id int64
		var hp store.HourPoint
		if err := rows.Scan(&id, &hp.Hour, &hp.TxCount); err != nil {
			return nil, err
		}
		hp.Hour = hp.Hour.UTC()
		sparse[id] = append(sparse[id], hp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[int64][]store.HourPoint, len(dappIDs))
	for _, id := range dappIDs {
		out[id] = store.ZeroFill(sparse[id], from, to)
	}

	return out, nil
}

// SaveRun appends the ingestion run summary to the audit log.
func (p *Postgres) SaveRun(ctx context.Context, r store.RunResult) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sync_runs (slug, addresses, tx_seen, tx_applied, tx_skipped,
		                       hours_touched, success, error, started_at, took_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, r.Slug, r.Addresses, r.TxSeen, r.TxApplied, r.TxSkipped,
		r.HoursTouched, r.Success, r.Error, r.StartedAt.UTC(), r.Took.Milliseconds())

	return err
}

// LastRun returns the most recent run summary, or ErrDataNotFound when the log is empty.
func (p *Postgres) LastRun(ctx context.Context) (store.RunResult, error) {
	var r store.RunResult
	var tookMs int64
	err := p.db.QueryRowContext(ctx, `
		SELECT slug, addresses, tx_seen, tx_applied, tx_skipped,
		       hours_touched, success, COALESCE(error, ''), started_at, took_ms
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&r.Slug, &r.Addresses, &r.TxSeen, &r.TxApplied, &r.TxSkipped,
		&r.HoursTouched, &r.Success, &r.Error, &r.StartedAt, &tookMs)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrDataNotFound
	}
	if err != nil {
		return r, err
	}
	r.StartedAt = r.StartedAt.UTC()
	r.Took = time.Duration(tookMs) * time.Millisecond

	return r, nil
}
