// Package store defines the interface for database implementations to the tracker and stats microservices.
package store

import (
	"context"
	"errors"
	"time"
)

// DB defines required methods for the tracker (writer) and stats (reader) services. The hourly
// aggregation methods are the only writers of derived state: the transaction counter is an
// additive upsert and the per-hour user set is an idempotent insert, so they are safe to retry
// and safe under concurrent writers to disjoint (dapp, hour) keys.
type DB interface {
	// dApp registry
	UpsertDapp(ctx context.Context, d Dapp) (int64, error)
	GetDapps(ctx context.Context, onlyActive bool) ([]Dapp, error)
	DappsBySlugs(ctx context.Context, slugs []string) ([]Dapp, error)
	AddDappTotalTx(ctx context.Context, dappID int64, delta int64) error

	// addresses and links
	UpsertAddress(ctx context.Context, a Address) (int64, error)
	LinkDappAddress(ctx context.Context, dappID, addrID int64, role string) error
	DappAddresses(ctx context.Context, dappID int64, network string) ([]Address, error)

	// hourly aggregation
	IncTxCount(ctx context.Context, dappID int64, network string, hour time.Time, delta int64) error
	AddHourlyUser(ctx context.Context, dappID int64, network string, hour time.Time, user string) error
	RefreshUniqueCount(ctx context.Context, dappID int64, network string, hour time.Time) error
	MarkTxSeen(ctx context.Context, dappID int64, network, hash string) (bool, error)

	// read-side queries, both over [from, to)
	SumInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64]WindowTotals, error)
	SeriesInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64][]HourPoint, error)

	// ingestion run audit log
	SaveRun(ctx context.Context, r RunResult) error
	LastRun(ctx context.Context) (RunResult, error)
}

// Errors returned
var (
	ErrDappNotFound = errors.New("dapp was not found in store")
	ErrDataNotFound = errors.New("data was not found in store")
)
