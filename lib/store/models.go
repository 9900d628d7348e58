package store

import "time"

// Dapp contains the fields for a tracked dApp saved to DB. Slug is unique. TotalTx is the
// informational lifetime transaction counter, refreshed by the tracker, never by the read side.
type Dapp struct {
	ID       int64     `json:"id" bson:"id"`
	Slug     string    `json:"slug" bson:"slug"`
	Title    string    `json:"title" bson:"title"`
	Active   bool      `json:"active" bson:"active"`
	Priority int       `json:"priority" bson:"priority"`
	TotalTx  int64     `json:"total_tx" bson:"total_tx"`
	Updated  time.Time `json:"updated" bson:"updated"`
}

// Address contains the fields for a ledger account saved to DB, unique by (network, address).
// Addr is always stored lower-cased. Type is a coarse classification: "contract" or "wallet".
type Address struct {
	ID       int64     `json:"id" bson:"id"`
	Network  string    `json:"network" bson:"network"`
	Addr     string    `json:"addr" bson:"addr"`
	Name     string    `json:"name,omitempty" bson:"name,omitempty"`
	Type     string    `json:"type,omitempty" bson:"type,omitempty"`
	LastSeen time.Time `json:"last_seen" bson:"last_seen"`
}

// WindowTotals is the per-dApp aggregate over a time window.
type WindowTotals struct {
	TxCount     int64 `json:"tx_count" bson:"tx_count"`
	UniqueUsers int64 `json:"unique_users" bson:"unique_users"`
}

// HourPoint is one hour of the transaction-count series.
type HourPoint struct {
	Hour    time.Time `json:"hour" bson:"hour"`
	TxCount int64     `json:"tx_count" bson:"tx_count"`
}

// RunResult summarizes one ingestion run for a single dApp. It is the unit of observability for
// the scheduler, the broker report and the audit log.
type RunResult struct {
	Slug         string        `json:"slug" bson:"slug"`
	Addresses    int           `json:"addresses" bson:"addresses"`
	TxSeen       int64         `json:"tx_seen" bson:"tx_seen"`
	TxApplied    int64         `json:"tx_applied" bson:"tx_applied"`
	TxSkipped    int64         `json:"tx_skipped" bson:"tx_skipped"`
	HoursTouched int           `json:"hours_touched" bson:"hours_touched"`
	Success      bool          `json:"success" bson:"success"`
	Error        string        `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at" bson:"started_at"`
	Took         time.Duration `json:"took" bson:"took"`
}

// ZeroFill expands a sparse ascending hour series into a gap-free one covering every hour of
// [from, to), so sparklines always carry one point per hour.
func ZeroFill(points []HourPoint, from, to time.Time) []HourPoint {
	from = from.Truncate(time.Hour)
	to = to.Truncate(time.Hour)
	if !from.Before(to) {
		return []HourPoint{}
	}
	out := make([]HourPoint, 0, int(to.Sub(from)/time.Hour))
	i := 0
	for h := from; h.Before(to); h = h.Add(time.Hour) {
		for i < len(points) && points[i].Hour.Before(h) {
			i++
		}
		if i < len(points) && points[i].Hour.Equal(h) {
			out = append(out, points[i])
			i++
		} else {
			out = append(out, HourPoint{Hour: h})
		}
	}
	return out
}
