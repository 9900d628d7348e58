// Package tracker implements the ingestion microservice. The tracker crawls the ledger explorer
// for the transactions of every address linked to a tracked dApp and aggregates them into hourly
// buckets of transaction counts and exact distinct-user counts.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NodeSphereGL/Story-Dapp/lib/config"
	"github.com/NodeSphereGL/Story-Dapp/lib/msg"
	"github.com/NodeSphereGL/Story-Dapp/lib/scan"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
)

// interAppDelay spaces consecutive dApp syncs out of politeness toward the rate-limited source.
const interAppDelay = 2 * time.Second

// Tracker implements the ingestion service for one network.
type Tracker struct {
	db      store.DB
	sc      *scan.Client
	mb      msg.MsgBroker // may be nil when running without a broker
	network string
	cutoff  time.Duration // how far back each crawl reaches
}

// New instantiates a new tracker service.
func New(db store.DB, sc *scan.Client, mb msg.MsgBroker, network string, cutoffHours int) *Tracker {
	return &Tracker{
		db:      db,
		sc:      sc,
		mb:      mb,
		network: network,
		cutoff:  time.Duration(cutoffHours) * time.Hour,
	}
}

// EnsureDapps seeds the dApp registry from configuration. Existing dApps are refreshed, never
// deleted; dApps absent from the seed keep whatever active flag they already have.
func (t *Tracker) EnsureDapps(ctx context.Context, seed []config.DappConfig) error {
	for i, d := range seed {
		if _, err := t.db.UpsertDapp(ctx, store.Dapp{
			Slug:     d.Slug,
			Title:    d.Title,
			Active:   true,
			Priority: i,
		}); err != nil {
			return fmt.Errorf("could not seed dapp %s: %w", d.Slug, err)
		}
	}
	return nil
}

// SyncApp runs one full ingestion cycle for a single dApp: resolve its addresses, walk each
// address's history back to the cutoff, route accepted transactions into hourly buckets and
// refresh the distinct-user counter of every touched hour. A failing address is logged and the
// loop continues; only address resolution failing is fatal for the dApp. The returned summary is
// also persisted to the run log and published to the broker when one is wired.
func (t *Tracker) SyncApp(ctx context.Context, d store.Dapp) store.RunResult {
	res := store.RunResult{Slug: d.Slug, StartedAt: time.Now().UTC()}
	cutoff := res.StartedAt.Add(-t.cutoff)

	descs, err := t.sc.Addresses(ctx, d.Slug, "")
	if err != nil {
		// no addresses to work from: fatal for this dApp only
		log.Printf("tracker: [%s] %s address resolution failed: %v", t.network, d.Slug, err)
		res.Error = err.Error()
		res.Took = time.Since(res.StartedAt)
		t.finishRun(ctx, res)

		return res
	}

	touched := make(map[time.Time]struct{})

	for _, desc := range descs {
		addrID, err := t.db.UpsertAddress(ctx, store.Address{
			Network: t.network,
			Addr:    desc.Hash,
			Name:    desc.Name,
			Type:    desc.Type,
		})
		if err != nil {
			log.Printf("tracker: [%s] %s could not store address %s: %v", t.network, d.Slug, desc.Hash, err)

			continue
		}
		if err = t.db.LinkDappAddress(ctx, d.ID, addrID, desc.Type); err != nil {
			log.Printf("tracker: [%s] %s could not link address %s: %v", t.network, d.Slug, desc.Hash, err)

			continue
		}

		res.Addresses++
		if err = t.drainAddress(ctx, d, desc.Hash, cutoff, touched, &res); err != nil {
			// one address failing never aborts the dApp sync
			log.Printf("tracker: [%s] %s address %s failed: %v", t.network, d.Slug, desc.Hash, err)
		}
	}

	// recompute the cached distinct-user counter once per touched hour
	for hour := range touched {
		if err := t.db.RefreshUniqueCount(ctx, d.ID, t.network, hour); err != nil {
			log.Printf("tracker: [%s] %s could not refresh hour %s: %v",
				t.network, d.Slug, hour.Format(time.RFC3339), err)
		}
	}
	res.HoursTouched = len(touched)

	if res.TxApplied > 0 {
		if err := t.db.AddDappTotalTx(ctx, d.ID, res.TxApplied); err != nil {
			log.Printf("tracker: [%s] %s could not bump total tx: %v", t.network, d.Slug, err)
		}
	}

	res.Success = true
	res.Took = time.Since(res.StartedAt)
	t.finishRun(ctx, res)
	log.Printf("tracker: [%s] %s synced: addrs=%d seen=%d applied=%d skipped=%d hours=%d in %v",
		t.network, d.Slug, res.Addresses, res.TxSeen, res.TxApplied, res.TxSkipped, res.HoursTouched, res.Took)

	return res
}

// drainAddress walks one address's transaction stream and applies every accepted transaction.
// Effects are applied only after a transaction has been fully read, and only the first time its
// hash is seen, so a re-crawl of the same range is a no-op.
func (t *Tracker) drainAddress(ctx context.Context, d store.Dapp, addr string, cutoff time.Time,
	touched map[time.Time]struct{}, res *store.RunResult) error {
	stream := t.sc.Transactions(addr, cutoff)

	for {
		tx, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if tx == nil {
			return nil
		}
		res.TxSeen++

		// exclude only confirmed failures; pending and unknown statuses count
		if tx.Failed() || tx.Timestamp.IsZero() || tx.From == "" {
			res.TxSkipped++

			continue
		}

		isNew, err := t.db.MarkTxSeen(ctx, d.ID, t.network, tx.Hash)
		if err != nil {
			return fmt.Errorf("could not mark tx %s: %w", tx.Hash, err)
		}
		if !isNew {
			res.TxSkipped++

			continue
		}

		hour := tx.Timestamp.UTC().Truncate(time.Hour)
		if err = t.db.IncTxCount(ctx, d.ID, t.network, hour, 1); err != nil {
			return fmt.Errorf("could not count tx %s: %w", tx.Hash, err)
		}
		if err = t.db.AddHourlyUser(ctx, d.ID, t.network, hour, tx.From); err != nil {
			return fmt.Errorf("could not record user %s: %w", tx.From, err)
		}
		touched[hour] = struct{}{}
		res.TxApplied++
	}
}

func (t *Tracker) finishRun(ctx context.Context, res store.RunResult) {
	if err := t.db.SaveRun(ctx, res); err != nil {
		log.Printf("tracker: [%s] could not save run for %s: %v", t.network, res.Slug, err)
	}
	if t.mb != nil {
		if err := t.mb.SendReport(t.network, res); err != nil {
			log.Printf("tracker: [%s] could not publish run report for %s: %v", t.network, res.Slug, err)
		}
	}
}

// SyncActive syncs every active dApp strictly sequentially. One dApp failing never aborts the
// cycle; its result simply carries the error.
func (t *Tracker) SyncActive(ctx context.Context) ([]store.RunResult, error) {
	dapps, err := t.db.GetDapps(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("could not load active dapps: %w", err)
	}

	return t.syncAll(ctx, dapps), nil
}

// SyncSlugs syncs only the named dApps. Unknown slugs are reported as failed runs.
func (t *Tracker) SyncSlugs(ctx context.Context, slugs []string) ([]store.RunResult, error) {
	dapps, err := t.db.DappsBySlugs(ctx, slugs)
	if err != nil {
		return nil, fmt.Errorf("could not load dapps: %w", err)
	}

	known := make(map[string]bool, len(dapps))
	for _, d := range dapps {
		known[d.Slug] = true
	}

	out := t.syncAll(ctx, dapps)
	for _, s := range slugs {
		if !known[s] {
			out = append(out, store.RunResult{
				Slug:      s,
				StartedAt: time.Now().UTC(),
				Error:     store.ErrDappNotFound.Error(),
			})
		}
	}

	return out, nil
}

func (t *Tracker) syncAll(ctx context.Context, dapps []store.Dapp) []store.RunResult {
	out := make([]store.RunResult, 0, len(dapps))
	for i, d := range dapps {
		if i > 0 {
			select {
			case <-time.After(interAppDelay):
			case <-ctx.Done():
				return out
			}
		}
		out = append(out, t.SyncApp(ctx, d))
		if errors.Is(ctx.Err(), context.Canceled) {
			return out
		}
	}

	return out
}

// Health reports whether the store and the explorer source are both reachable.
func (t *Tracker) Health(ctx context.Context) bool {
	if _, err := t.db.GetDapps(ctx, false); err != nil {
		return false
	}

	return t.sc.Health(ctx)
}
