package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NodeSphereGL/Story-Dapp/lib/config"
	"github.com/NodeSphereGL/Story-Dapp/lib/scan"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/memory"
)

// fakeExplorer serves a minimal explorer API: dApp address listings and per-address transaction
// pages, all single-page.
type fakeExplorer struct {
	dapps map[string][]string           // slug -> addresses
	txs   map[string][]scan.Transaction // address -> listing, time-descending
	fail  map[string]bool               // address -> reply 400 on its listing
}

func (f *fakeExplorer) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/dapps/"):
			slug := strings.TrimPrefix(r.URL.Path, "/dapps/")

			addrs, ok := f.dapps[slug]
			if !ok {
				rw.WriteHeader(http.StatusNotFound)

				return
			}

			descs := make([]map[string]string, 0, len(addrs))
			for _, a := range addrs {
				descs = append(descs, map[string]string{"hash": a, "type": "contract"})
			}

			_ = json.NewEncoder(rw).Encode(map[string]interface{}{"slug": slug, "addresses": descs})
		case strings.HasPrefix(r.URL.Path, "/addresses/"):
			addr := strings.Split(strings.TrimPrefix(r.URL.Path, "/addresses/"), "/")[0]

			if f.fail[addr] {
				rw.WriteHeader(http.StatusBadRequest)

				return
			}

			_ = json.NewEncoder(rw).Encode(map[string]interface{}{"items": f.txs[addr]})
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestTracker(t *testing.T, fe *fakeExplorer) (*Tracker, *memory.Memory, func()) {
	t.Helper()

	srv := httptest.NewServer(fe.handler())
	mem := memory.New()
	tr := New(mem, scan.New(srv.URL, ""), nil, "story", 720)

	return tr, mem, srv.Close
}

func seedOne(t *testing.T, tr *Tracker, mem *memory.Memory, slug string) store.Dapp {
	t.Helper()

	if err := tr.EnsureDapps(context.Background(), []config.DappConfig{{Slug: slug, Title: slug}}); err != nil {
		t.Fatalf("could not seed dapp: %v", err)
	}

	dapps, err := mem.DappsBySlugs(context.Background(), []string{slug})
	if err != nil || len(dapps) != 1 {
		t.Fatalf("could not load seeded dapp: %v", err)
	}

	return dapps[0]
}

func TestSyncAppAggregates(t *testing.T) {
	hour := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)

	fe := &fakeExplorer{
		dapps: map[string][]string{"story-hunt": {"0xaaa"}},
		txs: map[string][]scan.Transaction{
			"0xaaa": {
				{Hash: "0x1", From: "0xu1", Timestamp: hour.Add(20 * time.Minute), Status: "ok"},
				{Hash: "0x2", From: "0xu1", Timestamp: hour.Add(10 * time.Minute), Status: "ok"},
				{Hash: "0x3", From: "0xu2", Timestamp: hour.Add(5 * time.Minute), Status: "error"},
			},
		},
	}

	tr, mem, done := newTestTracker(t, fe)
	defer done()

	d := seedOne(t, tr, mem, "story-hunt")

	res := tr.SyncApp(context.Background(), d)
	if !res.Success {
		t.Fatalf("sync should have succeeded: %+v", res)
	}
	if res.TxSeen != 3 || res.TxApplied != 2 || res.TxSkipped != 1 {
		t.Errorf("expected seen=3 applied=2 skipped=1, got %+v", res)
	}
	if res.Addresses != 1 || res.HoursTouched != 1 {
		t.Errorf("expected 1 address and 1 touched hour, got %+v", res)
	}

	// both accepted transactions share the hour and the sender: count 2, distinct users 1
	sums, err := mem.SumInWindow(context.Background(), []int64{d.ID}, "story", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatalf("SumInWindow returned error: %v", err)
	}
	if w := sums[d.ID]; w.TxCount != 2 || w.UniqueUsers != 1 {
		t.Errorf("expected bucket {2, 1}, got %+v", w)
	}

	// lifetime counter follows applied transactions
	dapps, _ := mem.DappsBySlugs(context.Background(), []string{"story-hunt"})
	if dapps[0].TotalTx != 2 {
		t.Errorf("expected total tx 2, got %d", dapps[0].TotalTx)
	}

	// the run is persisted for the stats metadata
	if run, err := mem.LastRun(context.Background()); err != nil || run.Slug != "story-hunt" {
		t.Errorf("expected a saved run, got %+v %v", run, err)
	}
}

func TestSyncAppIdempotent(t *testing.T) {
	hour := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)

	fe := &fakeExplorer{
		dapps: map[string][]string{"story-hunt": {"0xaaa"}},
		txs: map[string][]scan.Transaction{
			"0xaaa": {
				{Hash: "0x1", From: "0xu1", Timestamp: hour.Add(20 * time.Minute), Status: "ok"},
				{Hash: "0x2", From: "0xu2", Timestamp: hour.Add(10 * time.Minute), Status: "ok"},
			},
		},
	}

	tr, mem, done := newTestTracker(t, fe)
	defer done()

	d := seedOne(t, tr, mem, "story-hunt")

	tr.SyncApp(context.Background(), d)

	res := tr.SyncApp(context.Background(), d)
	if res.TxApplied != 0 || res.TxSkipped != 2 {
		t.Errorf("re-crawl should skip already processed transactions, got %+v", res)
	}

	sums, _ := mem.SumInWindow(context.Background(), []int64{d.ID}, "story", hour, hour.Add(time.Hour))
	if w := sums[d.ID]; w.TxCount != 2 || w.UniqueUsers != 2 {
		t.Errorf("expected bucket unchanged at {2, 2}, got %+v", w)
	}

	dapps, _ := mem.DappsBySlugs(context.Background(), []string{"story-hunt"})
	if dapps[0].TotalTx != 2 {
		t.Errorf("expected total tx unchanged at 2, got %d", dapps[0].TotalTx)
	}
}

func TestSyncAppAddressFailureContinues(t *testing.T) {
	hour := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)

	fe := &fakeExplorer{
		dapps: map[string][]string{"story-hunt": {"0xbad", "0xgood"}},
		txs: map[string][]scan.Transaction{
			"0xgood": {{Hash: "0x1", From: "0xu1", Timestamp: hour.Add(time.Minute), Status: "ok"}},
		},
		fail: map[string]bool{"0xbad": true},
	}

	tr, mem, done := newTestTracker(t, fe)
	defer done()

	d := seedOne(t, tr, mem, "story-hunt")

	res := tr.SyncApp(context.Background(), d)
	if !res.Success {
		t.Fatalf("one failing address should not fail the dapp: %+v", res)
	}
	if res.TxApplied != 1 {
		t.Errorf("expected the healthy address applied, got %+v", res)
	}

	sums, _ := mem.SumInWindow(context.Background(), []int64{d.ID}, "story", hour, hour.Add(time.Hour))
	if w := sums[d.ID]; w.TxCount != 1 {
		t.Errorf("expected bucket {1}, got %+v", w)
	}
}

func TestSyncAppResolutionFailureIsFatal(t *testing.T) {
	fe := &fakeExplorer{dapps: map[string][]string{}}

	tr, mem, done := newTestTracker(t, fe)
	defer done()

	d := seedOne(t, tr, mem, "story-hunt")

	res := tr.SyncApp(context.Background(), d)
	if res.Success || res.Error == "" {
		t.Errorf("expected a failed run when no addresses resolve, got %+v", res)
	}

	// failed runs are persisted too
	if run, err := mem.LastRun(context.Background()); err != nil || run.Success {
		t.Errorf("expected the failed run saved, got %+v %v", run, err)
	}
}

func TestSyncSlugsUnknown(t *testing.T) {
	fe := &fakeExplorer{dapps: map[string][]string{}}

	tr, _, done := newTestTracker(t, fe)
	defer done()

	out, err := tr.SyncSlugs(context.Background(), []string{"ghost-app"})
	if err != nil {
		t.Fatalf("SyncSlugs returned error: %v", err)
	}
	if len(out) != 1 || out[0].Success || out[0].Error != store.ErrDappNotFound.Error() {
		t.Errorf("expected a failed result for the unknown slug, got %+v", out)
	}
}

func TestEnsureDappsRefreshes(t *testing.T) {
	fe := &fakeExplorer{dapps: map[string][]string{}}

	tr, mem, done := newTestTracker(t, fe)
	defer done()

	seed := []config.DappConfig{{Slug: "story-hunt", Title: "Story Hunt"}}
	if err := tr.EnsureDapps(context.Background(), seed); err != nil {
		t.Fatalf("EnsureDapps returned error: %v", err)
	}

	seed[0].Title = "Story Hunt v2"
	if err := tr.EnsureDapps(context.Background(), seed); err != nil {
		t.Fatalf("EnsureDapps returned error: %v", err)
	}

	dapps, _ := mem.DappsBySlugs(context.Background(), []string{"story-hunt"})
	if len(dapps) != 1 || dapps[0].Title != "Story Hunt v2" {
		t.Errorf("expected the seed refreshed in place, got %+v", dapps)
	}
}
