// Package memory implements the store interface in process memory. It backs unit tests and local
// development without a database; the tracker and stats services use it through the same
// interface as the real backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NodeSphereGL/Story-Dapp/lib/store"
)

type hourKey struct {
	dapp int64
	net  string
	hour int64 // unix seconds of the hour start
}

type txKey struct {
	dapp int64
	net  string
	hash string
}

type linkKey struct {
	dapp int64
	addr int64
}

type addrKey struct {
	net  string
	addr string
}

type bucket struct {
	txCount     int64
	uniqueUsers int64
}

// Memory holds all tracker state behind one mutex. Construct a fresh instance per test.
type Memory struct {
	mu sync.Mutex

	nextDappID int64
	nextAddrID int64

	dapps     map[string]*store.Dapp // by slug
	addresses map[addrKey]*store.Address
	links     map[linkKey]string

	buckets map[hourKey]*bucket
	users   map[hourKey]map[string]struct{}
	seen    map[txKey]struct{}

	runs []store.RunResult
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{
		dapps:     make(map[string]*store.Dapp),
		addresses: make(map[addrKey]*store.Address),
		links:     make(map[linkKey]string),
		buckets:   make(map[hourKey]*bucket),
		users:     make(map[hourKey]map[string]struct{}),
		seen:      make(map[txKey]struct{}),
	}
}

func key(dappID int64, network string, hour time.Time) hourKey {
	return hourKey{dapp: dappID, net: network, hour: hour.UTC().Truncate(time.Hour).Unix()}
}

func (m *Memory) UpsertDapp(ctx context.Context, d store.Dapp) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.dapps[d.Slug]; ok {
		cur.Title = d.Title
		cur.Active = d.Active
		cur.Priority = d.Priority
		cur.Updated = time.Now().UTC()

		return cur.ID, nil
	}

	m.nextDappID++
	d.ID = m.nextDappID
	d.Updated = time.Now().UTC()
	m.dapps[d.Slug] = &d

	return d.ID, nil
}

func (m *Memory) GetDapps(ctx context.Context, onlyActive bool) ([]store.Dapp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.Dapp
	for _, d := range m.dapps {
		if !onlyActive || d.Active {
			out = append(out, *d)
		}
	}
	sortDapps(out)

	return out, nil
}

func (m *Memory) DappsBySlugs(ctx context.Context, slugs []string) ([]store.Dapp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.Dapp
	for _, s := range slugs {
		if d, ok := m.dapps[s]; ok {
			out = append(out, *d)
		}
	}
	sortDapps(out)

	return out, nil
}

func sortDapps(ds []store.Dapp) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].Slug < ds[j].Slug
	})
}

func (m *Memory) AddDappTotalTx(ctx context.Context, dappID int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.dapps {
		if d.ID == dappID {
			d.TotalTx += delta
			d.Updated = time.Now().UTC()

			return nil
		}
	}

	return store.ErrDappNotFound
}

func (m *Memory) UpsertAddress(ctx context.Context, a store.Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := addrKey{net: a.Network, addr: a.Addr}
	if cur, ok := m.addresses[k]; ok {
		if a.Name != "" {
			cur.Name = a.Name
		}
		if a.Type != "" {
			cur.Type = a.Type
		}
		cur.LastSeen = time.Now().UTC()

		return cur.ID, nil
	}

	m.nextAddrID++
	a.ID = m.nextAddrID
	a.LastSeen = time.Now().UTC()
	m.addresses[k] = &a

	return a.ID, nil
}

func (m *Memory) LinkDappAddress(ctx context.Context, dappID, addrID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := linkKey{dapp: dappID, addr: addrID}
	if _, ok := m.links[k]; !ok {
		m.links[k] = role
	}

	return nil
}

func (m *Memory) DappAddresses(ctx context.Context, dappID int64, network string) ([]store.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.Address
	for k := range m.links {
		if k.dapp != dappID {
			continue
		}
		for _, a := range m.addresses {
			if a.ID == k.addr && a.Network == network {
				out = append(out, *a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })

	return out, nil
}

func (m *Memory) IncTxCount(ctx context.Context, dappID int64, network string, hour time.Time, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(dappID, network, hour)
	b, ok := m.buckets[k]
	if !ok {
		b = &bucket{}
		m.buckets[k] = b
	}
	b.txCount += delta

	return nil
}

func (m *Memory) AddHourlyUser(ctx context.Context, dappID int64, network string, hour time.Time, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(dappID, network, hour)
	set, ok := m.users[k]
	if !ok {
		set = make(map[string]struct{})
		m.users[k] = set
	}
	set[user] = struct{}{}

	return nil
}

func (m *Memory) RefreshUniqueCount(ctx context.Context, dappID int64, network string, hour time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(dappID, network, hour)
	b, ok := m.buckets[k]
	if !ok {
		b = &bucket{}
		m.buckets[k] = b
	}
	b.uniqueUsers = int64(len(m.users[k]))

	return nil
}

func (m *Memory) MarkTxSeen(ctx context.Context, dappID int64, network, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := txKey{dapp: dappID, net: network, hash: hash}
	if _, ok := m.seen[k]; ok {
		return false, nil
	}
	m.seen[k] = struct{}{}

	return true, nil
}

func (m *Memory) SumInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64]store.WindowTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := from.UTC().Unix(), to.UTC().Unix()
	out := make(map[int64]store.WindowTotals, len(dappIDs))
	for _, id := range dappIDs {
		out[id] = store.WindowTotals{}
	}
	for k, b := range m.buckets {
		if k.net != network || k.hour < lo || k.hour >= hi {
			continue
		}
		for _, id := range dappIDs {
			if k.dapp == id {
				w := out[id]
				w.TxCount += b.txCount
				w.UniqueUsers += b.uniqueUsers
				out[id] = w
			}
		}
	}

	return out, nil
}

func (m *Memory) SeriesInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64][]store.HourPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := from.UTC().Unix(), to.UTC().Unix()
	sparse := make(map[int64][]store.HourPoint, len(dappIDs))
	for k, b := range m.buckets {
		if k.net != network || k.hour < lo || k.hour >= hi {
			continue
		}
		for _, id := range dappIDs {
			if k.dapp == id {
				sparse[id] = append(sparse[id], store.HourPoint{Hour: time.Unix(k.hour, 0).UTC(), TxCount: b.txCount})
			}
		}
	}

	out := make(map[int64][]store.HourPoint, len(dappIDs))
	for _, id := range dappIDs {
		pts := sparse[id]
		sort.Slice(pts, func(i, j int) bool { return pts[i].Hour.Before(pts[j].Hour) })
		out[id] = store.ZeroFill(pts, from, to)
	}

	return out, nil
}

func (m *Memory) SaveRun(ctx context.Context, r store.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = append(m.runs, r)

	return nil
}

func (m *Memory) LastRun(ctx context.Context) (store.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.runs) == 0 {
		return store.RunResult{}, store.ErrDataNotFound
	}
	last := m.runs[0]
	for _, r := range m.runs[1:] {
		if r.StartedAt.After(last.StartedAt) {
			last = r
		}
	}

	return last, nil
}
