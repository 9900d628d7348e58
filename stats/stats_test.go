package stats

import (
	"context"
	"testing"
	"time"

	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/memory"
)

func TestPctChange(t *testing.T) {
	cases := []struct {
		cur, prev int64
		exp       string
	}{
		{0, 0, "0%"},
		{5, 0, "100%"},
		{0, 5, "-100%"},
		{150, 100, "50%"},
		{100, 150, "-33.33%"},
		{100, 100, "0%"},
		{101, 100, "1%"},
		{201, 200, "0.50%"},
		{1, 3, "-66.67%"},
	}
	for _, c := range cases {
		if got := PctChange(c.cur, c.prev); got != c.exp {
			t.Errorf("PctChange(%d, %d) = %s, expected %s", c.cur, c.prev, got, c.exp)
		}
	}
}

func TestTrend(t *testing.T) {
	cases := []struct {
		series []int64
		exp    string
	}{
		{nil, "stable"},
		{[]int64{7}, "stable"},
		{[]int64{10, 10, 10, 20, 20, 20}, "up"},
		{[]int64{20, 20, 20, 10, 10, 10}, "down"},
		{[]int64{10, 11, 9, 10}, "stable"},
		{[]int64{0, 0, 0, 0}, "stable"},
		{[]int64{0, 0, 1, 2}, "up"},
	}
	for _, c := range cases {
		if got := Trend(c.series); got != c.exp {
			t.Errorf("Trend(%v) = %s, expected %s", c.series, got, c.exp)
		}
	}
}

func TestWindows(t *testing.T) {
	now := time.Date(2024, 5, 10, 14, 37, 12, 0, time.UTC)

	curFrom, curTo, prevFrom, prevTo := Windows(now, 24*time.Hour)
	if !curTo.Equal(time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("current window should end at the floored hour, got %v", curTo)
	}
	if !curFrom.Equal(curTo.Add(-24 * time.Hour)) {
		t.Errorf("current window should span 24 hours, got %v - %v", curFrom, curTo)
	}
	if !prevTo.Equal(curFrom) {
		t.Errorf("windows should be adjacent, previous ends %v, current starts %v", prevTo, curFrom)
	}
	if !prevFrom.Equal(curFrom.Add(-24 * time.Hour)) {
		t.Errorf("previous window should span 24 hours, got %v - %v", prevFrom, prevTo)
	}
}

func TestDuration(t *testing.T) {
	if d, ok := Duration(TF7D); !ok || d != 7*24*time.Hour {
		t.Errorf("Duration(7D) = %v %v", d, ok)
	}
	if _, ok := Duration("12H"); ok {
		t.Errorf("Duration should reject unknown timeframes")
	}
}

func TestChangeType(t *testing.T) {
	if got := changeType(2, 1); got != "positive" {
		t.Errorf("changeType(2, 1) = %s", got)
	}
	if got := changeType(1, 2); got != "negative" {
		t.Errorf("changeType(1, 2) = %s", got)
	}
	if got := changeType(1, 1); got != "neutral" {
		t.Errorf("changeType(1, 1) = %s", got)
	}
}

// seedBuckets loads a dApp and a few hourly buckets into a fresh memory store and returns its id.
func seedBuckets(t *testing.T, mem *memory.Memory, slug string) int64 {
	t.Helper()
	ctx := context.Background()

	id, err := mem.UpsertDapp(ctx, store.Dapp{Slug: slug, Title: slug, Active: true})
	if err != nil {
		t.Fatalf("could not seed dapp: %v", err)
	}

	t0 := time.Now().UTC().Truncate(time.Hour)

	// current 24H window: 3 txs by 2 users in the last two full hours
	for hour, users := range map[time.Time][]string{
		t0.Add(-1 * time.Hour): {"0xaa", "0xbb"},
		t0.Add(-2 * time.Hour): {"0xaa"},
	} {
		for _, u := range users {
			if err := mem.IncTxCount(ctx, id, "story", hour, 1); err != nil {
				t.Fatalf("could not seed bucket: %v", err)
			}
			if err := mem.AddHourlyUser(ctx, id, "story", hour, u); err != nil {
				t.Fatalf("could not seed user: %v", err)
			}
		}
		if err := mem.RefreshUniqueCount(ctx, id, "story", hour); err != nil {
			t.Fatalf("could not refresh bucket: %v", err)
		}
	}

	// previous 24H window: 1 tx by 1 user
	prev := t0.Add(-30 * time.Hour)
	if err := mem.IncTxCount(ctx, id, "story", prev, 1); err != nil {
		t.Fatalf("could not seed bucket: %v", err)
	}
	if err := mem.AddHourlyUser(ctx, id, "story", prev, "0xcc"); err != nil {
		t.Fatalf("could not seed user: %v", err)
	}
	if err := mem.RefreshUniqueCount(ctx, id, "story", prev); err != nil {
		t.Fatalf("could not refresh bucket: %v", err)
	}

	return id
}

func TestBuild(t *testing.T) {
	mem := memory.New()
	seedBuckets(t, mem, "story-hunt")

	s := New("memory", mem, nil, nil, "story", "storyscan", false)

	resp, err := s.Build(context.Background(), Query{Timeframe: TF24H, Names: []string{"story-hunt"}, Sparklines: true})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !resp.Success || len(resp.Data) != 1 {
		t.Fatalf("expected one successful entry, got %+v", resp)
	}

	d := resp.Data[0]
	if d.Transactions.Current != 3 {
		t.Errorf("expected 3 transactions in 24H window, got %d", d.Transactions.Current)
	}
	if d.Transactions.Change24h != "200%" {
		t.Errorf("expected 200%% tx change, got %s", d.Transactions.Change24h)
	}
	if d.Transactions.ChangeType != "positive" {
		t.Errorf("expected positive change type, got %s", d.Transactions.ChangeType)
	}
	// 0xaa is active in two hours: per-hour distinct counts sum to 3, not 2
	if d.Users.Current != 3 {
		t.Errorf("expected 3 summed hourly users, got %d", d.Users.Current)
	}
	if len(d.SparklineData) != 24 {
		t.Errorf("expected a gap-free 24 point sparkline, got %d points", len(d.SparklineData))
	}
	if d.SparklineTrend == "" {
		t.Errorf("expected a sparkline trend")
	}
	if resp.Metadata.TotalDapps != 1 {
		t.Errorf("expected metadata for 1 dapp, got %d", resp.Metadata.TotalDapps)
	}
}

func TestBuildUnknownDapp(t *testing.T) {
	s := New("memory", memory.New(), nil, nil, "story", "storyscan", false)

	if _, err := s.Build(context.Background(), Query{Timeframe: TF24H, Names: []string{"nope"}}); err != store.ErrDappNotFound {
		t.Errorf("expected ErrDappNotFound, got %v", err)
	}
}

func TestBuildPartialResolve(t *testing.T) {
	mem := memory.New()
	seedBuckets(t, mem, "story-hunt")

	s := New("memory", mem, nil, nil, "story", "storyscan", false)

	resp, err := s.Build(context.Background(), Query{Timeframe: TF7D, Names: []string{"story-hunt", "unknown-app"}})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Name != "story-hunt" {
		t.Fatalf("expected only the known dapp answered, got %+v", resp.Data)
	}
}
