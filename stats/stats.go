// Package stats implements the analytics microservice.
//
// This microservice implements a RESTful API answering multi-window usage queries for tracked
// dApps. It is purely read-side over the hourly buckets the tracker maintains: current and
// previous window sums, percentage changes, trend classification and the optional hourly
// sparkline series. It never mutates aggregated state.
package stats

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NodeSphereGL/Story-Dapp/lib/cache"
	"github.com/NodeSphereGL/Story-Dapp/lib/msg"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/util"
)

// Timeframe tokens accepted by the API.
const (
	TF24H = "24H"
	TF7D  = "7D"
	TF30D = "30D"
)

// Timeframes lists the valid timeframe tokens.
var Timeframes = []string{TF24H, TF7D, TF30D}

// MaxDapps bounds how many dApps one request may ask for.
const MaxDapps = 10

// cacheTTL keeps rendered responses hot for a short while; buckets only change on ingestion.
const cacheTTL = 60 * time.Second

// Stats contains the data necessary to deliver the service.
type Stats struct {
	dbtype     string
	db         store.DB
	ca         cache.Cache   // may be nil: caching disabled
	mb         msg.MsgBroker // may be nil: sync triggering and run report consumption disabled
	network    string
	source     string // data source label reported in response metadata
	production bool
	s          *http.Server  // http server
	ss         *http.Server  // https server
	sc         chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Stats service.
func New(dbtype string, dbConn store.DB, ca cache.Cache, mb msg.MsgBroker, network, source string, production bool) *Stats {
	return &Stats{
		dbtype:     dbtype,
		db:         dbConn,
		ca:         ca,
		mb:         mb,
		network:    network,
		source:     source,
		production: production,
	}
}

// Duration returns the window duration of a timeframe token, or false for an unknown token.
func Duration(tf string) (time.Duration, bool) {
	switch tf {
	case TF24H:
		return 24 * time.Hour, true
	case TF7D:
		return 7 * 24 * time.Hour, true
	case TF30D:
		return 30 * 24 * time.Hour, true
	}

	return 0, false
}

// Windows returns the current and previous comparison windows of equal length ending at now
// floored to the hour: current [t0-d, t0), previous [t0-2d, t0-d).
func Windows(now time.Time, d time.Duration) (curFrom, curTo, prevFrom, prevTo time.Time) {
	t0 := now.UTC().Truncate(time.Hour)

	return t0.Add(-d), t0, t0.Add(-2 * d), t0.Add(-d)
}

// PctChange renders the percentage change between a current and a previous window total. A zero
// previous total yields "100%" when anything happened and "0%" otherwise; a collapse to zero is
// "-100%"; everything else is rendered with at most two decimals, trailing ".00" stripped.
func PctChange(cur, prev int64) string {
	switch {
	case prev == 0 && cur > 0:
		return "100%"
	case prev == 0:
		return "0%"
	case cur == 0:
		return "-100%"
	}

	pct := (float64(cur) - float64(prev)) / float64(prev) * 100
	s := strconv.FormatFloat(pct, 'f', 2, 64)
	s = strings.TrimSuffix(s, ".00")

	return s + "%"
}

// changeType classifies the sign of a window-over-window movement.
func changeType(cur, prev int64) string {
	switch {
	case cur > prev:
		return "positive"
	case cur < prev:
		return "negative"
	}

	return "neutral"
}

// trendBand is the stable band for the sparkline trend: the halves-means relative change must
// move beyond it to be labelled up or down.
const trendBand = 0.10

// Trend classifies an hourly series by comparing the means of its first and second halves.
// Series with fewer than two points, or with movement inside the stable band, are "stable".
func Trend(series []int64) string {
	if len(series) < 2 {
		return "stable"
	}

	half := len(series) / 2
	first := mean(series[:half])
	second := mean(series[half:])

	if first == 0 {
		if second > 0 {
			return "up"
		}

		return "stable"
	}

	rel := (second - first) / first
	switch {
	case rel > trendBand:
		return "up"
	case rel < -trendBand:
		return "down"
	}

	return "stable"
}

func mean(xs []int64) float64 {
	var sum int64
	for _, x := range xs {
		sum += x
	}

	return float64(sum) / float64(len(xs))
}

// Query is one validated stats request.
type Query struct {
	Timeframe  string
	Names      []string
	Sparklines bool
}

// CacheKey derives the response cache key for the query.
func (q Query) CacheKey() string {
	return q.Timeframe + "|" + strings.Join(q.Names, ",") + "|" + strconv.FormatBool(q.Sparklines)
}

// MetricBlock carries one metric (users or transactions) across all three windows.
type MetricBlock struct {
	Current    int64  `json:"current"`
	Formatted  string `json:"formatted"`
	Current24h int64  `json:"current_24h"`
	Current7d  int64  `json:"current_7d"`
	Current30d int64  `json:"current_30d"`
	Change24h  string `json:"change_24h"`
	Change7d   string `json:"change_7d"`
	Change30d  string `json:"change_30d"`
	ChangeType string `json:"change_type"`
}

// DappStats is the per-dApp entry of the response.
type DappStats struct {
	Name           string      `json:"name"`
	AllTimeTxs     int64       `json:"all_time_txs"`
	Users          MetricBlock `json:"users"`
	Transactions   MetricBlock `json:"transactions"`
	SparklineData  []int64     `json:"sparkline_data,omitempty"`
	SparklineTrend string      `json:"sparkline_trend,omitempty"`
	LastUpdated    string      `json:"last_updated"`
}

// Metadata describes the data set behind a response.
type Metadata struct {
	TotalDapps  int      `json:"total_dapps"`
	LastCrawl   string   `json:"last_crawl"`
	DataSources []string `json:"data_sources"`
}

// Response is the success payload of the stats endpoint.
type Response struct {
	Success  bool        `json:"success"`
	Data     []DappStats `json:"data"`
	Metadata Metadata    `json:"metadata"`
}

// Build resolves the queried dApps and computes their windowed statistics. It returns
// store.ErrDappNotFound when none of the requested names resolve; names that do resolve are
// answered even when others in the same request do not.
func (s *Stats) Build(ctx context.Context, q Query) (*Response, error) {
	dapps, err := s.db.DappsBySlugs(ctx, q.Names)
	if err != nil {
		return nil, fmt.Errorf("could not resolve dapps: %w", err)
	}
	if len(dapps) == 0 {
		return nil, store.ErrDappNotFound
	}

	ids := make([]int64, len(dapps))
	for i, d := range dapps {
		ids[i] = d.ID
	}

	now := time.Now()

	// one current and one previous window sum per timeframe, shared by every queried dApp
	type windowPair struct {
		cur, prev map[int64]store.WindowTotals
	}
	sums := make(map[string]windowPair, len(Timeframes))
	for _, tf := range Timeframes {
		d, _ := Duration(tf)
		curFrom, curTo, prevFrom, prevTo := Windows(now, d)

		var wp windowPair
		if wp.cur, err = s.db.SumInWindow(ctx, ids, s.network, curFrom, curTo); err != nil {
			return nil, fmt.Errorf("could not sum %s window: %w", tf, err)
		}
		if wp.prev, err = s.db.SumInWindow(ctx, ids, s.network, prevFrom, prevTo); err != nil {
			return nil, fmt.Errorf("could not sum previous %s window: %w", tf, err)
		}
		sums[tf] = wp
	}

	var series map[int64][]store.HourPoint
	if q.Sparklines {
		d, _ := Duration(q.Timeframe)
		curFrom, curTo, _, _ := Windows(now, d)
		if series, err = s.db.SeriesInWindow(ctx, ids, s.network, curFrom, curTo); err != nil {
			return nil, fmt.Errorf("could not get series: %w", err)
		}
	}

	resp := &Response{Success: true, Data: make([]DappStats, 0, len(dapps))}

	for _, d := range dapps {
		users := MetricBlock{
			Current24h: sums[TF24H].cur[d.ID].UniqueUsers,
			Current7d:  sums[TF7D].cur[d.ID].UniqueUsers,
			Current30d: sums[TF30D].cur[d.ID].UniqueUsers,
			Change24h:  PctChange(sums[TF24H].cur[d.ID].UniqueUsers, sums[TF24H].prev[d.ID].UniqueUsers),
			Change7d:   PctChange(sums[TF7D].cur[d.ID].UniqueUsers, sums[TF7D].prev[d.ID].UniqueUsers),
			Change30d:  PctChange(sums[TF30D].cur[d.ID].UniqueUsers, sums[TF30D].prev[d.ID].UniqueUsers),
		}
		txs := MetricBlock{
			Current24h: sums[TF24H].cur[d.ID].TxCount,
			Current7d:  sums[TF7D].cur[d.ID].TxCount,
			Current30d: sums[TF30D].cur[d.ID].TxCount,
			Change24h:  PctChange(sums[TF24H].cur[d.ID].TxCount, sums[TF24H].prev[d.ID].TxCount),
			Change7d:   PctChange(sums[TF7D].cur[d.ID].TxCount, sums[TF7D].prev[d.ID].TxCount),
			Change30d:  PctChange(sums[TF30D].cur[d.ID].TxCount, sums[TF30D].prev[d.ID].TxCount),
		}

		wp := sums[q.Timeframe]
		users.Current = wp.cur[d.ID].UniqueUsers
		users.Formatted = util.FormatCount(users.Current)
		users.ChangeType = changeType(wp.cur[d.ID].UniqueUsers, wp.prev[d.ID].UniqueUsers)
		txs.Current = wp.cur[d.ID].TxCount
		txs.Formatted = util.FormatCount(txs.Current)
		txs.ChangeType = changeType(wp.cur[d.ID].TxCount, wp.prev[d.ID].TxCount)

		entry := DappStats{
			Name:         d.Title,
			AllTimeTxs:   d.TotalTx,
			Users:        users,
			Transactions: txs,
			LastUpdated:  d.Updated.UTC().Format(time.RFC3339),
		}

		if q.Sparklines {
			pts := series[d.ID]
			data := make([]int64, len(pts))
			for i, p := range pts {
				data[i] = p.TxCount
			}
			entry.SparklineData = data
			entry.SparklineTrend = Trend(data)
		}

		resp.Data = append(resp.Data, entry)
	}

	resp.Metadata = Metadata{
		TotalDapps:  len(resp.Data),
		DataSources: []string{s.source},
	}
	if run, err := s.db.LastRun(ctx); err == nil {
		resp.Metadata.LastCrawl = run.StartedAt.UTC().Format(time.RFC3339)
	}

	return resp, nil
}
