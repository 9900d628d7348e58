package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NodeSphereGL/Story-Dapp/lib/store/memory"
)

func newTestStats(t *testing.T) *Stats {
	t.Helper()

	mem := memory.New()
	seedBuckets(t, mem, "story-hunt")

	return New("memory", mem, nil, nil, "story", "storyscan", false)
}

func doStats(s *Stats, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rec := httptest.NewRecorder()
	s.statsHandler(rec, req)

	return rec
}

func TestStatsHandlerPost(t *testing.T) {
	s := newTestStats(t)

	rec := doStats(s, "POST", "/api/dapps/stats",
		`{"timeframe":"24H","dapp_names":["story-hunt"],"include_sparklines":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if !resp.Success || len(resp.Data) != 1 {
		t.Fatalf("expected one successful entry, got %+v", resp)
	}
	if resp.Data[0].Transactions.Current != 3 {
		t.Errorf("expected 3 transactions, got %d", resp.Data[0].Transactions.Current)
	}
	if len(resp.Data[0].SparklineData) != 24 {
		t.Errorf("expected 24 sparkline points, got %d", len(resp.Data[0].SparklineData))
	}
}

func TestStatsHandlerGet(t *testing.T) {
	s := newTestStats(t)

	rec := doStats(s, "GET", "/api/dapps/stats?timeframe=7D&dapps=story-hunt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].SparklineData != nil {
		t.Fatalf("expected one entry without sparklines, got %+v", resp.Data)
	}
}

func TestStatsHandlerValidation(t *testing.T) {
	s := newTestStats(t)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad timeframe", `{"timeframe":"12H","dapp_names":["story-hunt"]}`, http.StatusBadRequest},
		{"no names", `{"timeframe":"24H","dapp_names":[]}`, http.StatusBadRequest},
		{"too many names", `{"timeframe":"24H","dapp_names":["a","b","c","d","e","f","g","h","i","j","k"]}`,
			http.StatusBadRequest},
		{"malformed body", `{"timeframe":`, http.StatusBadRequest},
		{"unknown dapp", `{"timeframe":"24H","dapp_names":["unknown-app"]}`, http.StatusNotFound},
	}
	for _, c := range cases {
		rec := doStats(s, "POST", "/api/dapps/stats", c.body)
		if rec.Code != c.code {
			t.Errorf("%s: expected %d, got %d: %s", c.name, c.code, rec.Code, rec.Body.String())

			continue
		}

		var er errResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
			t.Errorf("%s: could not decode error response: %v", c.name, err)
		} else if er.Success || er.Error == "" {
			t.Errorf("%s: expected success:false with a detail message, got %+v", c.name, er)
		}
	}
}

func TestStatsHandlerDefaultTimeframe(t *testing.T) {
	s := newTestStats(t)

	rec := doStats(s, "GET", "/api/dapps/stats?dapps=story-hunt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with default timeframe, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestParseStatsReqNormalizes(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/dapps/stats",
		strings.NewReader(`{"timeframe":"24H","dapp_names":[" Story-Hunt ",""]}`))

	q, err := parseStatsReq(req)
	if err != nil {
		t.Fatalf("parseStatsReq returned error: %v", err)
	}
	if len(q.Names) != 1 || q.Names[0] != "story-hunt" {
		t.Errorf("expected lower-cased trimmed names, got %v", q.Names)
	}
}

func TestHealthHandler(t *testing.T) {
	s := newTestStats(t)

	rec := httptest.NewRecorder()
	s.healthHandler(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
