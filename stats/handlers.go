package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/NodeSphereGL/Story-Dapp/lib/msg"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/util"
)

// StatsReq is the request body of POST /api/dapps/stats. The GET variant carries the same fields
// as query parameters: timeframe, dapps (comma separated) and sparklines.
type StatsReq struct {
	Timeframe         string   `json:"timeframe"`
	DappNames         []string `json:"dapp_names"`
	IncludeSparklines bool     `json:"include_sparklines"`
}

// Errors returned to client requests.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBadTimeframe = errors.New("timeframe must be one of 24H, 7D, 30D")
	ErrNoDapps      = errors.New("at least one dapp name is required")
	ErrTooManyDapps = errors.New("too many dapp names: at most 10 per request")
	ErrUnknownDapps = errors.New("none of the requested dapps are tracked")
	ErrNoBroker     = errors.New("no message broker available")
)

// errResponse is the envelope of every non-2xx reply.
type errResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// homeHandler just replies a welcome message to the client.
func (s *Stats) homeHandler(rw http.ResponseWriter, r *http.Request) {
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(map[string]string{"body": "Hello, this is your dApp activity tracker!"})
}

// healthHandler replies 200 while the store answers, 503 otherwise.
func (s *Stats) healthHandler(rw http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if _, err := s.db.GetDapps(r.Context(), false); err != nil {
		log.Printf("healthcheck: store unreachable: %v", err)

		status = http.StatusServiceUnavailable
	}

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]bool{"ok": status == http.StatusOK})
}

// statsHandler services GET and POST requests for windowed dApp statistics. Validation failures
// reply 400 with a detail message, a request where no dApp resolves replies 404, store failures
// reply 500. Rendered responses are cached briefly so dashboard polling does not hammer the store.
func (s *Stats) statsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var status int = http.StatusOK

	var payload []byte

	defer func() {
		// reply to requester accordingly
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(status)

		if err != nil {
			detail := fmt.Sprintf("%s", err)
			if s.production && status == http.StatusInternalServerError {
				detail = "internal error"
			}

			_ = json.NewEncoder(rw).Encode(errResponse{Error: detail})
		} else {
			_, _ = rw.Write(payload)
		}
		// log request
		log.Printf("httpreq from %v %s status:%d err:%v\n", r.RemoteAddr, r.RequestURI, status, err)
	}()

	var q Query
	if q, err = parseStatsReq(r); err != nil {
		status = http.StatusBadRequest

		return
	}

	if s.ca != nil {
		if b, ok, _ := s.ca.GetStats(r.Context(), q.CacheKey()); ok {
			payload = b

			return
		}
	}

	resp, berr := s.Build(r.Context(), q)
	if berr != nil {
		if errors.Is(berr, store.ErrDappNotFound) {
			err = ErrUnknownDapps
			status = http.StatusNotFound
		} else {
			err = berr
			status = http.StatusInternalServerError
		}

		return
	}

	if payload, err = json.Marshal(resp); err != nil {
		status = http.StatusInternalServerError

		return
	}

	if s.ca != nil {
		if cerr := s.ca.SetStats(r.Context(), q.CacheKey(), payload, cacheTTL); cerr != nil {
			log.Printf("stats: could not cache response: %v", cerr)
		}
	}
}

// SyncReq is the request body of POST /api/dapps/sync. An empty dapp_names list requests a crawl
// of every active dApp.
type SyncReq struct {
	DappNames []string `json:"dapp_names"`
}

// syncHandler publishes an off-schedule crawl request to the broker for the tracker to pick up. A
// request accepted status is replied; the tracker drops the request if a cycle is already running.
func (s *Stats) syncHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var status int = http.StatusAccepted

	var req SyncReq

	defer func() {
		// reply to requester accordingly
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(status)

		if err != nil {
			_ = json.NewEncoder(rw).Encode(errResponse{Error: fmt.Sprintf("%s", err)})
		} else {
			_ = json.NewEncoder(rw).Encode(map[string]bool{"success": true})
		}
		// log request
		log.Printf("httpreq from %v %s status:%d err:%v\n", r.RemoteAddr, r.RequestURI, status, err)
	}()

	if s.mb == nil {
		err = ErrNoBroker
		status = http.StatusServiceUnavailable

		return
	}

	if r.Body != nil && r.ContentLength != 0 {
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			err = ErrBadRequest
			status = http.StatusBadRequest

			return
		}
	}

	for i, n := range req.DappNames {
		req.DappNames[i] = strings.ToLower(strings.TrimSpace(n))
	}

	if err = s.mb.SendSyncReq(s.network, msg.SyncReq{Network: s.network, Slugs: req.DappNames}); err != nil {
		status = http.StatusInternalServerError
	}
}

// parseStatsReq decodes and validates a stats request from either verb into a Query.
func parseStatsReq(r *http.Request) (Query, error) {
	var req StatsReq

	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return Query{}, ErrBadRequest
		}
	case http.MethodGet:
		if err := r.ParseForm(); err != nil {
			return Query{}, ErrBadRequest
		}

		req.Timeframe = r.Form.Get("timeframe")
		if names := r.Form.Get("dapps"); names != "" {
			req.DappNames = strings.Split(names, ",")
		}

		req.IncludeSparklines = r.Form.Get("sparklines") == "true"
	default:
		return Query{}, ErrBadRequest
	}

	if req.Timeframe == "" {
		req.Timeframe = TF24H
	}

	if !util.In(Timeframes, req.Timeframe) {
		return Query{}, ErrBadTimeframe
	}

	names := make([]string, 0, len(req.DappNames))
	for _, n := range req.DappNames {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}

	if len(names) == 0 {
		return Query{}, ErrNoDapps
	}

	if len(names) > MaxDapps {
		return Query{}, ErrTooManyDapps
	}

	return Query{Timeframe: req.Timeframe, Names: names, Sparklines: req.IncludeSparklines}, nil
}
