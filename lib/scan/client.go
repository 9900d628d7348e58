// Package scan implements the client to the ledger explorer API. All calls go through one shared
// limiter: exactly one request in flight process-wide and a minimum delay between consecutive
// requests, with bounded exponential backoff on server errors and throttling. The client holds no
// state beyond the limiter and the HTTP transport, so a single instance is shared by all callers.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	callTimeout = 15 * time.Second
	minDelay    = 200 * time.Millisecond
	maxRetries  = 3
	// maxPages bounds one address crawl so malformed pagination can never loop forever
	maxPages = 50
)

// Errors returned
var (
	ErrSourceUnavailable = errors.New("explorer source unavailable")
	ErrNotFound          = errors.New("no addresses found for dapp")
)

// Client is a rate-limited explorer API client.
type Client struct {
	url string
	key string
	hc  *http.Client

	mu   sync.Mutex // held for the whole call: one request in flight process-wide
	last time.Time  // completion time of the previous request
}

// New returns a client for the explorer API at baseURL. key, when not empty, is sent as the
// x-api-key header on every request.
func New(baseURL, key string) *Client {
	return &Client{
		url: strings.TrimRight(baseURL, "/"),
		key: key,
		hc:  &http.Client{Timeout: callTimeout},
	}
}

// get performs one limited, retried GET of path. Server errors (5xx), throttling (429) and
// transport failures (including timeouts) are retried up to maxRetries times with 2^attempt
// seconds backoff; any other status is returned to the caller to interpret.
func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("scan: retrying %s in %v (attempt %d/%d)", path, backoff, attempt, maxRetries)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			}
		}
		if wait := minDelay - time.Since(c.last); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.key != "" {
			req.Header.Set("x-api-key", c.key)
		}

		resp, err := c.hc.Do(req)
		c.last = time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = err

			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("explorer replied %s", resp.Status)

			continue
		}

		return resp.StatusCode, body, nil
	}

	return 0, nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

// Addresses resolves the addresses linked to the dApp slug. When tag is not empty only
// descriptors of that type (ie. "contract") are returned. ErrNotFound is returned when the
// source reports no addresses for the slug.
func (c *Client) Addresses(ctx context.Context, slug, tag string) ([]AddressDescriptor, error) {
	status, body, err := c.get(ctx, "/dapps/"+url.PathEscape(slug))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("explorer dapp lookup replied status %d", status)
	}

	var dr dappResponse
	if err = json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("could not decode dapp response: %w", err)
	}

	out := make([]AddressDescriptor, 0, len(dr.Addresses))
	for _, a := range dr.Addresses {
		if tag != "" && a.Type != tag {
			continue
		}
		a.Hash = strings.ToLower(a.Hash)
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}

	return out, nil
}

// Transactions returns a finite, non-restartable stream over the address's transaction history,
// most recent first, ending at the cutoff.
func (c *Client) Transactions(address string, cutoff time.Time) *TxStream {
	return &TxStream{
		c:       c,
		address: strings.ToLower(address),
		cutoff:  cutoff,
	}
}

// TxByHash looks up a single transaction. The lookup is best-effort: an unknown hash returns
// (nil, nil) rather than an error.
func (c *Client) TxByHash(ctx context.Context, hash string) (*Transaction, error) {
	status, body, err := c.get(ctx, "/transactions/"+url.PathEscape(strings.ToLower(hash)))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("explorer tx lookup replied status %d", status)
	}

	var tx Transaction
	if err = json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("could not decode transaction: %w", err)
	}
	normalize(&tx)

	return &tx, nil
}

// Health probes the explorer health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	status, _, err := c.get(ctx, "/health")

	return err == nil && status == http.StatusOK
}

func normalize(tx *Transaction) {
	tx.Hash = strings.ToLower(tx.Hash)
	tx.From = strings.ToLower(tx.From)
	tx.To = strings.ToLower(tx.To)
}

// TxStream walks the cursor-paginated transaction listing of one address lazily. It terminates
// when no further pages exist, when a yielded transaction is older than the cutoff, or when the
// page-limit safeguard is hit. A pagination error after the first page ends the stream early:
// partial data is preferred over failing the whole address.
type TxStream struct {
	c       *Client
	address string
	cutoff  time.Time

	cursor string
	buf    []Transaction
	pages  int
	done   bool
}

// Next returns the next transaction or (nil, nil) when the stream is exhausted. The stream
// cannot be restarted.
func (s *TxStream) Next(ctx context.Context) (*Transaction, error) {
	for {
		if s.done && len(s.buf) == 0 {
			return nil, nil
		}

		if len(s.buf) == 0 {
			if err := s.fetch(ctx); err != nil {
				return nil, err
			}

			continue
		}

		tx := s.buf[0]
		s.buf = s.buf[1:]
		normalize(&tx)

		// the listing is time-descending, so the first transaction beyond the cutoff ends the walk
		if !tx.Timestamp.IsZero() && tx.Timestamp.Before(s.cutoff) {
			s.done = true
			s.buf = nil

			return nil, nil
		}

		return &tx, nil
	}
}

func (s *TxStream) fetch(ctx context.Context) error {
	if s.pages >= maxPages {
		log.Printf("scan: [%s] page limit %d hit, ending stream", s.address, maxPages)
		s.done = true

		return nil
	}

	path := "/addresses/" + url.PathEscape(s.address) + "/transactions"
	if s.cursor != "" {
		path += "?cursor=" + url.QueryEscape(s.cursor)
	}

	status, body, err := s.c.get(ctx, path)
	if err != nil || status != http.StatusOK {
		if err == nil {
			err = fmt.Errorf("explorer tx listing replied status %d", status)
		}
		if s.pages == 0 {
			s.done = true

			return err
		}
		// partial data already yielded, keep it
		log.Printf("scan: [%s] pagination failed after %d pages: %v", s.address, s.pages, err)
		s.done = true

		return nil
	}

	var page txPage
	if err = json.Unmarshal(body, &page); err != nil {
		if s.pages == 0 {
			s.done = true

			return fmt.Errorf("could not decode tx page: %w", err)
		}
		log.Printf("scan: [%s] bad page after %d pages: %v", s.address, s.pages, err)
		s.done = true

		return nil
	}

	s.pages++
	s.buf = page.Items
	s.cursor = page.NextCursor
	if s.cursor == "" || len(page.Items) == 0 {
		s.done = true
	}

	return nil
}
