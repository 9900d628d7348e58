package scan

import "time"

// AddressDescriptor describes one ledger account linked to a dApp as reported by the explorer.
type AddressDescriptor struct {
	Hash string `json:"hash"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"` // "contract" or "wallet"
}

// Transaction is the subset of the explorer transaction record the tracker consumes. Payload and
// method decoding is out of scope, only routing fields are kept.
type Transaction struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "ok", "error", "pending" or empty when unknown
}

// Failed reports whether the transaction status is a confirmed failure or revert. Everything
// else, including pending and unknown statuses, is accepted by the tracker.
func (t Transaction) Failed() bool {
	switch t.Status {
	case "error", "failed", "reverted":
		return true
	}

	return false
}

// dappResponse is the wire shape of the metadata-by-slug lookup.
type dappResponse struct {
	Slug      string              `json:"slug"`
	Title     string              `json:"title"`
	Addresses []AddressDescriptor `json:"addresses"`
}

// txPage is the wire shape of one page of the cursor-paginated transaction listing.
type txPage struct {
	Items      []Transaction `json:"items"`
	NextCursor string        `json:"next_cursor"`
}
