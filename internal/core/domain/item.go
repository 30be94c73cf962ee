package domain

// ItemRef is the list-level handle for an item before its detail view has
// been opened. ListID is the approximate id surfaced by the results list; the
// canonical id is only known after navigation resolves it.
type ItemRef struct {
	ListID    string
	Title     string
	URL       string
	Container string
}

// Record is one collected item. Degraded marks a record that is missing an
// optional field due to a recoverable partial failure.
type Record struct {
	Key            string   `json:"key"`
	ItemID         string   `json:"item_id"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Author         string   `json:"author,omitempty"`
	Comments       []string `json:"comments,omitempty"`
	Degraded       bool     `json:"degraded,omitempty"`
	DegradedReason string   `json:"degraded_reason,omitempty"`
	Keyword        string   `json:"keyword"`
	SessionID      string   `json:"session_id"`
	URL            string   `json:"url,omitempty"`
	CollectedAt    int64    `json:"collected_at"`
}
