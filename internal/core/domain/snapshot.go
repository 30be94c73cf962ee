package domain

// ProgressSnapshot is the persisted unit of resumability for one session.
// SeenKeys has set semantics; it is kept sorted on disk for stable files.
type ProgressSnapshot struct {
	SessionID      string   `json:"session_id"`
	KeywordIndex   int      `json:"keyword_index"`
	SearchRound    int      `json:"search_round"`
	CollectedCount int      `json:"collected_count"`
	SeenKeys       []string `json:"seen_keys"`
	LastKeyword    string   `json:"last_keyword"`
	LastItemID     string   `json:"last_item_id"`
	UpdatedAt      int64    `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing SeenKeys.
func (s *ProgressSnapshot) Clone() *ProgressSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.SeenKeys = make([]string, len(s.SeenKeys))
	copy(out.SeenKeys, s.SeenKeys)
	return &out
}
