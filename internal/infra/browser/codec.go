package browser

import (
	"fmt"

	"github.com/vietddude/harvester/internal/core/domain"
)

// The list and detail payload shapes are shared by every backend: the local
// driver gets them from page scripts, bridge drivers from RPC responses.
// Values arrive as decoded JSON (map[string]any, []any, string).

// DecodeItemRefs converts a list payload into refs, capped at max when
// max > 0. Entries without an id or url are dropped rather than failing the
// whole enumeration.
func DecodeItemRefs(raw any, max int) ([]domain.ItemRef, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("list payload is %T, want array", raw)
	}
	refs := make([]domain.ItemRef, 0, len(list))
	for _, entry := range list {
		if max > 0 && len(refs) >= max {
			break
		}
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		ref := domain.ItemRef{
			ListID:    asString(m["id"]),
			Title:     asString(m["title"]),
			URL:       asString(m["url"]),
			Container: asString(m["container"]),
		}
		if ref.ListID == "" && ref.URL == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// DecodeRecord converts a detail payload into a record. Id, title, and body
// are required. A partial key names an optional field that failed; the record
// is returned populated alongside ErrPartialExtract so callers can degrade.
func DecodeRecord(raw any) (*domain.Record, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("detail payload is %T, want object", raw)
	}
	rec := &domain.Record{
		ItemID: asString(m["id"]),
		Title:  asString(m["title"]),
		Body:   asString(m["body"]),
		Author: asString(m["author"]),
		URL:    asString(m["url"]),
	}
	if comments, ok := m["comments"].([]any); ok {
		for _, c := range comments {
			if s := asString(c); s != "" {
				rec.Comments = append(rec.Comments, s)
			}
		}
	}

	if rec.ItemID == "" || rec.Title == "" || rec.Body == "" {
		return nil, fmt.Errorf("detail payload missing required fields (id=%q title present=%v body present=%v)",
			rec.ItemID, rec.Title != "", rec.Body != "")
	}

	if partial := asString(m["partial"]); partial != "" {
		return rec, fmt.Errorf("%w: %s", ErrPartialExtract, partial)
	}
	return rec, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
