package e2e

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
)

// fakeSite simulates a target site realistically enough for the whole stack:
// the probe URL tracks navigation, so anchor detection and recovery run for
// real. Failure injection is per item.
type fakeSite struct {
	mu      sync.Mutex
	url     string
	items   []domain.ItemRef
	records map[string]*domain.Record
	failing map[string]error // extract errors by list id
	current string
	offset  int
	delay   time.Duration
	opened  int
}

func newFakeSite(n int) *fakeSite {
	s := &fakeSite{
		url:     "https://site.test",
		records: make(map[string]*domain.Record),
		failing: make(map[string]error),
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("row-%02d", i)
		s.items = append(s.items, domain.ItemRef{ListID: id, Title: "post " + id})
		s.records[id] = &domain.Record{
			ItemID: "post-" + id,
			Title:  "post " + id,
			Body:   "content of " + id,
			Author: "author",
		}
	}
	return s
}

func (s *fakeSite) failItem(listID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[listID] = err
}

func (s *fakeSite) fixItem(listID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, listID)
}

func (s *fakeSite) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *fakeSite) Probe(ctx context.Context) (domain.ProbeSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ProbeSignal{URL: s.url}, nil
}

func (s *fakeSite) Perform(ctx context.Context, a domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = "https://site.test/search"
	return nil
}

func (s *fakeSite) Search(ctx context.Context, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = "https://site.test/search"
	return nil
}

// ListItems pages through the corpus the way repeated searches surface
// different results, wrapping around at the end.
func (s *fakeSite) ListItems(ctx context.Context, max int) ([]domain.ItemRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offset >= len(s.items) {
		s.offset = 0
	}
	end := s.offset + max
	if end > len(s.items) {
		end = len(s.items)
	}
	page := s.items[s.offset:end]
	s.offset = end
	return page, nil
}

func (s *fakeSite) OpenItem(ctx context.Context, ref domain.ItemRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ref.ListID
	s.opened++
	s.url = "https://site.test/item/" + ref.ListID
	return nil
}

func (s *fakeSite) ExtractDetail(ctx context.Context) (*domain.Record, error) {
	s.mu.Lock()
	cur := s.current
	failErr := s.failing[cur]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failErr != nil {
		return nil, failErr
	}
	rec, ok := s.records[cur]
	if !ok {
		return nil, fmt.Errorf("no item open")
	}
	clone := *rec
	return &clone, nil
}

func (s *fakeSite) Screenshot(ctx context.Context) ([]byte, error)  { return []byte{0x89}, nil }
func (s *fakeSite) DOMSnapshot(ctx context.Context) (string, error) { return "<html/>", nil }
func (s *fakeSite) Name() string                                    { return "fake-site" }
func (s *fakeSite) Close() error                                    { return nil }

func siteProfile() config.Profile {
	return config.Profile{
		Name:    "site",
		BaseURL: "https://site.test",
		Anchors: []config.AnchorSpec{
			{ID: "search_ready", URLPattern: `/search$`},
			{
				ID:         "detail_open",
				URLPattern: `/item/`,
				Ancestors:  []string{"search_ready"},
				Edges: []config.EdgeSpec{
					{To: "search_ready", Action: domain.Action{Kind: domain.ActionBack}},
				},
			},
		},
	}
}

func baseConfig(t *testing.T, stateDir string, target int) config.AppConfig {
	t.Helper()
	return config.AppConfig{
		Session: config.SessionConfig{
			StateDir:       stateDir,
			EvidenceDir:    t.TempDir(),
			EvidencePolicy: "off",
		},
		Collect: config.CollectConfig{
			GateWait:       time.Second,
			SettleInterval: time.Millisecond,
			EnsureTimeout:  time.Second,
			BaseCooldown:   time.Millisecond,
			MaxCooldown:    8 * time.Millisecond,
			SaveEvery:      3,
			PerSearchMax:   50,
			MaxRounds:      20,
			Retry: config.RetryConfig{
				MaxAttempts: 2,
				BaseDelay:   time.Millisecond,
				MaxDelay:    4 * time.Millisecond,
			},
		},
		Profiles: []config.Profile{siteProfile()},
		Runs: []config.RunEntry{
			{
				SessionID: "e2e-session",
				Profile:   "site",
				Keywords:  []string{"keyword-a", "keyword-b"},
				Target:    target,
			},
		},
	}
}
