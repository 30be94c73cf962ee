package playwright

import (
	"testing"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
)

func testDriver() *Driver {
	return &Driver{
		profile: config.Profile{
			Name:    "forum",
			BaseURL: "https://example.test/app",
			Markers: map[string]string{
				"result_list": "ul.results",
			},
			Selectors: map[string]string{
				"search_box": "input[name=q]",
				"open_item":  "a[data-id='{id}']",
			},
		},
	}
}

func TestSubstituteKeyword(t *testing.T) {
	a := substituteKeyword(domain.Action{
		Kind:   domain.ActionFill,
		Target: "@search_box",
		Value:  "{keyword} news",
	}, "golang")
	if a.Value != "golang news" {
		t.Errorf("expected substituted value, got %q", a.Value)
	}
	if a.Target != "@search_box" {
		t.Errorf("target without placeholder must not change, got %q", a.Target)
	}
}

func TestResolveSelector(t *testing.T) {
	d := testDriver()

	tests := []struct {
		target  string
		want    string
		wantErr bool
	}{
		{"@search_box", "input[name=q]", false},
		{"@result_list", "ul.results", false}, // markers are addressable too
		{"div.raw", "div.raw", false},
		{"@nope", "", true},
	}
	for _, tt := range tests {
		got, err := d.resolveSelector(tt.target)
		if tt.wantErr {
			if err == nil {
				t.Errorf("resolveSelector(%q): expected error", tt.target)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveSelector(%q) failed: %v", tt.target, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveSelector(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	d := testDriver()

	abs, err := d.resolveURL("https://other.test/x")
	if err != nil || abs != "https://other.test/x" {
		t.Errorf("absolute URL must pass through, got %q err %v", abs, err)
	}

	rel, err := d.resolveURL("/items/7")
	if err != nil {
		t.Fatalf("resolveURL failed: %v", err)
	}
	if rel != "https://example.test/items/7" {
		t.Errorf("expected https://example.test/items/7, got %q", rel)
	}
}
