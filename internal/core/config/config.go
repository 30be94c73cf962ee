package config

import (
	"time"

	"github.com/vietddude/harvester/internal/collect/gate"
	"github.com/vietddude/harvester/internal/core/domain"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Session  SessionConfig      `yaml:"session"`
	Browser  BrowserConfig      `yaml:"browser"`
	Gate     gate.Config        `yaml:"gate"`
	Budget   BudgetConfig       `yaml:"budget"`
	Collect  CollectConfig      `yaml:"collect"`
	Storage  StorageConfig      `yaml:"storage"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Profiles []Profile          `yaml:"profiles"`
	Runs     []RunEntry         `yaml:"runs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SessionConfig holds per-host session state settings.
type SessionConfig struct {
	// StateDir is where progress snapshots are written.
	StateDir string `yaml:"state_dir"`

	// EvidenceDir receives screenshots and DOM dumps captured on anchor
	// recovery failures.
	EvidenceDir string `yaml:"evidence_dir"`

	// EvidencePolicy is off, on_failure, or always.
	EvidencePolicy string `yaml:"evidence_policy"`

	// EvidenceRetention bounds how long captured evidence is kept.
	EvidenceRetention time.Duration `yaml:"evidence_retention"`
}

// BrowserConfig selects and tunes the browser backend.
type BrowserConfig struct {
	// Driver is playwright, grpc, or http.
	Driver string `yaml:"driver"`

	// Endpoint is the bridge address for the grpc and http drivers.
	Endpoint string `yaml:"endpoint"`

	Headless      bool          `yaml:"headless"`
	UserAgent     string        `yaml:"user_agent"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// BudgetConfig caps daily consumption of the rate-limited action.
type BudgetConfig struct {
	DailySearches int `yaml:"daily_searches"` // 0 = unlimited
}

// CollectConfig tunes the collect loop.
type CollectConfig struct {
	// GateWait is how long a round waits for a search permit before backing
	// off and retrying the round.
	GateWait time.Duration `yaml:"gate_wait"`

	// SettleInterval is the pause between a recovery action and the re-probe
	// that checks whether it worked.
	SettleInterval time.Duration `yaml:"settle_interval"`

	// EnsureTimeout bounds one anchor recovery attempt.
	EnsureTimeout time.Duration `yaml:"ensure_timeout"`

	// BaseCooldown and MaxCooldown bound the adaptive pause between rounds.
	BaseCooldown time.Duration `yaml:"base_cooldown"`
	MaxCooldown  time.Duration `yaml:"max_cooldown"`

	// SaveEvery flushes the progress snapshot after this many collected items.
	SaveEvery int `yaml:"save_every"`

	// Output is a JSONL file collected records are appended to. Empty means
	// records are emitted to the log only.
	Output string `yaml:"output"`

	PerSearchMax int         `yaml:"per_search_max"`
	MaxRounds    int         `yaml:"max_rounds"`
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig tunes per-step retries inside a round.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// StorageConfig selects the embedded storage backend. When Database.URL is
// set it wins over Path; when both are empty records stay in memory.
type StorageConfig struct {
	Path string `yaml:"path"` // bolt database file
}

// Profile describes one target site: how to recognize its UI states, how to
// move between them, and how to extract data. All selectors live here so the
// orchestration core stays site-agnostic.
type Profile struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`

	// Markers maps marker names to CSS selectors. Anchor specs reference
	// markers by name.
	Markers map[string]string `yaml:"markers"`

	// Selectors maps action target names (prefixed @ in actions) to CSS
	// selectors. The open_item selector may contain a {id} placeholder.
	Selectors map[string]string `yaml:"selectors"`

	Anchors []AnchorSpec `yaml:"anchors"`

	// Search is the action sequence for one search; {keyword} placeholders
	// are substituted at run time.
	Search []domain.Action `yaml:"search"`

	// ListScript and DetailScript are page scripts returning the result list
	// and the opened item's fields.
	ListScript   string `yaml:"list_script"`
	DetailScript string `yaml:"detail_script"`
}

// AnchorSpec declares one recognizable UI state.
type AnchorSpec struct {
	ID string `yaml:"id"`

	// URLPattern is a regular expression matched against the page URL.
	URLPattern string `yaml:"url_pattern"`

	// Markers lists marker names that must all be present.
	Markers []string `yaml:"markers"`

	// Ancestors lists coarser anchors to fall back to, nearest first.
	Ancestors []string `yaml:"ancestors"`

	// Edges are recovery actions toward other anchors.
	Edges []EdgeSpec `yaml:"edges"`
}

// EdgeSpec is one transition: the action expected to move the UI from this
// spec's anchor to the target anchor.
type EdgeSpec struct {
	To     string        `yaml:"to"`
	Action domain.Action `yaml:"action"`
}

// RunEntry declares one collection session to run.
type RunEntry struct {
	SessionID    string   `yaml:"session_id"`
	Profile      string   `yaml:"profile"`
	Keywords     []string `yaml:"keywords"`
	Target       int      `yaml:"target"`
	PerSearchMax int      `yaml:"per_search_max"` // 0 = collect default
	MaxRounds    int      `yaml:"max_rounds"`     // 0 = collect default
}

// ProfileByName looks up a profile.
func (c *AppConfig) ProfileByName(name string) (Profile, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
