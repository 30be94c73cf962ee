package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/infra/browser"
)

// EvidencePolicy controls when recovery attempts leave screenshots and DOM
// dumps behind for offline diagnosis.
type EvidencePolicy string

const (
	EvidenceOff       EvidencePolicy = "off"
	EvidenceOnFailure EvidencePolicy = "on_failure"
	EvidenceAlways    EvidencePolicy = "always"
)

// ParsePolicy maps a config string to a policy, defaulting to on_failure.
func ParsePolicy(s string) EvidencePolicy {
	switch EvidencePolicy(s) {
	case EvidenceOff, EvidenceOnFailure, EvidenceAlways:
		return EvidencePolicy(s)
	default:
		return EvidenceOnFailure
	}
}

// Capturer writes evidence files for one session. Capture failures are logged
// and swallowed; evidence must never break recovery itself. All methods are
// nil-receiver safe so callers can carry a nil capturer for "off".
type Capturer struct {
	driver    browser.Driver
	dir       string
	sessionID string
	policy    EvidencePolicy
	log       *slog.Logger
}

// NewCapturer creates a capturer writing into dir. Returns nil (not an error)
// when the policy is off, so wiring code can pass the result straight through.
func NewCapturer(driver browser.Driver, dir, sessionID string, policy EvidencePolicy) (*Capturer, error) {
	if policy == EvidenceOff {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence dir: %w", err)
	}
	return &Capturer{
		driver:    driver,
		dir:       dir,
		sessionID: sessionID,
		policy:    policy,
		log:       slog.Default().With("component", "evidence", "session", sessionID),
	}, nil
}

// OnAttempt captures after a recovery action when the policy is always.
func (c *Capturer) OnAttempt(ctx context.Context, label string) {
	if c == nil || c.policy != EvidenceAlways {
		return
	}
	c.capture(ctx, label)
}

// OnFailure captures when recovery has failed, for on_failure and always.
func (c *Capturer) OnFailure(ctx context.Context, label string) {
	if c == nil {
		return
	}
	c.capture(ctx, label)
}

func (c *Capturer) capture(ctx context.Context, label string) {
	stamp := time.Now().UTC().Format("20060102T150405")
	id := uuid.New().String()[:8]
	base := filepath.Join(c.dir, fmt.Sprintf("%s_%s_%s_%s", c.sessionID, stamp, label, id))

	if png, err := c.driver.Screenshot(ctx); err != nil {
		c.log.Warn("screenshot capture failed", "error", err)
	} else if err := os.WriteFile(base+".png", png, 0644); err != nil {
		c.log.Warn("screenshot write failed", "error", err)
	}

	if dom, err := c.driver.DOMSnapshot(ctx); err != nil {
		c.log.Warn("dom capture failed", "error", err)
	} else if err := os.WriteFile(base+".html", []byte(dom), 0644); err != nil {
		c.log.Warn("dom write failed", "error", err)
	}
}
