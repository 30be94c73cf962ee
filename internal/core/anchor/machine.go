// Package anchor recognizes and restores known UI states.
//
// The remote UI is modeled as a small graph: anchors are recognizable states
// (results list visible, detail pane open), edges are recovery actions
// expected to move the UI from one anchor to another. All state checks are
// one-shot probes; nothing here subscribes to the page or keeps DOM handles,
// so a crashed driver costs at most one failed probe.
//
// Detect classifies the current probe against the profile's anchor specs.
// Ensure drives the UI back to a wanted anchor: act, settle, re-probe, until
// the target is reached or the budget runs out. Callers that can make do with
// a coarser state opt into ancestor fallback.
package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

// MachineConfig holds the compiled inputs for one machine.
type MachineConfig struct {
	Profile config.Profile

	// SettleInterval is the pause between a recovery action and the re-probe.
	SettleInterval time.Duration

	// ProbeCacheTTL coalesces rapid successive probes. Detect immediately
	// followed by Ensure reuses one observation.
	ProbeCacheTTL time.Duration

	// DefaultTimeout bounds Ensure when the caller passes no timeout.
	DefaultTimeout time.Duration

	// Evidence captures screenshots and DOM dumps on recovery attempts.
	// Nil disables capture entirely.
	Evidence *Capturer
}

// rule is one compiled anchor spec.
type rule struct {
	id        domain.Anchor
	urlRE     *regexp.Regexp
	markers   []string
	ancestors []domain.Anchor
	edges     map[domain.Anchor]domain.Action
}

// Machine classifies probes and restores anchors for one driver.
type Machine struct {
	driver   browser.Driver
	rules    []*rule
	byID     map[domain.Anchor]*rule
	home     string
	settle   time.Duration
	timeout  time.Duration
	cache    *probeCache
	evidence *Capturer
	log      *slog.Logger
}

// EnsureOpts tunes one Ensure call.
type EnsureOpts struct {
	// Timeout bounds the direct recovery phase. Zero uses the machine default.
	Timeout time.Duration

	// AllowAncestor permits falling back to a coarser anchor from the
	// target's Ancestors list when direct recovery times out.
	AllowAncestor bool

	// Stage labels the collect stage for checkpoints and evidence files.
	Stage string
}

// NewMachine compiles a profile's anchor specs into a machine bound to one
// driver.
func NewMachine(driver browser.Driver, cfg MachineConfig) (*Machine, error) {
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 800 * time.Millisecond
	}
	if cfg.ProbeCacheTTL <= 0 {
		cfg.ProbeCacheTTL = 300 * time.Millisecond
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 20 * time.Second
	}

	m := &Machine{
		driver:   driver,
		byID:     make(map[domain.Anchor]*rule, len(cfg.Profile.Anchors)),
		home:     cfg.Profile.BaseURL,
		settle:   cfg.SettleInterval,
		timeout:  cfg.DefaultTimeout,
		cache:    newProbeCache(cfg.ProbeCacheTTL),
		evidence: cfg.Evidence,
		log:      slog.Default().With("component", "anchor", "profile", cfg.Profile.Name),
	}

	for _, spec := range cfg.Profile.Anchors {
		if spec.ID == "" {
			return nil, fmt.Errorf("anchor spec with empty id")
		}
		r := &rule{
			id:    domain.Anchor(spec.ID),
			edges: make(map[domain.Anchor]domain.Action, len(spec.Edges)),
		}
		if spec.URLPattern != "" {
			re, err := regexp.Compile(spec.URLPattern)
			if err != nil {
				return nil, fmt.Errorf("anchor %s: bad url_pattern: %w", spec.ID, err)
			}
			r.urlRE = re
		}
		r.markers = append(r.markers, spec.Markers...)
		for _, a := range spec.Ancestors {
			r.ancestors = append(r.ancestors, domain.Anchor(a))
		}
		for _, e := range spec.Edges {
			r.edges[domain.Anchor(e.To)] = e.Action
		}
		m.byID[r.id] = r
		// An anchor_unknown spec only contributes default edges; it must not
		// act as a catch-all during classification.
		if r.id != domain.AnchorUnknown {
			m.rules = append(m.rules, r)
		}
	}

	return m, nil
}

// Detect probes the UI and classifies it against the anchor set. The probe is
// read-only; Detect never changes page state. A probe failure comes back as
// AnchorUnknown plus the error.
func (m *Machine) Detect(ctx context.Context) (domain.CheckpointState, error) {
	sig, err := m.probe(ctx)
	if err != nil {
		return domain.CheckpointState{Checkpoint: domain.AnchorUnknown}, err
	}
	return m.classify(sig), nil
}

// InvalidateProbe drops the cached probe. Callers that mutate page state
// outside the machine (search, open item) call this so the next Detect
// observes fresh state.
func (m *Machine) InvalidateProbe() {
	m.cache.Invalidate()
}

// Ensure drives the UI to the target anchor. Expected failures are reported
// in the result, not as errors; the caller decides whether a miss is fatal.
func (m *Machine) Ensure(ctx context.Context, target domain.Anchor, opts EnsureOpts) domain.EnsureResult {
	if target == domain.AnchorUnknown || target == "" {
		return domain.EnsureResult{
			Success: false,
			Stage:   opts.Stage,
			Detail:  "cannot ensure anchor_unknown",
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	deadline := time.Now().Add(timeout)

	st, err := m.Detect(ctx)
	if err != nil {
		m.log.Warn("probe failed, treating as unknown", "error", err)
	}
	from := st.Checkpoint
	cur := from

	if cur == target {
		return domain.EnsureResult{
			Success: true, From: from, Reached: target,
			Stage: opts.Stage, URL: st.URL,
		}
	}

	attempts := 0
	for time.Now().Before(deadline) && ctx.Err() == nil {
		action, ok := m.edgeFor(cur, target)
		if !ok {
			break
		}
		attempts++
		m.log.Debug("recovery action",
			"from", cur, "target", target, "kind", action.Kind, "attempt", attempts)

		if err := m.driver.Perform(ctx, action); err != nil {
			// A failed action is not final; the re-probe below tells us where
			// we actually are.
			m.log.Warn("recovery action failed", "kind", action.Kind, "error", err)
		}
		m.cache.Invalidate()
		m.evidence.OnAttempt(ctx, evidenceLabel(opts.Stage, target, attempts))

		if !m.sleepSettle(ctx, deadline) {
			break
		}

		st, err = m.Detect(ctx)
		if err != nil {
			cur = domain.AnchorUnknown
			continue
		}
		cur = st.Checkpoint
		if cur == target {
			return domain.EnsureResult{
				Success: true, From: from, Reached: target,
				Stage: opts.Stage, URL: st.URL,
			}
		}
	}

	if opts.AllowAncestor {
		if res, ok := m.tryAncestors(ctx, cur, target, opts); ok {
			res.From = from
			return res
		}
	}

	m.evidence.OnFailure(ctx, evidenceLabel(opts.Stage, target, attempts))
	return domain.EnsureResult{
		Success: false,
		From:    from,
		Reached: cur,
		Stage:   opts.Stage,
		URL:     st.URL,
		Detail:  fmt.Sprintf("failed to reach %s after %d attempts, stuck at %s", target, attempts, cur),
	}
}

// ============================================================================
// Internals
// ============================================================================

func (m *Machine) probe(ctx context.Context) (domain.ProbeSignal, error) {
	if sig, ok := m.cache.Get(); ok {
		return sig, nil
	}
	sig, err := m.driver.Probe(ctx)
	if err != nil {
		return domain.ProbeSignal{}, err
	}
	m.cache.Set(sig)
	return sig, nil
}

// classify returns the first rule, in profile order, whose URL pattern and
// markers all match. Profile order is the tie-breaker, so profiles list their
// most specific anchors first.
func (m *Machine) classify(sig domain.ProbeSignal) domain.CheckpointState {
	present := make(map[string]bool, len(sig.Markers))
	for _, name := range sig.Markers {
		present[name] = true
	}

	for _, r := range m.rules {
		if r.urlRE != nil && !r.urlRE.MatchString(sig.URL) {
			continue
		}
		matched := true
		for _, name := range r.markers {
			if !present[name] {
				matched = false
				break
			}
		}
		if matched {
			return domain.CheckpointState{Checkpoint: r.id, URL: sig.URL}
		}
	}
	return domain.CheckpointState{Checkpoint: domain.AnchorUnknown, URL: sig.URL}
}

// edgeFor picks the recovery action from cur toward target: the declared
// edge first, then the anchor_unknown default edge, then navigate home.
func (m *Machine) edgeFor(cur, target domain.Anchor) (domain.Action, bool) {
	if r, ok := m.byID[cur]; ok {
		if a, ok := r.edges[target]; ok {
			return a, true
		}
	}
	if r, ok := m.byID[domain.AnchorUnknown]; ok {
		if a, ok := r.edges[target]; ok {
			return a, true
		}
	}
	if m.home != "" {
		return domain.Action{Kind: domain.ActionNavigate, Target: m.home}, true
	}
	return domain.Action{}, false
}

// tryAncestors walks the target's ancestor list in config order, giving each
// one action plus a settle. First reached wins.
func (m *Machine) tryAncestors(ctx context.Context, cur, target domain.Anchor, opts EnsureOpts) (domain.EnsureResult, bool) {
	r, ok := m.byID[target]
	if !ok {
		return domain.EnsureResult{}, false
	}

	for _, anc := range r.ancestors {
		if ctx.Err() != nil {
			return domain.EnsureResult{}, false
		}
		if cur == anc {
			return domain.EnsureResult{
				Success: true, Reached: anc, Stage: opts.Stage,
				Detail: fmt.Sprintf("fell back to ancestor %s of %s", anc, target),
			}, true
		}

		action, ok := m.edgeFor(cur, anc)
		if !ok {
			continue
		}
		m.log.Info("falling back to ancestor", "target", target, "ancestor", anc)
		if err := m.driver.Perform(ctx, action); err != nil {
			m.log.Warn("ancestor recovery action failed", "ancestor", anc, "error", err)
		}
		m.cache.Invalidate()

		select {
		case <-ctx.Done():
			return domain.EnsureResult{}, false
		case <-time.After(m.settle):
		}

		st, err := m.Detect(ctx)
		if err != nil {
			continue
		}
		cur = st.Checkpoint
		if cur == anc {
			return domain.EnsureResult{
				Success: true, Reached: anc, Stage: opts.Stage, URL: st.URL,
				Detail: fmt.Sprintf("fell back to ancestor %s of %s", anc, target),
			}, true
		}
	}
	return domain.EnsureResult{}, false
}

// sleepSettle waits for the page to settle, bounded by ctx and the deadline.
// Returns false when the wait was cut short.
func (m *Machine) sleepSettle(ctx context.Context, deadline time.Time) bool {
	wait := m.settle
	if remaining := time.Until(deadline); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func evidenceLabel(stage string, target domain.Anchor, attempt int) string {
	if stage == "" {
		stage = "ensure"
	}
	return fmt.Sprintf("%s-%s-a%d", stage, target, attempt)
}
