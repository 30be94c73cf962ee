// Package playwright drives a locally launched Chromium through the
// playwright-go bindings. It is the default backend for interactive and
// single-host runs; bridge backends cover remote browsers.
package playwright

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

const (
	defaultViewportWidth  = 1366
	defaultViewportHeight = 900
)

// Config tunes the local browser.
type Config struct {
	Headless      bool
	UserAgent     string
	NavTimeout    time.Duration
	ActionTimeout time.Duration
}

// Driver implements browser.Driver on a playwright page. One driver owns one
// page; sessions that need isolation get their own driver.
type Driver struct {
	profile config.Profile
	cfg     Config

	pw      *pw.Playwright
	browser pw.Browser
	bctx    pw.BrowserContext
	page    pw.Page

	monitor *browser.Monitor
	log     *slog.Logger
}

// New launches a browser and opens the page the driver will act on.
// Playwright's own runtime is installed on first use; its output is discarded
// so it cannot interleave with our logs.
func New(profile config.Profile, cfg Config) (*Driver, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}

	runOpts := &pw.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := pw.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	runtime, err := pw.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := pw.BrowserTypeLaunchOptions{
		Headless: &cfg.Headless,
	}
	br, err := runtime.Chromium.Launch(launchOpts)
	if err != nil {
		runtime.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := pw.BrowserNewContextOptions{
		Viewport: &pw.Size{
			Width:  defaultViewportWidth,
			Height: defaultViewportHeight,
		},
	}
	if cfg.UserAgent != "" {
		contextOpts.UserAgent = &cfg.UserAgent
	}
	bctx, err := br.NewContext(contextOpts)
	if err != nil {
		br.Close()
		runtime.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		br.Close()
		runtime.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(cfg.ActionTimeout.Milliseconds()))

	return &Driver{
		profile: profile,
		cfg:     cfg,
		pw:      runtime,
		browser: br,
		bctx:    bctx,
		page:    page,
		monitor: browser.NewMonitor(),
		log:     slog.Default().With("component", "browser", "driver", "playwright", "profile", profile.Name),
	}, nil
}

// Probe implements browser.Driver. It reads the URL, title, and which profile
// markers are present; it never mutates page state.
func (d *Driver) Probe(ctx context.Context) (domain.ProbeSignal, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProbeSignal{}, err
	}
	if d.page == nil {
		return domain.ProbeSignal{}, browser.ErrNoSession
	}

	sig := domain.ProbeSignal{URL: d.page.URL()}
	if title, err := d.page.Title(); err == nil {
		sig.Title = title
	}

	names := make([]string, 0, len(d.profile.Markers))
	for name := range d.profile.Markers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		handle, err := d.page.QuerySelector(d.profile.Markers[name])
		if err != nil || handle == nil {
			continue
		}
		sig.Markers = append(sig.Markers, name)
	}
	return sig, nil
}

// Perform implements browser.Driver.
func (d *Driver) Perform(ctx context.Context, action domain.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.page == nil {
		return browser.ErrNoSession
	}

	start := time.Now()
	err := d.perform(action)
	d.monitor.RecordAction(time.Since(start))
	return d.mapError(err)
}

func (d *Driver) perform(action domain.Action) error {
	timeout := float64(d.cfg.ActionTimeout.Milliseconds())
	if action.TimeoutMs > 0 {
		timeout = float64(action.TimeoutMs)
	}

	switch action.Kind {
	case domain.ActionNavigate:
		target, err := d.resolveURL(action.Target)
		if err != nil {
			return err
		}
		navTimeout := float64(d.cfg.NavTimeout.Milliseconds())
		if action.TimeoutMs > 0 {
			navTimeout = float64(action.TimeoutMs)
		}
		waitUntil := pw.WaitUntilState("domcontentloaded")
		_, err = d.page.Goto(target, pw.PageGotoOptions{
			WaitUntil: &waitUntil,
			Timeout:   &navTimeout,
		})
		return err

	case domain.ActionClick:
		sel, err := d.resolveSelector(action.Target)
		if err != nil {
			return err
		}
		return d.page.Click(sel, pw.PageClickOptions{Timeout: &timeout})

	case domain.ActionFill:
		sel, err := d.resolveSelector(action.Target)
		if err != nil {
			return err
		}
		return d.page.Fill(sel, action.Value, pw.PageFillOptions{Timeout: &timeout})

	case domain.ActionPress:
		key := action.Value
		if key == "" {
			key = action.Target
		}
		return d.page.Keyboard().Press(key)

	case domain.ActionScript:
		_, err := d.page.Evaluate(action.Value)
		return err

	case domain.ActionBack:
		_, err := d.page.GoBack()
		return err

	default:
		return fmt.Errorf("unsupported action kind: %s", action.Kind)
	}
}

// Search implements browser.Driver: it runs the profile's search steps with
// the keyword substituted. The caller holds the gate permit for the duration.
func (d *Driver) Search(ctx context.Context, keyword string) error {
	if len(d.profile.Search) == 0 {
		return fmt.Errorf("profile %s has no search steps", d.profile.Name)
	}
	for i, step := range d.profile.Search {
		if err := d.Perform(ctx, substituteKeyword(step, keyword)); err != nil {
			return fmt.Errorf("search step %d (%s): %w", i+1, step.Kind, err)
		}
	}
	return nil
}

// ListItems implements browser.Driver by evaluating the profile's list
// script, which returns [{id, title, url, container}] for visible results.
func (d *Driver) ListItems(ctx context.Context, max int) ([]domain.ItemRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.profile.ListScript == "" {
		return nil, fmt.Errorf("profile %s has no list_script", d.profile.Name)
	}

	start := time.Now()
	raw, err := d.page.Evaluate(d.profile.ListScript)
	d.monitor.RecordAction(time.Since(start))
	if err != nil {
		return nil, d.mapError(err)
	}
	return browser.DecodeItemRefs(raw, max)
}

// OpenItem implements browser.Driver. Entries with a URL navigate directly;
// the rest click the profile's open_item selector with the id substituted.
func (d *Driver) OpenItem(ctx context.Context, ref domain.ItemRef) error {
	if ref.URL != "" {
		return d.Perform(ctx, domain.Action{Kind: domain.ActionNavigate, Target: ref.URL})
	}
	sel, ok := d.profile.Selectors["open_item"]
	if !ok {
		return fmt.Errorf("profile %s has no open_item selector and item %s has no url",
			d.profile.Name, ref.ListID)
	}
	sel = strings.ReplaceAll(sel, "{id}", ref.ListID)
	return d.Perform(ctx, domain.Action{Kind: domain.ActionClick, Target: sel})
}

// ExtractDetail implements browser.Driver by evaluating the profile's detail
// script. The script reports a failed optional field via the partial key; the
// record still carries everything that extracted.
func (d *Driver) ExtractDetail(ctx context.Context) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.profile.DetailScript == "" {
		return nil, fmt.Errorf("profile %s has no detail_script", d.profile.Name)
	}

	start := time.Now()
	raw, err := d.page.Evaluate(d.profile.DetailScript)
	d.monitor.RecordAction(time.Since(start))
	if err != nil {
		return nil, d.mapError(err)
	}
	return browser.DecodeRecord(raw)
}

// Screenshot implements browser.Driver.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.page == nil {
		return nil, browser.ErrNoSession
	}
	return d.page.Screenshot()
}

// DOMSnapshot implements browser.Driver.
func (d *Driver) DOMSnapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.page == nil {
		return "", browser.ErrNoSession
	}
	return d.page.Content()
}

// Name implements browser.Driver.
func (d *Driver) Name() string {
	return "playwright:" + d.profile.Name
}

// MonitorStats implements browser.Monitored.
func (d *Driver) MonitorStats() browser.MonitorStats {
	return d.monitor.Stats()
}

// Close implements browser.Driver.
func (d *Driver) Close() error {
	if d.page != nil {
		d.page.Close()
		d.page = nil
	}
	if d.bctx != nil {
		d.bctx.Close()
		d.bctx = nil
	}
	if d.browser != nil {
		d.browser.Close()
		d.browser = nil
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		d.pw = nil
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// mapError attaches typed sentinels to raw playwright failures so the
// classifier upstream sees intent, not library strings.
func (d *Driver) mapError(err error) error {
	if err == nil {
		return nil
	}
	if d.monitor.DetectThrottleMessage(err.Error()) {
		d.monitor.RecordRateLimit()
		return fmt.Errorf("%w: %s", browser.ErrRateLimited, err.Error())
	}
	return err
}

func (d *Driver) resolveSelector(target string) (string, error) {
	if !strings.HasPrefix(target, "@") {
		return target, nil
	}
	name := strings.TrimPrefix(target, "@")
	if sel, ok := d.profile.Selectors[name]; ok {
		return sel, nil
	}
	if sel, ok := d.profile.Markers[name]; ok {
		return sel, nil
	}
	return "", fmt.Errorf("profile %s: unknown selector %q", d.profile.Name, name)
}

func (d *Driver) resolveURL(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("bad navigation target %q: %w", target, err)
	}
	if ref.IsAbs() {
		return target, nil
	}
	base, err := url.Parse(d.profile.BaseURL)
	if err != nil {
		return "", fmt.Errorf("bad base url %q: %w", d.profile.BaseURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func substituteKeyword(a domain.Action, keyword string) domain.Action {
	a.Target = strings.ReplaceAll(a.Target, "{keyword}", keyword)
	a.Value = strings.ReplaceAll(a.Value, "{keyword}", keyword)
	return a
}
