package browser

import (
	"context"
	"errors"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Sentinel errors every driver maps its transport-specific failures onto.
// The classifier keys off these, so drivers should wrap with %w.
var (
	// ErrAuthRequired means the remote UI demands a login the session no
	// longer has (login wall, expired cookie, revoked token).
	ErrAuthRequired = errors.New("authentication required")

	// ErrRateLimited means the upstream refused the action because it is
	// being called too fast.
	ErrRateLimited = errors.New("rate limited")

	// ErrItemGone means the targeted item no longer exists upstream.
	ErrItemGone = errors.New("item gone")

	// ErrPartialExtract means required fields extracted but an optional one
	// failed; the wrapped message names the field.
	ErrPartialExtract = errors.New("partial extract")

	// ErrNoSession means the driver has no live page/connection to act on.
	ErrNoSession = errors.New("no browser session")
)

// Driver is the narrow capability boundary between the orchestration core and
// a concrete browser backend. The core never issues raw DOM selectors; those
// live in the site profile each driver is built with.
type Driver interface {
	// Probe reports the current URL and which profile markers are present.
	// Read-only: it never changes page state.
	Probe(ctx context.Context) (domain.ProbeSignal, error)

	// Perform executes one action (navigate, click, fill, press, script, back).
	Perform(ctx context.Context, action domain.Action) error

	// Search runs the profile's search steps for a keyword. This is the
	// globally rate-limited action; callers hold a gate permit.
	Search(ctx context.Context, keyword string) error

	// ListItems enumerates the current results list, up to max entries.
	ListItems(ctx context.Context, max int) ([]domain.ItemRef, error)

	// OpenItem opens the detail view for a list entry.
	OpenItem(ctx context.Context, ref domain.ItemRef) error

	// ExtractDetail runs the profile's detail extraction on the open view.
	// Field-scoped failures come back as ErrPartialExtract with the record
	// still populated for the fields that succeeded.
	ExtractDetail(ctx context.Context) (*domain.Record, error)

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// DOMSnapshot returns the serialized DOM of the current page.
	DOMSnapshot(ctx context.Context) (string, error)

	// Name identifies the driver for logs and health reporting.
	Name() string

	// Close releases the underlying browser resources.
	Close() error
}
