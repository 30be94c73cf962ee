package domain

// Anchor names a recognizable state of the remote UI's navigation.
// The set of anchors and the edges between them come from the site profile.
type Anchor string

const (
	AnchorUnknown     Anchor = "anchor_unknown"
	AnchorHomeReady   Anchor = "home_ready"
	AnchorSearchReady Anchor = "search_ready"
	AnchorDetailOpen  Anchor = "detail_open"
	AnchorLoginWall   Anchor = "login_wall"
)

// ProbeSignal is the raw read-only observation of the remote UI:
// the current URL plus which profile markers are present on the page.
type ProbeSignal struct {
	URL     string
	Title   string
	Markers []string
}

// CheckpointState is the result of classifying one probe against the
// registered anchor set. Checkpoint is AnchorUnknown when nothing matches.
type CheckpointState struct {
	Checkpoint Anchor `json:"checkpoint"`
	Stage      string `json:"stage"`
	URL        string `json:"url"`
}

// EnsureResult reports the outcome of restoring an anchor. Reached may be an
// ancestor of the requested target when fallback was allowed.
type EnsureResult struct {
	Success bool
	From    Anchor
	Reached Anchor
	Stage   string
	URL     string
	Detail  string
}
