package domain

type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionFill     ActionKind = "fill"
	ActionPress    ActionKind = "press"
	ActionScript   ActionKind = "script"
	ActionBack     ActionKind = "back"
)

// Action is one browser step expressed as data. Recovery edges in the anchor
// graph and the steps of a search are lists of these; the driver decides how
// to execute each kind.
type Action struct {
	Kind      ActionKind `yaml:"kind" json:"kind"`
	Target    string     `yaml:"target" json:"target"`
	Value     string     `yaml:"value,omitempty" json:"value,omitempty"`
	TimeoutMs int        `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}
