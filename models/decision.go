package models

// MatchCounts maps backend ID to the number of classifier patterns the task
// description matched for that backend.
type MatchCounts map[string]int

// Preferences are the caller-supplied routing hints for a single task
type Preferences struct {
	PreferCost    bool `json:"prefer_cost"`
	PreferSpeed   bool `json:"prefer_speed"`
	PreferQuality bool `json:"prefer_quality"`

	// ForceBackend bypasses scoring entirely when set to a registered
	// backend ID.
	ForceBackend string `json:"force_backend,omitempty"`
}

// RoutingDecision is the scorer's verdict for one task
type RoutingDecision struct {
	Backend string `json:"backend"`

	// Confidence is normalized to [0, 1]. Forced routing always yields
	// exactly 1.0.
	Confidence float64 `json:"confidence"`

	Justification string `json:"justification"`

	// Alternates are the top non-chosen backends in rank order. Empty when
	// routing was forced.
	Alternates []string `json:"alternates"`

	// Scores holds the raw per-backend scores that produced the decision,
	// for the dry-run surface and logs.
	Scores map[string]int `json:"scores,omitempty"`

	Forced bool `json:"forced,omitempty"`
}
