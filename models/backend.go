package models

// SpeedClass is the coarse latency class of a backend
type SpeedClass string

const (
	SpeedFastest SpeedClass = "fastest"
	SpeedFast    SpeedClass = "fast"
	SpeedMedium  SpeedClass = "medium"
	SpeedSlow    SpeedClass = "slow"
)

// Rank orders speed classes from fastest (0) to slowest. Unknown classes
// rank below every valid one.
func (s SpeedClass) Rank() int {
	switch s {
	case SpeedFastest:
		return 0
	case SpeedFast:
		return 1
	case SpeedMedium:
		return 2
	case SpeedSlow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether the speed class is one of the known values
func (s SpeedClass) Valid() bool {
	return s.Rank() < 4
}

// QualityClass is the coarse output-quality class of a backend
type QualityClass string

const (
	QualityHighest QualityClass = "highest"
	QualityHigh    QualityClass = "high"
	QualityGood    QualityClass = "good"
)

// Rank orders quality classes from highest (0) downward. Unknown classes
// rank below every valid one.
func (q QualityClass) Rank() int {
	switch q {
	case QualityHighest:
		return 0
	case QualityHigh:
		return 1
	case QualityGood:
		return 2
	default:
		return 3
	}
}

// Valid reports whether the quality class is one of the known values
func (q QualityClass) Valid() bool {
	return q.Rank() < 3
}

// BackendSpec describes one execution backend in the registry. Specs are
// immutable after registry load; routing reads them, never writes them.
type BackendSpec struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`

	// Costs are USD per 1K tokens. Zero on both sides marks a free backend.
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`

	Strengths  []string `json:"strengths,omitempty" yaml:"strengths"`
	Weaknesses []string `json:"weaknesses,omitempty" yaml:"weaknesses"`

	ContextWindow int          `json:"context_window" yaml:"context_window"`
	Speed         SpeedClass   `json:"speed" yaml:"speed"`
	Quality       QualityClass `json:"quality" yaml:"quality"`

	// Patterns is the classifier group for this backend: case-insensitive
	// regular expressions matched against task descriptions.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns"`
}

// AverageCostPer1K is the mean of input and output per-1K costs, used by
// cost-sensitive scoring.
func (b BackendSpec) AverageCostPer1K() float64 {
	return (b.InputCostPer1K + b.OutputCostPer1K) / 2
}

// IsFree reports whether the backend charges nothing per token
func (b BackendSpec) IsFree() bool {
	return b.InputCostPer1K == 0 && b.OutputCostPer1K == 0
}
