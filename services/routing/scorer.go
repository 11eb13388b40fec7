package routing

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services/backends"
)

const (
	// matchWeight is the score contributed by each matched pattern.
	matchWeight = 10

	// costBonusCap is the largest cost-preference bonus. Zero-cost backends
	// receive the cap outright.
	costBonusCap = 20

	// costBonusScale is divided by the backend's average per-1K cost to
	// produce the cost-preference bonus.
	costBonusScale = 1.0

	// defaultConfidence is assigned when no backend scores above zero.
	defaultConfidence = 0.3

	// DefaultConfidenceDivisor normalizes the winning score into a 0-1
	// confidence value.
	DefaultConfidenceDivisor = 50
)

// speedBonus maps speed class rank (fastest first) to its preference bonus.
var speedBonus = [...]int{15, 10, 6, 3}

// qualityBonus maps quality class rank (highest first) to its preference bonus.
var qualityBonus = [...]int{15, 10, 6}

// ScorerConfig holds the tunable parts of the scoring policy.
type ScorerConfig struct {
	// ConfidenceDivisor normalizes the winning score into confidence.
	ConfidenceDivisor int
}

// DefaultScorerConfig returns the standard scoring policy.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		ConfidenceDivisor: DefaultConfidenceDivisor,
	}
}

// Scorer ranks backends for a task from classifier match counts and caller
// preferences.
type Scorer struct {
	config   ScorerConfig
	registry *backends.Registry
	logger   *zap.Logger
}

// NewScorer creates a scorer bound to a backend registry.
func NewScorer(config ScorerConfig, registry *backends.Registry, logger *zap.Logger) *Scorer {
	if config.ConfidenceDivisor <= 0 {
		config.ConfidenceDivisor = DefaultConfidenceDivisor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		config:   config,
		registry: registry,
		logger:   logger,
	}
}

// rankedBackend pairs a backend with its computed score.
type rankedBackend struct {
	id    string
	score int
}

// Score converts match counts, caller preferences, and backend availability
// into a routing decision. It is total: every input yields a decision.
// Backends absent from the availability map are treated as available.
func (s *Scorer) Score(counts models.MatchCounts, prefs models.Preferences, availability map[string]bool) models.RoutingDecision {
	// Forcing a backend bypasses classification, availability, and scoring.
	if prefs.ForceBackend != "" {
		return models.RoutingDecision{
			Backend:       prefs.ForceBackend,
			Confidence:    1.0,
			Justification: fmt.Sprintf("forced to %s by caller", prefs.ForceBackend),
			Alternates:    []string{},
			Forced:        true,
		}
	}

	specs := s.registry.Specs()
	ranked := make([]rankedBackend, 0, len(specs))
	scores := make(map[string]int, len(specs))

	for _, spec := range specs {
		if available, known := availability[spec.ID]; known && !available {
			continue
		}

		score := counts[spec.ID] * matchWeight
		if prefs.PreferCost {
			score += costBonus(spec)
		}
		if prefs.PreferSpeed {
			score += bonusAt(speedBonus[:], spec.Speed.Rank())
		}
		if prefs.PreferQuality {
			score += bonusAt(qualityBonus[:], spec.Quality.Rank())
		}

		ranked = append(ranked, rankedBackend{id: spec.ID, score: score})
		scores[spec.ID] = score
	}

	// Stable sort keeps registry declaration order for equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) == 0 || ranked[0].score == 0 {
		return s.defaultDecision(ranked, scores)
	}

	top := ranked[0]
	confidence := float64(top.score) / float64(s.config.ConfidenceDivisor)
	if confidence > 1.0 {
		confidence = 1.0
	}

	decision := models.RoutingDecision{
		Backend:       top.id,
		Confidence:    confidence,
		Justification: justify(counts[top.id], top.score, prefs),
		Alternates:    alternates(ranked, top.id),
		Scores:        scores,
	}

	s.logger.Debug("scored task",
		zap.String("backend", decision.Backend),
		zap.Float64("confidence", decision.Confidence),
		zap.Any("scores", scores),
	)

	return decision
}

// defaultDecision routes to the registry default when every backend was
// excluded or scored zero.
func (s *Scorer) defaultDecision(ranked []rankedBackend, scores map[string]int) models.RoutingDecision {
	def := s.registry.DefaultBackend()

	s.logger.Debug("no strong signal, using default backend",
		zap.String("backend", def),
	)

	return models.RoutingDecision{
		Backend:       def,
		Confidence:    defaultConfidence,
		Justification: "no strong signal",
		Alternates:    alternates(ranked, def),
		Scores:        scores,
	}
}

// alternates returns the top two non-chosen backends in rank order.
func alternates(ranked []rankedBackend, chosen string) []string {
	out := make([]string, 0, 2)
	for _, candidate := range ranked {
		if candidate.id == chosen {
			continue
		}
		out = append(out, candidate.id)
		if len(out) == 2 {
			break
		}
	}
	return out
}

// costBonus rewards cheaper backends. Zero-cost backends receive the cap.
func costBonus(spec models.BackendSpec) int {
	avg := spec.AverageCostPer1K()
	if avg <= 0 {
		return costBonusCap
	}
	bonus := int(costBonusScale / avg)
	if bonus > costBonusCap {
		return costBonusCap
	}
	return bonus
}

// bonusAt guards table lookups against unknown class ranks.
func bonusAt(table []int, rank int) int {
	if rank < 0 || rank >= len(table) {
		return 0
	}
	return table[rank]
}

// justify renders the human-readable reason for a scored decision.
func justify(matches, score int, prefs models.Preferences) string {
	reason := fmt.Sprintf("%d pattern match", matches)
	if matches != 1 {
		reason += "es"
	}

	var applied []string
	if prefs.PreferCost {
		applied = append(applied, "cost")
	}
	if prefs.PreferSpeed {
		applied = append(applied, "speed")
	}
	if prefs.PreferQuality {
		applied = append(applied, "quality")
	}
	if len(applied) > 0 {
		reason += ", preferring " + strings.Join(applied, "/")
	}

	return fmt.Sprintf("%s (score %d)", reason, score)
}
