package classify

import (
	"fmt"
	"regexp"

	"github.com/taskpilot/taskpilot/models"
)

// Classifier assigns per-backend match counts to a task description. It is a
// pure function of its input: no I/O, no state, same counts for the same
// description every time.
type Classifier interface {
	// Classify returns the number of patterns matched per backend. Every
	// registered backend appears in the result, zero-count included.
	Classify(description string) models.MatchCounts

	// RequiresPrimary reports whether the task needs capabilities that are
	// off-limits during fallback.
	RequiresPrimary(description string) bool
}

// RegexClassifier matches each backend's pattern group case-insensitively
// against the description. A pattern counts at most once no matter how often
// it occurs in the text.
type RegexClassifier struct {
	order           []string
	groups          map[string][]*regexp.Regexp
	requiresPrimary []*regexp.Regexp
}

// NewRegexClassifier compiles the pattern groups from the backend specs.
// Compilation errors surface here, never during Classify.
func NewRegexClassifier(specs []models.BackendSpec, requiresPrimary []string) (*RegexClassifier, error) {
	c := &RegexClassifier{
		order:  make([]string, 0, len(specs)),
		groups: make(map[string][]*regexp.Regexp, len(specs)),
	}

	for _, spec := range specs {
		compiled := make([]*regexp.Regexp, 0, len(spec.Patterns))
		for _, p := range spec.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("backend %q: compiling pattern %q: %w", spec.ID, p, err)
			}
			compiled = append(compiled, re)
		}
		c.order = append(c.order, spec.ID)
		c.groups[spec.ID] = compiled
	}

	for _, p := range requiresPrimary {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compiling requires-primary pattern %q: %w", p, err)
		}
		c.requiresPrimary = append(c.requiresPrimary, re)
	}

	return c, nil
}

// Classify counts pattern matches per backend
func (c *RegexClassifier) Classify(description string) models.MatchCounts {
	counts := make(models.MatchCounts, len(c.order))
	for _, id := range c.order {
		n := 0
		for _, re := range c.groups[id] {
			if re.MatchString(description) {
				n++
			}
		}
		counts[id] = n
	}
	return counts
}

// RequiresPrimary reports whether any requires-primary pattern matches
func (c *RegexClassifier) RequiresPrimary(description string) bool {
	for _, re := range c.requiresPrimary {
		if re.MatchString(description) {
			return true
		}
	}
	return false
}
