package fallback

import (
	"regexp"

	"github.com/taskpilot/taskpilot/services/backends"
)

// limitPatterns match backend error text that signals an exhausted usage
// window. APIs phrase this many ways, so detection is lexical in addition to
// the structured flag on BackendError.
var limitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you've hit your limit`),
	regexp.MustCompile(`(?i)rate.?limit`),
	regexp.MustCompile(`(?i)usage.?limit`),
	regexp.MustCompile(`(?i)quota.?exceeded`),
	regexp.MustCompile(`(?i)too.?many.?requests`),
	regexp.MustCompile(`(?i)resets?\s+\d+[ap]m`),
}

// IsLimitSignal reports whether a backend failure indicates a rate limit,
// either through the structured BackendError flag or through its text.
func IsLimitSignal(err error) bool {
	if err == nil {
		return false
	}
	if backends.IsRateLimited(err) {
		return true
	}
	return ContainsLimitText(err.Error())
}

// ContainsLimitText reports whether text matches a known usage-limit phrase.
func ContainsLimitText(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range limitPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
