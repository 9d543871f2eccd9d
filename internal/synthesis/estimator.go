package synthesis

import "unicode/utf8"

// Estimator measures text in tokens. The aggregator uses it for budget
// accounting and boundary truncation; any tokenizer satisfying this
// interface can replace the heuristic default.
type Estimator interface {
	// Estimate returns the token count of the text.
	Estimate(text string) int

	// Truncate cuts the text so that its estimate does not exceed maxTokens.
	Truncate(text string, maxTokens int) string
}

// HeuristicEstimator approximates tokens as a fixed number of characters
// per token. Four characters per token is a workable average for English
// prose; callers needing exact counts plug in a real tokenizer.
type HeuristicEstimator struct {
	charsPerToken int
}

// NewHeuristicEstimator creates an estimator with the given characters per
// token ratio. Values below 1 are normalized to 1 (one character per token).
func NewHeuristicEstimator(charsPerToken int) *HeuristicEstimator {
	if charsPerToken < 1 {
		charsPerToken = 1
	}
	return &HeuristicEstimator{charsPerToken: charsPerToken}
}

// DefaultEstimator returns the four-characters-per-token heuristic.
func DefaultEstimator() *HeuristicEstimator {
	return NewHeuristicEstimator(4)
}

// Estimate returns the rounded-up character-ratio token count.
func (e *HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	return (runes + e.charsPerToken - 1) / e.charsPerToken
}

// Truncate cuts the text at the last rune boundary that fits maxTokens.
func (e *HeuristicEstimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxRunes := maxTokens * e.charsPerToken
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)
	return string(runes[:maxRunes])
}

var _ Estimator = (*HeuristicEstimator)(nil)
