package agent

import (
	"encoding/json"
	"math"

	"github.com/OGODEVO/studious-system/pkg/models"
)

// Token-count modes reported in the usage block.
const (
	ModeEstimate = "estimate"
	ModeExactish = "exact-ish"
)

// charsPerToken is the heuristic divisor for the length-based estimate.
const charsPerToken = 3.5

// Encoder counts tokens for a model-specific tokenizer. Optional; when
// absent the counter falls back to the length heuristic.
type Encoder interface {
	CountTokens(text string) int
}

// TokenCounter estimates context usage for the compaction check and the
// per-turn usage report.
type TokenCounter struct {
	enc Encoder
}

func NewTokenCounter(enc Encoder) *TokenCounter {
	return &TokenCounter{enc: enc}
}

// Count returns the token count for text: the encoder's count when one is
// wired, else ceil(len/3.5).
func (c *TokenCounter) Count(text string) int {
	if c.enc != nil {
		return c.enc.CountTokens(text)
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}

// CountHistory counts the stringified conversation history.
func (c *TokenCounter) CountHistory(history []models.Message) int {
	data, err := json.Marshal(history)
	if err != nil {
		return 0
	}
	return c.Count(string(data))
}

// Mode reports how counts were produced.
func (c *TokenCounter) Mode() string {
	if c.enc != nil {
		return ModeExactish
	}
	return ModeEstimate
}
