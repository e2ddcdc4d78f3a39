package inference

import (
	"context"
	"strings"
)

// Prediction is one classification result.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Model scores batches of texts. Implementations must be safe for
// concurrent use; the worker pool will call Predict from many
// goroutines.
type Model interface {
	Predict(texts []string) []Prediction
}

// Loader materializes a Model from a promoted artifact reference.
type Loader interface {
	Load(ctx context.Context, artifactRef string) (Model, error)
}

// LexiconModel is a tiny deterministic sentiment scorer used where no
// real artifact runtime is wired in. It stands in for the promoted
// model during development and tests.
type LexiconModel struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

func NewLexiconModel() *LexiconModel {
	return &LexiconModel{
		positive: wordSet("good", "great", "excellent", "love", "happy", "best", "amazing", "fast"),
		negative: wordSet("bad", "terrible", "awful", "hate", "sad", "worst", "broken", "slow"),
	}
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func (m *LexiconModel) Predict(texts []string) []Prediction {
	out := make([]Prediction, len(texts))
	for i, text := range texts {
		var pos, neg int
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?;:\"'")
			if _, ok := m.positive[word]; ok {
				pos++
			}
			if _, ok := m.negative[word]; ok {
				neg++
			}
		}
		out[i] = score(pos, neg)
	}
	return out
}

func score(pos, neg int) Prediction {
	total := pos + neg
	if total == 0 {
		return Prediction{Label: "neutral", Confidence: 0.5}
	}
	if pos >= neg {
		return Prediction{Label: "positive", Confidence: float64(pos) / float64(total)}
	}
	return Prediction{Label: "negative", Confidence: float64(neg) / float64(total)}
}

// LexiconLoader returns the lexicon model for any artifact reference.
type LexiconLoader struct{}

func (LexiconLoader) Load(ctx context.Context, artifactRef string) (Model, error) {
	return NewLexiconModel(), nil
}
