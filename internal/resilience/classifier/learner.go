package classifier

import (
	"strings"
	"unicode"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Sample is one historical classification offered to a Learner.
type Sample struct {
	Tokens   []string
	Category domain.Category
}

// Suggestion is a category proposed from history.
type Suggestion struct {
	Category   domain.Category
	Confidence float64
	Support    int
}

// Learner proposes a category for a new error from classification history.
type Learner interface {
	Suggest(tokens []string, history []Sample) (Suggestion, bool)
}

// JaccardLearner clusters history by token-set Jaccard similarity.
type JaccardLearner struct {
	// Threshold is the minimum similarity for a sample to join the cluster.
	Threshold float64
	// MinSupport is the minimum cluster size before a suggestion is made.
	MinSupport int
}

// NewJaccardLearner returns a learner with threshold 0.6 and minimum support 3.
func NewJaccardLearner() *JaccardLearner {
	return &JaccardLearner{Threshold: 0.6, MinSupport: 3}
}

func (l *JaccardLearner) Suggest(tokens []string, history []Sample) (Suggestion, bool) {
	if len(tokens) == 0 {
		return Suggestion{}, false
	}
	query := tokenSet(tokens)

	counts := make(map[domain.Category]int)
	total := 0
	for _, s := range history {
		if Jaccard(query, tokenSet(s.Tokens)) >= l.Threshold {
			counts[s.Category]++
			total++
		}
	}
	if total == 0 || total < l.MinSupport {
		return Suggestion{}, false
	}

	var best domain.Category
	bestCount := 0
	// iterate in a fixed order so ties resolve deterministically
	for _, c := range domain.Categories {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return Suggestion{
		Category:   best,
		Confidence: float64(bestCount) / float64(total),
		Support:    total,
	}, true
}

// Jaccard returns |a ∩ b| / |a ∪ b|.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Tokenize lowercases msg and splits it on anything that is not a letter or digit.
func Tokenize(msg string) []string {
	return strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// topKeywords returns the first n distinct tokens longer than three characters.
func topKeywords(tokens []string, n int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokens {
		if len(t) <= 3 {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out
}
