package classifier

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Stats holds classifier accuracy counters.
type Stats struct {
	Total           int                     `json:"total"`
	ByCategory      map[domain.Category]int `json:"by_category"`
	FeedbackCount   int                     `json:"feedback_count"`
	CorrectCount    int                     `json:"correct_count"`
	Accuracy        float64                 `json:"accuracy"`
	LearnedPatterns int                     `json:"learned_patterns"`
	HistorySize     int                     `json:"history_size"`
}

func newStats() Stats {
	return Stats{ByCategory: make(map[domain.Category]int)}
}

// Stats returns a snapshot of the counters.
func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.ByCategory = make(map[domain.Category]int, len(c.stats.ByCategory))
	for k, v := range c.stats.ByCategory {
		s.ByCategory[k] = v
	}
	if s.FeedbackCount > 0 {
		s.Accuracy = float64(s.CorrectCount) / float64(s.FeedbackCount)
	}
	s.HistorySize = len(c.history)
	return s
}

// Feedback records the true category of an earlier classification. When the prediction was
// wrong and learning is enabled, a pattern is synthesized from the error's keywords and
// persisted. A persistence failure keeps the pattern in memory and is only logged.
func (c *Classifier) Feedback(ctx context.Context, classificationID string, actual domain.Category) error {
	if !actual.Valid() {
		return fmt.Errorf("unknown category %q", actual)
	}

	c.mu.Lock()
	idx, ok := c.byID[classificationID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrClassificationNotFound, classificationID)
	}
	rec := &c.history[idx]
	first := !rec.hasFeedback
	rec.actual = actual
	rec.hasFeedback = true

	predicted := rec.classified.Category
	platform := rec.classified.Platform
	if first {
		c.stats.FeedbackCount++
		if predicted == actual {
			c.stats.CorrectCount++
		}
	}

	var learned *domain.ErrorPattern
	if first && predicted != actual && c.cfg.LearningEnabled {
		if kws := topKeywords(rec.tokens, 5); len(kws) > 0 {
			p := domain.ErrorPattern{
				ID:         uuid.NewString(),
				Category:   actual,
				Keywords:   kws,
				Confidence: c.cfg.LearnedConfidence,
				CreatedAt:  c.clock.Now(),
			}
			c.patterns = append(c.patterns, p)
			c.stats.LearnedPatterns++
			learned = &p
		}
	}
	c.mu.Unlock()

	if learned == nil {
		return nil
	}

	if c.store != nil {
		if err := c.store.SavePattern(ctx, *learned); err != nil {
			c.log.Warn("Failed to persist learned pattern, keeping in memory",
				"pattern", learned.ID, "category", learned.Category, "error", err)
		}
	}
	c.pub.Publish(domain.Event{
		Name:     domain.EventPatternLearned,
		Category: domain.EventCategoryClassify,
		Platform: platform,
		Severity: domain.SeverityInfo,
		Message:  "learned error pattern from feedback",
		Context: map[string]any{
			"pattern_id": learned.ID,
			"predicted":  predicted,
			"actual":     actual,
			"keywords":   learned.Keywords,
		},
	})
	return nil
}
