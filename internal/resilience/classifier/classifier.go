// Package classifier maps raw failures to a category and a recovery strategy.
//
// Patterns are matched in registration order (built-ins first, then learned patterns) and
// the first match wins. An optional Learner can override a weak match when classification
// history strongly agrees on another category.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// Config holds classifier settings.
type Config struct {
	HistorySize         int     `yaml:"history_size"`
	LearningEnabled     bool    `yaml:"learning_enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// MinHistory is the number of classified entries required before learning applies.
	MinHistory int `yaml:"min_history"`
	// LearnedConfidence is the confidence given to patterns synthesized from feedback.
	LearnedConfidence float64 `yaml:"learned_confidence"`
}

// DefaultConfig returns the default classifier settings.
func DefaultConfig() Config {
	return Config{
		HistorySize:         1000,
		LearningEnabled:     true,
		SimilarityThreshold: 0.6,
		ConfidenceThreshold: 0.7,
		MinHistory:          10,
		LearnedConfidence:   0.8,
	}
}

// Context describes where a failure happened.
type Context struct {
	Platform  string
	Operation string
}

type record struct {
	classified  domain.ClassifiedError
	tokens      []string
	actual      domain.Category
	hasFeedback bool
}

// Classifier is the single owner of the pattern registry and classification history.
type Classifier struct {
	cfg     Config
	store   PatternStore
	learner Learner
	clock   clockwork.Clock
	pub     events.Publisher
	log     *slog.Logger

	mu       sync.RWMutex
	patterns []domain.ErrorPattern
	history  []record
	next     int
	byID     map[string]int
	stats    Stats
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLearner replaces the similarity learner. Passing nil disables learning overrides.
func WithLearner(l Learner) Option {
	return func(c *Classifier) { c.learner = l }
}

// WithClock sets the clock used for timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Classifier) { c.clock = clock }
}

// WithPublisher sets where pattern-learned events go.
func WithPublisher(p events.Publisher) Option {
	return func(c *Classifier) { c.pub = p }
}

// WithPatterns replaces the built-in pattern set.
func WithPatterns(patterns []domain.ErrorPattern) Option {
	return func(c *Classifier) { c.patterns = append([]domain.ErrorPattern(nil), patterns...) }
}

// New creates a classifier seeded with the built-in patterns. store may be nil.
func New(cfg Config, store PatternStore, opts ...Option) *Classifier {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.LearnedConfidence <= 0 {
		cfg.LearnedConfidence = def.LearnedConfidence
	}

	c := &Classifier{
		cfg:      cfg,
		store:    store,
		learner:  &JaccardLearner{Threshold: cfg.SimilarityThreshold, MinSupport: 3},
		clock:    clockwork.NewRealClock(),
		pub:      events.Discard,
		log:      slog.Default().With("component", "classifier"),
		patterns: BuiltinPatterns(),
		history:  make([]record, 0, cfg.HistorySize),
		byID:     make(map[string]int),
		stats:    newStats(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadPatterns appends persisted learned patterns after the current set.
func (c *Classifier) LoadPatterns(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	loaded, err := c.store.LoadPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("load learned patterns: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	known := make(map[string]struct{}, len(c.patterns))
	for _, p := range c.patterns {
		known[p.ID] = struct{}{}
	}
	added := 0
	for _, p := range loaded {
		if _, ok := known[p.ID]; ok {
			continue
		}
		p.Builtin = false
		c.patterns = append(c.patterns, p)
		added++
	}
	c.stats.LearnedPatterns += added
	return added, nil
}

// Patterns returns a copy of the registered patterns in match order.
func (c *Classifier) Patterns() []domain.ErrorPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ErrorPattern(nil), c.patterns...)
}

// Classify maps err to a ClassifiedError and records it in history.
func (c *Classifier) Classify(err error, cctx Context) domain.ClassifiedError {
	if err == nil {
		err = fmt.Errorf("nil error")
	}
	in := inspect(err)
	tokens := Tokenize(in.source.Message)

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		category   = domain.CategoryUnknown
		confidence float64
		patternID  string
		exact      bool
		learned    bool
	)

	if in.timedOut {
		category, confidence, exact = domain.CategoryTimeout, 1.0, true
	} else if p, conf, ok := c.matchLocked(in.source); ok {
		category, confidence, patternID = p.Category, conf, p.ID
		exact = p.Builtin && conf >= 1.0
	}

	if !exact && c.cfg.LearningEnabled && c.learner != nil && len(c.history) >= c.cfg.MinHistory {
		if s, ok := c.learner.Suggest(tokens, c.samplesLocked()); ok && s.Category != domain.CategoryUnknown &&
			s.Confidence >= c.cfg.ConfidenceThreshold && s.Confidence > confidence {
			category, confidence, patternID, learned = s.Category, s.Confidence, "", true
		}
	}

	policy := PolicyFor(category)
	delay := policy.Delay
	if in.retryAfter > 0 && policy.Retryable {
		delay = in.retryAfter
	}

	ce := domain.ClassifiedError{
		ID:           uuid.NewString(),
		Category:     category,
		Confidence:   confidence,
		Strategy:     policy.Strategy,
		Retryable:    policy.Retryable,
		RetryDelay:   delay,
		MaxRetries:   policy.MaxRetries,
		Source:       in.source,
		Platform:     cctx.Platform,
		Operation:    cctx.Operation,
		PatternID:    patternID,
		Learned:      learned,
		ClassifiedAt: c.clock.Now(),
	}.WithCause(err)

	c.appendLocked(record{classified: ce, tokens: tokens})
	c.stats.Total++
	c.stats.ByCategory[category]++

	source := "pattern"
	switch {
	case learned:
		source = "learned"
	case patternID == "" && !in.timedOut:
		source = "unmatched"
	}
	metrics.ClassificationsTotal.WithLabelValues(string(category), source).Inc()

	return ce
}

// matchLocked returns the first matching pattern and the confidence of the match.
func (c *Classifier) matchLocked(src domain.SourceError) (domain.ErrorPattern, float64, bool) {
	msg := strings.ToLower(src.Message)
	for _, p := range c.patterns {
		if src.StatusCode != 0 && containsInt(p.StatusCodes, src.StatusCode) {
			return p, exactConfidence(p), true
		}
		if src.Code != "" && containsFold(p.Codes, src.Code) {
			return p, exactConfidence(p), true
		}
		for _, kw := range p.Keywords {
			if kw != "" && strings.Contains(msg, strings.ToLower(kw)) {
				return p, p.Confidence, true
			}
		}
	}
	// any other 5xx is a server-side failure
	if src.StatusCode >= 500 && src.StatusCode <= 599 {
		for _, p := range c.patterns {
			if p.ID == transientPatternID {
				return p, exactConfidence(p), true
			}
		}
	}
	return domain.ErrorPattern{}, 0, false
}

// exactConfidence is 1.0 for built-in code matches and the pattern confidence otherwise.
func exactConfidence(p domain.ErrorPattern) float64 {
	if p.Builtin {
		return 1.0
	}
	return p.Confidence
}

func (c *Classifier) samplesLocked() []Sample {
	out := make([]Sample, 0, len(c.history))
	for _, r := range c.history {
		cat := r.classified.Category
		if r.hasFeedback {
			cat = r.actual
		}
		out = append(out, Sample{Tokens: r.tokens, Category: cat})
	}
	return out
}

// appendLocked writes r into the history ring buffer, evicting the oldest entry when full.
func (c *Classifier) appendLocked(r record) {
	if len(c.history) < c.cfg.HistorySize {
		c.byID[r.classified.ID] = len(c.history)
		c.history = append(c.history, r)
		return
	}
	delete(c.byID, c.history[c.next].classified.ID)
	c.history[c.next] = r
	c.byID[r.classified.ID] = c.next
	c.next = (c.next + 1) % c.cfg.HistorySize
}

// HistoryLen returns the number of classifications kept for learning.
func (c *Classifier) HistoryLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
