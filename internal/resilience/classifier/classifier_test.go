package classifier

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
)

// =============================================================================
// Mocks
// =============================================================================

type fakeStore struct {
	saved   []domain.ErrorPattern
	loaded  []domain.ErrorPattern
	saveErr error
}

func (s *fakeStore) SavePattern(_ context.Context, p domain.ErrorPattern) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, p)
	return nil
}

func (s *fakeStore) LoadPatterns(context.Context) ([]domain.ErrorPattern, error) {
	return s.loaded, nil
}

func (s *fakeStore) DeletePattern(context.Context, string) error { return nil }

type fixedLearner struct {
	suggestion Suggestion
}

func (l fixedLearner) Suggest([]string, []Sample) (Suggestion, bool) {
	return l.suggestion, true
}

type httpStatusError struct {
	code int
}

func (e httpStatusError) Error() string   { return fmt.Sprintf("http status %d", e.code) }
func (e httpStatusError) StatusCode() int { return e.code }

func newTestClassifier(t *testing.T, cfg Config, opts ...Option) *Classifier {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(cfg, nil, append([]Option{WithClock(clock)}, opts...)...)
}

// =============================================================================
// Tests
// =============================================================================

func TestClassify_BuiltinDefaults(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		category   domain.Category
		retryable  bool
		delay      time.Duration
		maxRetries int
		strategy   domain.Strategy
		confidence float64
	}{
		{
			name:     "auth status",
			err:      &domain.OperationError{Message: "request rejected", StatusCode: 401},
			category: domain.CategoryAuth, strategy: domain.StrategyManualIntervention, confidence: 1,
		},
		{
			name:     "rate limit status via interface",
			err:      fmt.Errorf("call failed: %w", httpStatusError{code: 429}),
			category: domain.CategoryRateLimit, retryable: true, delay: time.Minute, maxRetries: 3,
			strategy: domain.StrategyRetryAfterDelay, confidence: 1,
		},
		{
			name:     "network keyword",
			err:      errors.New("dial tcp 10.0.0.1:443: connection refused"),
			category: domain.CategoryNetwork, retryable: true, delay: 2 * time.Second, maxRetries: 5,
			strategy: domain.StrategyRetryWithBackoff, confidence: 0.9,
		},
		{
			name:     "network errno",
			err:      fmt.Errorf("send: %w", syscall.ECONNRESET),
			category: domain.CategoryNetwork, retryable: true, delay: 2 * time.Second, maxRetries: 5,
			strategy: domain.StrategyRetryWithBackoff, confidence: 1,
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("attempt: %w", context.DeadlineExceeded),
			category: domain.CategoryTimeout, retryable: true, delay: time.Second, maxRetries: 3,
			strategy: domain.StrategyRetryWithBackoff, confidence: 1,
		},
		{
			name:     "browser crash",
			err:      errors.New("Page crashed while waiting for selector"),
			category: domain.CategoryBrowser, retryable: true, delay: 3 * time.Second, maxRetries: 3,
			strategy: domain.StrategyRestart, confidence: 0.9,
		},
		{
			name:     "parsing",
			err:      errors.New("unexpected token < in JSON at position 0"),
			category: domain.CategoryParsing, strategy: domain.StrategyNoRetry, confidence: 0.9,
		},
		{
			name:     "validation status",
			err:      &domain.OperationError{Message: "prompt too long", StatusCode: 422},
			category: domain.CategoryValidation, strategy: domain.StrategyNoRetry, confidence: 1,
		},
		{
			name:     "resource",
			err:      errors.New("worker out of memory"),
			category: domain.CategoryResource, strategy: domain.StrategyFallback, confidence: 0.9,
		},
		{
			name:     "transient 5xx",
			err:      &domain.OperationError{Message: "upstream failed", StatusCode: 503},
			category: domain.CategoryTransient, retryable: true, delay: 5 * time.Second, maxRetries: 3,
			strategy: domain.StrategyRetryWithBackoff, confidence: 1,
		},
		{
			name:     "transient 520",
			err:      &domain.OperationError{Message: "origin error", StatusCode: 520},
			category: domain.CategoryTransient, retryable: true, delay: 5 * time.Second, maxRetries: 3,
			strategy: domain.StrategyRetryWithBackoff, confidence: 1,
		},
		{
			name:     "transient 599",
			err:      &domain.OperationError{Message: "proxy gave up", StatusCode: 599},
			category: domain.CategoryTransient, retryable: true, delay: 5 * time.Second, maxRetries: 3,
			strategy: domain.StrategyRetryWithBackoff, confidence: 1,
		},
		{
			name:     "gateway timeout stays timeout",
			err:      &domain.OperationError{Message: "upstream", StatusCode: 504},
			category: domain.CategoryTimeout, retryable: true, delay: time.Second, maxRetries: 3,
			strategy: domain.StrategyRetryWithBackoff, confidence: 1,
		},
		{
			name:     "insufficient storage stays resource",
			err:      &domain.OperationError{Message: "upstream", StatusCode: 507},
			category: domain.CategoryResource, strategy: domain.StrategyFallback, confidence: 1,
		},
		{
			name:     "unmatched",
			err:      errors.New("the answer was 42"),
			category: domain.CategoryUnknown, strategy: domain.StrategyNoRetry, confidence: 0,
		},
	}

	c := newTestClassifier(t, Config{LearningEnabled: false})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err, Context{Platform: "p"})
			if got.Category != tt.category {
				t.Fatalf("category = %s, want %s", got.Category, tt.category)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.RetryDelay != tt.delay {
				t.Errorf("delay = %v, want %v", got.RetryDelay, tt.delay)
			}
			if got.MaxRetries != tt.maxRetries {
				t.Errorf("maxRetries = %d, want %d", got.MaxRetries, tt.maxRetries)
			}
			if got.Strategy != tt.strategy {
				t.Errorf("strategy = %s, want %s", got.Strategy, tt.strategy)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.confidence)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not unwrap to source")
			}
		})
	}
}

func TestClassify_GRPCStatusAndRetryInfo(t *testing.T) {
	st, err := status.New(codes.ResourceExhausted, "per-minute quota exceeded").
		WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(7 * time.Second)})
	require.NoError(t, err)

	c := newTestClassifier(t, Config{})
	got := c.Classify(st.Err(), Context{Platform: "grpc-platform"})

	assert.Equal(t, domain.CategoryRateLimit, got.Category)
	assert.Equal(t, "ResourceExhausted", got.Source.Code)
	assert.Equal(t, "per-minute quota exceeded", got.Source.Message)
	assert.Equal(t, 7*time.Second, got.RetryDelay)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestClassify_DeterministicWithoutLearning(t *testing.T) {
	c := newTestClassifier(t, Config{LearningEnabled: false})
	err := errors.New("socket hang up")

	a := c.Classify(err, Context{Platform: "p"})
	b := c.Classify(err, Context{Platform: "p"})

	a.ID, b.ID = "", ""
	assert.Equal(t, a, b)
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c := newTestClassifier(t, Config{})
	// matches both timeout and rate limit keywords; timeout is registered first
	got := c.Classify(errors.New("request timed out after rate limit backoff"), Context{})
	assert.Equal(t, domain.CategoryTimeout, got.Category)
	assert.Equal(t, "builtin-timeout", got.PatternID)
}

func TestClassify_LearnerOverride(t *testing.T) {
	learner := fixedLearner{suggestion: Suggestion{Category: domain.CategoryBrowser, Confidence: 0.95, Support: 8}}
	c := newTestClassifier(t, Config{LearningEnabled: true}, WithLearner(learner))

	msg := errors.New("captcha wall shown")
	for i := 0; i < 9; i++ {
		c.Classify(errors.New("filler"), Context{})
	}
	// history has 9 entries, learning not yet applied
	assert.Equal(t, domain.CategoryUnknown, c.Classify(msg, Context{}).Category)

	got := c.Classify(msg, Context{})
	assert.Equal(t, domain.CategoryBrowser, got.Category)
	assert.True(t, got.Learned)
	assert.Equal(t, 0.95, got.Confidence)
	assert.Equal(t, domain.StrategyRestart, got.Strategy)
}

func TestClassify_LearnerNeverOverridesExactBuiltin(t *testing.T) {
	learner := fixedLearner{suggestion: Suggestion{Category: domain.CategoryNetwork, Confidence: 0.99, Support: 50}}
	c := newTestClassifier(t, Config{LearningEnabled: true, MinHistory: 1}, WithLearner(learner))
	c.Classify(errors.New("warmup"), Context{})

	got := c.Classify(&domain.OperationError{Message: "nope", StatusCode: 401}, Context{})
	assert.Equal(t, domain.CategoryAuth, got.Category)
	assert.False(t, got.Learned)

	weak := c.Classify(errors.New("unauthorized"), Context{})
	assert.Equal(t, domain.CategoryNetwork, weak.Category, "0.9 keyword match loses to 0.99 cluster")
}

func TestJaccardLearner(t *testing.T) {
	l := NewJaccardLearner()
	history := []Sample{
		{Tokens: Tokenize("captcha challenge detected on login page"), Category: domain.CategoryBrowser},
		{Tokens: Tokenize("captcha challenge detected on search page"), Category: domain.CategoryBrowser},
		{Tokens: Tokenize("captcha challenge detected on result page"), Category: domain.CategoryBrowser},
		{Tokens: Tokenize("captcha challenge detected on home page"), Category: domain.CategoryAuth},
		{Tokens: Tokenize("completely unrelated"), Category: domain.CategoryParsing},
	}

	s, ok := l.Suggest(Tokenize("captcha challenge detected on chat page"), history)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryBrowser, s.Category)
	assert.Equal(t, 4, s.Support)
	assert.InDelta(t, 0.75, s.Confidence, 1e-9)

	_, ok = l.Suggest(Tokenize("nothing similar here"), history)
	assert.False(t, ok)
}

func TestJaccard(t *testing.T) {
	a := tokenSet([]string{"a", "b", "c"})
	b := tokenSet([]string{"b", "c", "d"})
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(tokenSet(nil), tokenSet(nil)))
}

func TestFeedback_SynthesizesAndPersistsPattern(t *testing.T) {
	store := &fakeStore{}
	rec := &events.Recorder{}
	c := New(Config{LearningEnabled: true}, store, WithPublisher(rec))

	first := c.Classify(errors.New("widget frobnication stalled in the queue"), Context{Platform: "p"})
	require.Equal(t, domain.CategoryUnknown, first.Category)

	require.NoError(t, c.Feedback(context.Background(), first.ID, domain.CategoryResource))

	require.Len(t, store.saved, 1)
	p := store.saved[0]
	assert.Equal(t, domain.CategoryResource, p.Category)
	assert.Equal(t, []string{"widget", "frobnication", "stalled", "queue"}, p.Keywords)
	assert.Equal(t, 0.8, p.Confidence)

	again := c.Classify(errors.New("widget frobnication stalled in the queue"), Context{})
	assert.Equal(t, domain.CategoryResource, again.Category)
	assert.Equal(t, p.ID, again.PatternID)
	assert.Equal(t, 0.8, again.Confidence)

	assert.Len(t, rec.Named(domain.EventPatternLearned), 1)

	stats := c.Stats()
	assert.Equal(t, 1, stats.FeedbackCount)
	assert.Equal(t, 0, stats.CorrectCount)
	assert.Equal(t, 1, stats.LearnedPatterns)
}

func TestFeedback_CorrectPredictionLearnsNothing(t *testing.T) {
	store := &fakeStore{}
	c := New(Config{LearningEnabled: true}, store)

	ce := c.Classify(errors.New("connection refused"), Context{})
	require.NoError(t, c.Feedback(context.Background(), ce.ID, domain.CategoryNetwork))
	require.NoError(t, c.Feedback(context.Background(), ce.ID, domain.CategoryNetwork))

	assert.Empty(t, store.saved)
	stats := c.Stats()
	assert.Equal(t, 1, stats.FeedbackCount)
	assert.Equal(t, 1.0, stats.Accuracy)
}

func TestFeedback_PersistFailureKeepsPatternInMemory(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("redis down")}
	c := New(Config{LearningEnabled: true}, store)

	ce := c.Classify(errors.New("mystery glitch happened"), Context{})
	require.NoError(t, c.Feedback(context.Background(), ce.ID, domain.CategoryTransient))

	got := c.Classify(errors.New("mystery glitch happened"), Context{})
	assert.Equal(t, domain.CategoryTransient, got.Category)
}

func TestFeedback_Errors(t *testing.T) {
	c := New(Config{}, nil)
	err := c.Feedback(context.Background(), "missing", domain.CategoryAuth)
	assert.ErrorIs(t, err, domain.ErrClassificationNotFound)

	ce := c.Classify(errors.New("x"), Context{})
	assert.Error(t, c.Feedback(context.Background(), ce.ID, domain.Category("bogus")))
}

func TestHistory_RingBufferEvicts(t *testing.T) {
	c := New(Config{HistorySize: 3}, nil)
	first := c.Classify(errors.New("one"), Context{})
	for i := 0; i < 4; i++ {
		c.Classify(fmt.Errorf("error %d", i), Context{})
	}
	assert.Equal(t, 3, c.HistoryLen())
	assert.ErrorIs(t, c.Feedback(context.Background(), first.ID, domain.CategoryAuth), domain.ErrClassificationNotFound)
}

func TestLoadPatterns_AppendsAfterBuiltins(t *testing.T) {
	store := &fakeStore{loaded: []domain.ErrorPattern{
		{ID: "learned-1", Category: domain.CategoryAuth, Keywords: []string{"captcha"}, Confidence: 0.8, Builtin: true},
	}}
	c := New(Config{}, store)

	n, err := c.LoadPatterns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	patterns := c.Patterns()
	last := patterns[len(patterns)-1]
	assert.Equal(t, "learned-1", last.ID)
	assert.False(t, last.Builtin, "persisted patterns are never treated as built-ins")

	got := c.Classify(errors.New("captcha required"), Context{})
	assert.Equal(t, domain.CategoryAuth, got.Category)
	assert.Equal(t, 0.8, got.Confidence)
}
