package classifier

import (
	"time"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Policy is the default recovery behaviour for a category.
type Policy struct {
	Retryable  bool
	Delay      time.Duration
	MaxRetries int
	Strategy   domain.Strategy
}

// DefaultPolicies holds the built-in recovery policy per category.
var DefaultPolicies = map[domain.Category]Policy{
	domain.CategoryNetwork:    {Retryable: true, Delay: 2 * time.Second, MaxRetries: 5, Strategy: domain.StrategyRetryWithBackoff},
	domain.CategoryTimeout:    {Retryable: true, Delay: time.Second, MaxRetries: 3, Strategy: domain.StrategyRetryWithBackoff},
	domain.CategoryRateLimit:  {Retryable: true, Delay: time.Minute, MaxRetries: 3, Strategy: domain.StrategyRetryAfterDelay},
	domain.CategoryAuth:       {Strategy: domain.StrategyManualIntervention},
	domain.CategoryBrowser:    {Retryable: true, Delay: 3 * time.Second, MaxRetries: 3, Strategy: domain.StrategyRestart},
	domain.CategoryParsing:    {Strategy: domain.StrategyNoRetry},
	domain.CategoryValidation: {Strategy: domain.StrategyNoRetry},
	domain.CategoryResource:   {Strategy: domain.StrategyFallback},
	domain.CategoryTransient:  {Retryable: true, Delay: 5 * time.Second, MaxRetries: 3, Strategy: domain.StrategyRetryWithBackoff},
	domain.CategoryPermanent:  {Strategy: domain.StrategyNoRetry},
	domain.CategoryUnknown:    {Strategy: domain.StrategyNoRetry},
}

// PolicyFor returns the default policy of a category.
func PolicyFor(c domain.Category) Policy {
	if p, ok := DefaultPolicies[c]; ok {
		return p
	}
	return DefaultPolicies[domain.CategoryUnknown]
}

const builtinKeywordConfidence = 0.9

// transientPatternID also catches 5xx statuses no other pattern claims.
const transientPatternID = "builtin-transient"

// BuiltinPatterns returns the default pattern set in match order.
func BuiltinPatterns() []domain.ErrorPattern {
	patterns := []domain.ErrorPattern{
		{
			ID:          "builtin-timeout",
			Category:    domain.CategoryTimeout,
			StatusCodes: []int{408, 504},
			Codes:       []string{"ETIMEDOUT", "ESOCKETTIMEDOUT", "DeadlineExceeded", "TIMEOUT"},
			Keywords:    []string{"timeout", "timed out", "deadline exceeded"},
		},
		{
			ID:          "builtin-rate-limit",
			Category:    domain.CategoryRateLimit,
			StatusCodes: []int{429},
			Codes:       []string{"ResourceExhausted", "RATE_LIMITED", "TOO_MANY_REQUESTS"},
			Keywords:    []string{"rate limit", "too many requests", "quota", "throttl"},
		},
		{
			ID:          "builtin-auth",
			Category:    domain.CategoryAuth,
			StatusCodes: []int{401, 403},
			Codes:       []string{"Unauthenticated", "PermissionDenied", "UNAUTHORIZED", "FORBIDDEN"},
			Keywords: []string{
				"unauthorized", "forbidden", "authentication", "invalid token",
				"token expired", "session expired", "login required",
			},
		},
		{
			ID:       "builtin-network",
			Category: domain.CategoryNetwork,
			Codes: []string{
				"ECONNREFUSED", "ECONNRESET", "ENOTFOUND", "EHOSTUNREACH",
				"ENETUNREACH", "EPIPE", "EAI_AGAIN", "Unavailable",
			},
			Keywords: []string{
				"connection refused", "connection reset", "no such host", "network",
				"socket hang up", "broken pipe", "dns",
			},
		},
		{
			ID:       "builtin-browser",
			Category: domain.CategoryBrowser,
			Codes:    []string{"BROWSER_CRASHED"},
			Keywords: []string{
				"browser", "page crashed", "target closed", "navigation failed",
				"execution context was destroyed",
			},
		},
		{
			ID:          "builtin-resource",
			Category:    domain.CategoryResource,
			StatusCodes: []int{507},
			Codes:       []string{"ENOMEM", "ENOSPC", "EMFILE"},
			Keywords:    []string{"out of memory", "no space left", "too many open files", "resource unavailable"},
		},
		{
			ID:       "builtin-parsing",
			Category: domain.CategoryParsing,
			Codes:    []string{"PARSE_ERROR"},
			Keywords: []string{"parse error", "failed to parse", "unexpected token", "invalid json", "unmarshal", "syntax error"},
		},
		{
			ID:          "builtin-validation",
			Category:    domain.CategoryValidation,
			StatusCodes: []int{400, 422},
			Codes:       []string{"InvalidArgument", "VALIDATION_ERROR"},
			Keywords:    []string{"validation", "invalid argument", "invalid input", "required field", "malformed"},
		},
		{
			ID:          transientPatternID,
			Category:    domain.CategoryTransient,
			StatusCodes: []int{500, 502, 503},
			Codes:       []string{"Internal", "Aborted"},
			Keywords: []string{
				"internal server error", "bad gateway", "service unavailable",
				"temporarily unavailable", "try again",
			},
		},
	}
	for i := range patterns {
		patterns[i].Confidence = builtinKeywordConfidence
		patterns[i].Builtin = true
	}
	return patterns
}
