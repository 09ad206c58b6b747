package domain

// Category is the failure class assigned by the classifier.
type Category string

const (
	CategoryTransient  Category = "transient"
	CategoryPermanent  Category = "permanent"
	CategoryRateLimit  Category = "rate_limit"
	CategoryAuth       Category = "auth"
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryValidation Category = "validation"
	CategoryBrowser    Category = "browser"
	CategoryParsing    Category = "parsing"
	CategoryResource   Category = "resource"
	CategoryUnknown    Category = "unknown"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryTransient,
	CategoryPermanent,
	CategoryRateLimit,
	CategoryAuth,
	CategoryNetwork,
	CategoryTimeout,
	CategoryValidation,
	CategoryBrowser,
	CategoryParsing,
	CategoryResource,
	CategoryUnknown,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Strategy is the recommended recovery action for a classified failure.
type Strategy string

const (
	StrategyRetryImmediate     Strategy = "retry-immediate"
	StrategyRetryWithBackoff   Strategy = "retry-with-backoff"
	StrategyRetryAfterDelay    Strategy = "retry-after-delay"
	StrategyFallback           Strategy = "fallback"
	StrategyManualIntervention Strategy = "manual-intervention"
	StrategyRestart            Strategy = "restart"
	StrategyNoRetry            Strategy = "no-retry"
)
