package config

import "time"

// EngineConfig holds memory engine configuration
type EngineConfig struct {
	// CategoryVocabulary bounds the labels the categorization path may
	// assign. The last entry doubles as the fallback label.
	CategoryVocabulary []string `env:"CATEGORY_VOCABULARY" yaml:"category_vocabulary" default:"Personal Info,Preferences,Work,Relationships,Events,Other"`

	// SearchLimit is the default result count for similarity searches.
	SearchLimit int `env:"SEARCH_LIMIT" yaml:"search_limit" default:"10"`

	// SearchMinScore filters out results scoring below this threshold.
	SearchMinScore float64 `env:"SEARCH_MIN_SCORE" yaml:"search_min_score" default:"0"`

	// ReconcileTimeout bounds one reconciler pass over a single user.
	ReconcileTimeout time.Duration `env:"RECONCILE_TIMEOUT" yaml:"reconcile_timeout" default:"2m"`
}
