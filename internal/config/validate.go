package config

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidConfig wraps every validation failure so callers can tell configuration
// problems apart from runtime ones.
var ErrInvalidConfig = errors.New("invalid configuration")

/*
Validate checks the sections the filter pipeline needs before any processing starts:
- keyword categories and weights
- AI provider, credentials and retry policy
- cache bounds
- tag quotas
- chain thresholds and ordering
- batch concurrency mode
Database and Redis settings are checked separately by the commands that use them.
*/
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Keyword config
	if c.Chain.EnableKeywordFilter {
		if len(c.Keywords.Categories) == 0 {
			return errors.New("keywords.categories must define at least one category")
		}
		for name, cat := range c.Keywords.Categories {
			if len(cat.Keywords) == 0 {
				return fmt.Errorf("keywords.categories.%s has no keywords", name)
			}
			if cat.Weight < 0 {
				return fmt.Errorf("keywords.categories.%s weight must not be negative", name)
			}
		}
		if c.Keywords.MinMatches < 0 {
			return errors.New("keywords.min_matches must not be negative")
		}
	}

	// AI config
	if c.Chain.EnableAIFilter {
		if !slices.Contains(KnownProviders, c.AI.Provider) {
			return fmt.Errorf("ai.provider '%s' is not supported (use one of %v)", c.AI.Provider, KnownProviders)
		}
		if !c.AI.DryRun && c.ResolveAPIKey() == "" {
			return fmt.Errorf("ai.api_key is required for provider '%s' (or set %s)", c.AI.Provider, providerKeyEnv[c.AI.Provider])
		}
		if c.AI.Model == "" {
			return errors.New("ai.model is required")
		}
		if c.AI.RetryTimes <= 0 {
			return errors.New("ai.retry_times must be a positive integer")
		}
		if c.AI.RetryDelay < 0 {
			return errors.New("ai.retry_delay must not be negative")
		}
		if c.AI.RetryBackoff != "" && c.AI.RetryBackoff != "fixed" && c.AI.RetryBackoff != "exponential" {
			return fmt.Errorf("ai.retry_backoff '%s' must be 'fixed' or 'exponential'", c.AI.RetryBackoff)
		}
		if c.AI.BatchSize <= 0 {
			return errors.New("ai.batch_size must be a positive integer")
		}
		if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
			return errors.New("ai.min_confidence must be between 0 and 1")
		}
		if c.AI.FallbackBaseScore < 0 || c.AI.FallbackBaseScore > 30 {
			return errors.New("ai.fallback_base_score must be between 0 and 30")
		}
	}

	// Cache config
	if c.Cache.Enabled {
		if c.Cache.MaxSize <= 0 {
			return errors.New("cache.max_size must be a positive integer")
		}
		if c.Cache.TTL <= 0 {
			return errors.New("cache.ttl must be positive")
		}
	}

	// Tag quotas
	for name, limit := range c.Tags.Limits {
		if name == "" {
			return errors.New("tags.limits contains an empty tag name")
		}
		if limit.MaxCount < 0 {
			return fmt.Errorf("tags.limits.%s max_count must not be negative", name)
		}
		if limit.Priority < 0 {
			return fmt.Errorf("tags.limits.%s priority must not be negative", name)
		}
	}
	if c.Tags.MaxTagsPerArticle <= 0 {
		return errors.New("tags.max_tags_per_article must be a positive integer")
	}

	// Chain config
	if c.Chain.MaxFinalResults <= 0 {
		return errors.New("chain.max_final_results must be a positive integer")
	}
	if c.Chain.BatchSize <= 0 {
		return errors.New("chain.batch_size must be a positive integer")
	}
	switch c.Chain.SortBy {
	case "final_score", "relevance", "timestamp":
	default:
		return fmt.Errorf("chain.sort_by '%s' must be one of final_score, relevance, timestamp", c.Chain.SortBy)
	}

	// Batch config
	switch c.Batch.Mode {
	case "sequential":
	case "parallel":
		if c.Batch.Workers <= 0 {
			return errors.New("batch.workers must be a positive integer in parallel mode")
		}
	default:
		return fmt.Errorf("batch.mode '%s' must be 'sequential' or 'parallel'", c.Batch.Mode)
	}

	return nil
}

// ValidateDatabase checks the settings needed by commands that persist runs.
func (c *Config) ValidateDatabase() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", ErrInvalidConfig)
	}
	return nil
}

// ValidateQueue checks the settings needed by the queue client and worker.
func (c *Config) ValidateQueue() error {
	if c.Redis.Address == "" {
		return fmt.Errorf("%w: redis.address is required", ErrInvalidConfig)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("%w: worker.concurrency must be a positive integer", ErrInvalidConfig)
	}
	if len(c.Worker.Queues) == 0 {
		return fmt.Errorf("%w: worker.queues must define at least one queue", ErrInvalidConfig)
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return fmt.Errorf("%w: worker.queues contains an empty queue name", ErrInvalidConfig)
		}
		if priority <= 0 {
			return fmt.Errorf("%w: worker.queues priority for queue '%s' must be positive", ErrInvalidConfig, name)
		}
	}
	return nil
}
