package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// PricingInfo holds cost details per token for a specific model.
type PricingInfo struct {
	InputPerToken  float64 `mapstructure:"input_per_token"`
	OutputPerToken float64 `mapstructure:"output_per_token"`
}

// Provider names accepted by ai.provider.
const (
	ProviderOpenAI      = "openai"
	ProviderMoonshot    = "moonshot"
	ProviderSiliconFlow = "siliconflow"
	ProviderVolcengine  = "volcengine"
	ProviderGemini      = "gemini"
)

// KnownProviders lists every supported ai.provider value.
var KnownProviders = []string{ProviderOpenAI, ProviderMoonshot, ProviderSiliconFlow, ProviderVolcengine, ProviderGemini}

// providerKeyEnv maps providers to the environment variable holding their API key.
var providerKeyEnv = map[string]string{
	ProviderOpenAI:      "OPENAI_API_KEY",
	ProviderMoonshot:    "MOONSHOT_API_KEY",
	ProviderSiliconFlow: "SILICONFLOW_API_KEY",
	ProviderVolcengine:  "ARK_API_KEY",
	ProviderGemini:      "GEMINI_API_KEY",
}

type CategoryConfig struct {
	Keywords []string `mapstructure:"keywords"`
	Weight   float64  `mapstructure:"weight"`
}

type ScoringConfig struct {
	UniqueKeyword   float64 `mapstructure:"unique_keyword"`
	PositionTitle   float64 `mapstructure:"position_title"`
	PositionSummary float64 `mapstructure:"position_summary"`
	PositionContent float64 `mapstructure:"position_content"`
	PositionFactor  float64 `mapstructure:"position_factor"`
	CategoryBonus   float64 `mapstructure:"category_bonus"`
	DensityFactor   float64 `mapstructure:"density_factor"`
	DensityCap      float64 `mapstructure:"density_cap"`
	CategoryUnique  float64 `mapstructure:"category_unique"`
	CategoryCount   float64 `mapstructure:"category_count"`
}

type TagLimitConfig struct {
	MaxCount int     `mapstructure:"max_count"`
	Priority float64 `mapstructure:"priority"`
}

type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Keywords struct {
		Threshold     float64                   `mapstructure:"threshold"`
		MaxResults    int                       `mapstructure:"max_results"`
		CaseSensitive bool                      `mapstructure:"case_sensitive"`
		WordBoundary  bool                      `mapstructure:"word_boundary"`
		MinMatches    int                       `mapstructure:"min_matches"`
		ContentPrefix int                       `mapstructure:"content_prefix"`
		Categories    map[string]CategoryConfig `mapstructure:"categories"`
		Scoring       ScoringConfig             `mapstructure:"scoring"`
	} `mapstructure:"keywords"`

	AI struct {
		Provider          string        `mapstructure:"provider"`
		APIKey            string        `mapstructure:"api_key"`
		BaseURL           string        `mapstructure:"base_url"`
		Model             string        `mapstructure:"model"`
		Temperature       float32       `mapstructure:"temperature"`
		MaxTokens         int           `mapstructure:"max_tokens"`
		Timeout           time.Duration `mapstructure:"timeout"`
		RetryTimes        int           `mapstructure:"retry_times"`
		RetryDelay        time.Duration `mapstructure:"retry_delay"`
		RetryBackoff      string        `mapstructure:"retry_backoff"` // "fixed" or "exponential"
		BatchSize         int           `mapstructure:"batch_size"`
		MaxRequests       int           `mapstructure:"max_requests"`
		IndividualLimit   int           `mapstructure:"individual_limit"`
		ScoreThreshold    int           `mapstructure:"score_threshold"`
		MinConfidence     float64       `mapstructure:"min_confidence"`
		FallbackEnabled   bool          `mapstructure:"fallback_enabled"`
		FallbackBaseScore int           `mapstructure:"fallback_base_score"`
		SystemPrompt      string        `mapstructure:"system_prompt"`
		Prompt            string        `mapstructure:"prompt"`       // path to a single-article template
		BatchPrompt       string        `mapstructure:"batch_prompt"` // path to a batch template
		DryRun            bool          `mapstructure:"dry_run"`
	} `mapstructure:"ai"`

	Cache struct {
		Enabled bool          `mapstructure:"enabled"`
		TTL     time.Duration `mapstructure:"ttl"`
		MaxSize int           `mapstructure:"max_size"`
		Path    string        `mapstructure:"path"` // sqlite file; empty keeps the cache in memory only
	} `mapstructure:"cache"`

	Tags struct {
		EnableGeneration    bool                      `mapstructure:"enable_generation"`
		EnableLimits        bool                      `mapstructure:"enable_limits"`
		MinTagScore         float64                   `mapstructure:"min_tag_score"`
		MaxTagsPerArticle   int                       `mapstructure:"max_tags_per_article"`
		PrimaryTagThreshold float64                   `mapstructure:"primary_tag_threshold"`
		Limits              map[string]TagLimitConfig `mapstructure:"limits"`
	} `mapstructure:"tags"`

	Selection struct {
		Enabled               bool    `mapstructure:"enabled"`
		QualityWeight         float64 `mapstructure:"quality_weight"`
		BalanceWeight         float64 `mapstructure:"balance_weight"`
		DiversityWeight       float64 `mapstructure:"diversity_weight"`
		UnderrepresentedBoost float64 `mapstructure:"underrepresented_boost"`
	} `mapstructure:"selection"`

	Chain struct {
		EnableKeywordFilter bool    `mapstructure:"enable_keyword_filter"`
		EnableAIFilter      bool    `mapstructure:"enable_ai_filter"`
		KeywordThreshold    float64 `mapstructure:"keyword_threshold"`
		MaxKeywordResults   int     `mapstructure:"max_keyword_results"`
		MaxAIRequests       int     `mapstructure:"max_ai_requests"`
		FinalScoreThreshold float64 `mapstructure:"final_score_threshold"`
		KeywordWeight       float64 `mapstructure:"keyword_weight"`
		AIWeight            float64 `mapstructure:"ai_weight"`
		MaxFinalResults     int     `mapstructure:"max_final_results"`
		FailFast            bool    `mapstructure:"fail_fast"`
		BatchSize           int     `mapstructure:"batch_size"`
		SortBy              string  `mapstructure:"sort_by"`
		IncludeRejected     bool    `mapstructure:"include_rejected"`
	} `mapstructure:"chain"`

	Batch struct {
		Mode                string   `mapstructure:"mode"` // "sequential" or "parallel"
		Workers             int      `mapstructure:"workers"`
		MaxSources          int      `mapstructure:"max_sources"`
		SourceKeywords      []string `mapstructure:"source_keywords"`
		MinScoreThreshold   float64  `mapstructure:"min_score_threshold"`
		MaxResultsPerSource int      `mapstructure:"max_results_per_source"`
		SortBy              string   `mapstructure:"sort_by"`
	} `mapstructure:"batch"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
	} `mapstructure:"worker"`

	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`

	// Pricing: map[provider][model] = struct{input_per_token, output_per_token}
	Pricing map[string]map[string]PricingInfo `mapstructure:"pricing"`
}

// ResolveAPIKey returns ai.api_key, falling back to the provider's conventional environment variable.
func (c *Config) ResolveAPIKey() string {
	if c.AI.APIKey != "" {
		return c.AI.APIKey
	}
	if env, ok := providerKeyEnv[c.AI.Provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("keywords.threshold", 0.6)
	v.SetDefault("keywords.max_results", 100)
	v.SetDefault("keywords.case_sensitive", false)
	v.SetDefault("keywords.word_boundary", true)
	v.SetDefault("keywords.min_matches", 2)
	v.SetDefault("keywords.content_prefix", 2000)
	v.SetDefault("keywords.scoring.unique_keyword", 0.1)
	v.SetDefault("keywords.scoring.position_title", 3.0)
	v.SetDefault("keywords.scoring.position_summary", 2.0)
	v.SetDefault("keywords.scoring.position_content", 1.0)
	v.SetDefault("keywords.scoring.position_factor", 0.05)
	v.SetDefault("keywords.scoring.category_bonus", 0.1)
	v.SetDefault("keywords.scoring.density_factor", 1000.0)
	v.SetDefault("keywords.scoring.density_cap", 0.2)
	v.SetDefault("keywords.scoring.category_unique", 0.3)
	v.SetDefault("keywords.scoring.category_count", 0.1)

	v.SetDefault("ai.provider", ProviderOpenAI)
	v.SetDefault("ai.model", "gpt-3.5-turbo")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.max_tokens", 1000)
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.retry_times", 3)
	v.SetDefault("ai.retry_delay", "1s")
	v.SetDefault("ai.retry_backoff", "fixed")
	v.SetDefault("ai.batch_size", 5)
	v.SetDefault("ai.max_requests", 50)
	v.SetDefault("ai.individual_limit", 3)
	v.SetDefault("ai.score_threshold", 20)
	v.SetDefault("ai.min_confidence", 0.5)
	v.SetDefault("ai.fallback_enabled", true)
	v.SetDefault("ai.fallback_base_score", 15)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_size", 1000)

	v.SetDefault("tags.enable_generation", true)
	v.SetDefault("tags.enable_limits", true)
	v.SetDefault("tags.min_tag_score", 0.2)
	v.SetDefault("tags.max_tags_per_article", 5)
	v.SetDefault("tags.primary_tag_threshold", 0.5)

	v.SetDefault("selection.enabled", true)
	v.SetDefault("selection.quality_weight", 0.7)
	v.SetDefault("selection.balance_weight", 0.3)
	v.SetDefault("selection.diversity_weight", 0.1)
	v.SetDefault("selection.underrepresented_boost", 1.5)

	v.SetDefault("chain.enable_keyword_filter", true)
	v.SetDefault("chain.enable_ai_filter", true)
	v.SetDefault("chain.keyword_threshold", 0.6)
	v.SetDefault("chain.max_keyword_results", 100)
	v.SetDefault("chain.max_ai_requests", 50)
	v.SetDefault("chain.final_score_threshold", 0.7)
	v.SetDefault("chain.keyword_weight", 0.3)
	v.SetDefault("chain.ai_weight", 0.7)
	v.SetDefault("chain.max_final_results", 30)
	v.SetDefault("chain.batch_size", 10)
	v.SetDefault("chain.sort_by", "final_score")

	v.SetDefault("batch.mode", "parallel")
	v.SetDefault("batch.workers", 3)
	v.SetDefault("batch.sort_by", "final_score")

	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queues", map[string]int{"batch": 1})
	v.SetDefault("server.address", ":8080")
}

// LoadConfig reads config.yaml (or configFile when set), .env and SIFT_* environment variables.
func LoadConfig(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Warnf("Error loading .env file: %v", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/sift")
	}
	setDefaults(v)

	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed conventional names.
	v.BindEnv("database.dsn", "SIFT_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("redis.address", "SIFT_REDIS_ADDRESS", "REDIS_ADDR")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("Config file not found, using defaults and environment")
	} else {
		log.Debugf("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &cfg, nil
}
