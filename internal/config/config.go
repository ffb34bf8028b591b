// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Pipeline   PipelineConfig          `mapstructure:"pipeline"`
	Scoring    ScoringConfig           `mapstructure:"scoring"`
	Dedupe     DedupeConfig            `mapstructure:"dedupe"`
	Validation ValidationConfig        `mapstructure:"validation"`
	Extract    ExtractConfig           `mapstructure:"extract"`
	Sources    map[string]SourceConfig `mapstructure:"sources"`
	DB         DBConfig                `mapstructure:"db"`
	PubSub     PubSubConfig            `mapstructure:"pubsub"`
	OCR        OCRConfig               `mapstructure:"ocr"`
	Images     ImagesConfig            `mapstructure:"images"`
	Logging    LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs orchestrator concurrency and fetch retry behavior.
// It is passed explicitly at construction; there is no ambient global state.
type PipelineConfig struct {
	Workers          int `mapstructure:"workers"`
	MaxFetchAttempts int `mapstructure:"max_fetch_attempts"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	FetchTimeoutSec  int `mapstructure:"fetch_timeout_seconds"`
}

// BackoffBase returns the base delay as a duration.
func (p PipelineConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the delay cap as a duration.
func (p PipelineConfig) BackoffMax() time.Duration {
	return time.Duration(p.BackoffMaxMs) * time.Millisecond
}

// ScoringConfig holds the confidence formula weights. The documented numbers
// are defaults, not contracts; deployments tune them here.
type ScoringConfig struct {
	ExtractorWeight  float64 `mapstructure:"extractor_weight"`
	SourceWeight     float64 `mapstructure:"source_weight"`
	ValidationWeight float64 `mapstructure:"validation_weight"`
	// CorroborationStep is the per-extra-source bonus; CorroborationCap
	// bounds the total bonus regardless of how many sources corroborate.
	CorroborationStep        float64 `mapstructure:"corroboration_step"`
	CorroborationCap         float64 `mapstructure:"corroboration_cap"`
	DefaultSourceReliability float64 `mapstructure:"default_source_reliability"`
}

// DedupeConfig controls the fuzzy duplicate pass.
type DedupeConfig struct {
	// FuzzyThreshold is the minimum levenshtein similarity (0-1) for two
	// normalized values to be flagged as possible duplicates.
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
}

// ValidationConfig toggles validator behavior.
type ValidationConfig struct {
	CountryCode string `mapstructure:"country_code"`
	// CheckDomainReachability enables the external DNS lookup hook for email
	// domains. Off by default: network cost.
	CheckDomainReachability bool `mapstructure:"check_domain_reachability"`
}

// ExtractConfig tunes extractor behavior.
type ExtractConfig struct {
	// OCRPenalty multiplies the confidence of candidates re-extracted from
	// OCR text, reflecting recognition noise.
	OCRPenalty float64 `mapstructure:"ocr_penalty"`
	OCREnabled bool    `mapstructure:"ocr_enabled"`
}

// SourceConfig carries per-source trust and rate limiting.
type SourceConfig struct {
	// Reliability is the configured trust weight in [0,1].
	Reliability float64 `mapstructure:"reliability"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`
	FeedURL     string  `mapstructure:"feed_url"`
}

// DBConfig controls access to the relational contact store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for discovery event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OCRConfig configures the external OCR service client.
type OCRConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// ImagesConfig selects the image blob backend.
type ImagesConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Reliability returns the configured trust weight for a source, falling back
// to the scoring default for unknown sources.
func (c Config) Reliability(sourceName string) float64 {
	if sc, ok := c.Sources[normalizeSourceName(sourceName)]; ok {
		return sc.Reliability
	}
	return c.Scoring.DefaultSourceReliability
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.MaxFetchAttempts < 0 {
		return fmt.Errorf("pipeline.max_fetch_attempts must be >= 0")
	}
	if c.Pipeline.BackoffBaseMs <= 0 {
		return fmt.Errorf("pipeline.backoff_base_ms must be > 0")
	}
	total := c.Scoring.ExtractorWeight + c.Scoring.SourceWeight + c.Scoring.ValidationWeight
	if total <= 0 {
		return fmt.Errorf("scoring weights must sum to > 0")
	}
	if c.Scoring.CorroborationCap < 0 || c.Scoring.CorroborationStep < 0 {
		return fmt.Errorf("scoring corroboration values must be >= 0")
	}
	if c.Dedupe.FuzzyThreshold <= 0 || c.Dedupe.FuzzyThreshold > 1 {
		return fmt.Errorf("dedupe.fuzzy_threshold must be in (0,1]")
	}
	for name, sc := range c.Sources {
		if sc.Reliability < 0 || sc.Reliability > 1 {
			return fmt.Errorf("sources.%s.reliability must be in [0,1]", name)
		}
	}
	return nil
}

func normalizeSourceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
