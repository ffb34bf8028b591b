package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTACTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_fetch_attempts", 3)
	v.SetDefault("pipeline.backoff_base_ms", 500)
	v.SetDefault("pipeline.backoff_max_ms", 30000)
	v.SetDefault("pipeline.fetch_timeout_seconds", 30)
	v.SetDefault("scoring.extractor_weight", 0.4)
	v.SetDefault("scoring.source_weight", 0.3)
	v.SetDefault("scoring.validation_weight", 0.3)
	v.SetDefault("scoring.corroboration_step", 0.05)
	v.SetDefault("scoring.corroboration_cap", 0.15)
	v.SetDefault("scoring.default_source_reliability", 0.5)
	v.SetDefault("dedupe.fuzzy_threshold", 0.84)
	v.SetDefault("validation.country_code", "49")
	v.SetDefault("validation.check_domain_reachability", false)
	v.SetDefault("extract.ocr_penalty", 0.7)
	v.SetDefault("extract.ocr_enabled", true)
	v.SetDefault("ocr.timeout_seconds", 20)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("logging.development", true)
}
