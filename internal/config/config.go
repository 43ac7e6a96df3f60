package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Skufu/deprescribe/internal/risk"
)

const (
	CriteriaEmbedded = "embedded"
	CriteriaDir      = "dir"
	CriteriaPostgres = "postgres"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	GinMode  string `mapstructure:"GIN_MODE"`

	EnableDB    bool   `mapstructure:"ENABLE_DB"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	CriteriaSource string `mapstructure:"CRITERIA_SOURCE"`
	CriteriaDir    string `mapstructure:"CRITERIA_DIR"`

	GeminiAPIKey  string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel   string `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL string `mapstructure:"GEMINI_BASE_URL"`

	InteractionTimeout     time.Duration `mapstructure:"INTERACTION_TIMEOUT"`
	InteractionConcurrency int           `mapstructure:"INTERACTION_CONCURRENCY"`
	InteractionCacheTTL    time.Duration `mapstructure:"INTERACTION_CACHE_TTL"`
	TaperRefineTimeout     time.Duration `mapstructure:"TAPER_REFINE_TIMEOUT"`

	RiskHighWeight     int `mapstructure:"RISK_HIGH_WEIGHT"`
	RiskModerateWeight int `mapstructure:"RISK_MODERATE_WEIGHT"`
	RiskFrailtyBonus   int `mapstructure:"RISK_FRAILTY_BONUS"`
	RiskCFSBonus       int `mapstructure:"RISK_CFS_BONUS"`
	RiskAgeBonus       int `mapstructure:"RISK_AGE_BONUS"`
	RiskAgeThreshold   int `mapstructure:"RISK_AGE_THRESHOLD"`

	MaxBodyBytes int64 `mapstructure:"MAX_BODY_BYTES"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "GIN_MODE",
	"ENABLE_DB", "DATABASE_URL", "DB_MAX_CONNS", "REDIS_URL",
	"CRITERIA_SOURCE", "CRITERIA_DIR",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL",
	"INTERACTION_TIMEOUT", "INTERACTION_CONCURRENCY", "INTERACTION_CACHE_TTL", "TAPER_REFINE_TIMEOUT",
	"RISK_HIGH_WEIGHT", "RISK_MODERATE_WEIGHT", "RISK_FRAILTY_BONUS", "RISK_CFS_BONUS",
	"RISK_AGE_BONUS", "RISK_AGE_THRESHOLD",
	"MAX_BODY_BYTES",
}

// Load reads .env when present, then the environment. The result is not
// validated; call Validate before using it to start the server.
func Load() (*Config, error) {
	_ = godotenv.Load()

	def := risk.DefaultPolicy()
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("ENABLE_DB", false)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("CRITERIA_SOURCE", CriteriaEmbedded)
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("INTERACTION_TIMEOUT", "8s")
	v.SetDefault("INTERACTION_CONCURRENCY", 4)
	v.SetDefault("INTERACTION_CACHE_TTL", "24h")
	v.SetDefault("TAPER_REFINE_TIMEOUT", "10s")
	v.SetDefault("RISK_HIGH_WEIGHT", def.HighWeight)
	v.SetDefault("RISK_MODERATE_WEIGHT", def.ModerateWeight)
	v.SetDefault("RISK_FRAILTY_BONUS", def.FrailtyBonus)
	v.SetDefault("RISK_CFS_BONUS", def.SevereCFSBonus)
	v.SetDefault("RISK_AGE_BONUS", def.AgeBonus)
	v.SetDefault("RISK_AGE_THRESHOLD", def.AgeThreshold)
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CriteriaSource = strings.ToLower(strings.TrimSpace(cfg.CriteriaSource))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// NeedsDB reports whether the server must connect to Postgres at start.
func (c *Config) NeedsDB() bool {
	return c.EnableDB || c.CriteriaSource == CriteriaPostgres
}

// RefinementEnabled reports whether a generative model key is configured.
func (c *Config) RefinementEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Validate collects every problem rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	switch c.CriteriaSource {
	case CriteriaEmbedded, CriteriaPostgres:
	case CriteriaDir:
		if c.CriteriaDir == "" {
			errs = append(errs, errors.New("CRITERIA_DIR is required when CRITERIA_SOURCE=dir"))
		}
	default:
		errs = append(errs, fmt.Errorf("CRITERIA_SOURCE must be %q, %q or %q, got %q",
			CriteriaEmbedded, CriteriaDir, CriteriaPostgres, c.CriteriaSource))
	}
	if c.NeedsDB() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required when ENABLE_DB=true or CRITERIA_SOURCE=postgres"))
	}
	if c.DBMaxConns < 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must not be negative"))
	}
	if c.InteractionTimeout <= 0 {
		errs = append(errs, errors.New("INTERACTION_TIMEOUT must be positive"))
	}
	if c.TaperRefineTimeout <= 0 {
		errs = append(errs, errors.New("TAPER_REFINE_TIMEOUT must be positive"))
	}
	if c.InteractionCacheTTL <= 0 {
		errs = append(errs, errors.New("INTERACTION_CACHE_TTL must be positive"))
	}
	if c.InteractionConcurrency <= 0 {
		errs = append(errs, errors.New("INTERACTION_CONCURRENCY must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if err := c.RiskPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk policy: %w", err))
	}
	return errors.Join(errs...)
}

// RiskPolicy overlays the configured weights on the default policy.
// Category thresholds and the withdrawal class list are not configurable.
func (c *Config) RiskPolicy() risk.Policy {
	p := risk.DefaultPolicy()
	p.HighWeight = c.RiskHighWeight
	p.ModerateWeight = c.RiskModerateWeight
	p.FrailtyBonus = c.RiskFrailtyBonus
	p.SevereCFSBonus = c.RiskCFSBonus
	p.AgeBonus = c.RiskAgeBonus
	p.AgeThreshold = c.RiskAgeThreshold
	return p
}
