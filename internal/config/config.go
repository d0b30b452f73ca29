package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Supplier   SupplierConfig   `mapstructure:"supplier"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Venues     []VenueConfig    `mapstructure:"venues"`
	VenueOrder []string         `mapstructure:"venue_order"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SupplierConfig holds the aggregated quote feed configuration
type SupplierConfig struct {
	FeedURL         string        `mapstructure:"feed_url"`
	Categories      []string      `mapstructure:"categories"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// PolymarketConfig holds Polymarket Gamma API configuration
type PolymarketConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	GammaAPIURL   string  `mapstructure:"gamma_api_url"`
	EventBaseURL  string  `mapstructure:"event_base_url"`
	Volume24hrMin float64 `mapstructure:"volume_24hr_min"`
	Limit         int     `mapstructure:"limit"`
}

// MatcherConfig holds cross-supplier title matching thresholds (0-100)
type MatcherConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	EventKeyThreshold float64 `mapstructure:"event_key_threshold"`
	TitleThreshold    float64 `mapstructure:"title_threshold"`
}

// EngineConfig holds detection thresholds
type EngineConfig struct {
	ReferenceVenue    string  `mapstructure:"reference_venue"`
	InstitutionalGap  float64 `mapstructure:"institutional_gap"`
	MarketMakerSpread float64 `mapstructure:"market_maker_spread"`
	OpportunityFloor  float64 `mapstructure:"opportunity_floor"`
	MinLines          int     `mapstructure:"min_lines"`
	ConfidenceBase    float64 `mapstructure:"confidence_base"`
	ConfidenceSlope   float64 `mapstructure:"confidence_slope"`
	ConfidenceCap     float64 `mapstructure:"confidence_cap"`
	FallbackSearchURL string  `mapstructure:"fallback_search_url"`
}

// VenueConfig is one entry of the venue directory
type VenueConfig struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
	SearchURL   string `mapstructure:"search_url"`
	DefaultUnit string `mapstructure:"default_unit"`
}

// MonitorConfig holds refresh and notification behavior configuration
type MonitorConfig struct {
	TopK               int           `mapstructure:"top_k"`
	CooldownMultiplier int           `mapstructure:"cooldown_multiplier"`
	RefreshTimeout     time.Duration `mapstructure:"refresh_timeout"`
	MinArbPercent      float64       `mapstructure:"min_arb_percent"`
	MinAlphaEdge       float64       `mapstructure:"min_alpha_edge"`
	EdgeWidening       float64       `mapstructure:"edge_widening"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	MaxEvents int    `mapstructure:"max_events"`
	DBPath    string `mapstructure:"db_path"`
}

// CacheConfig holds the Redis fallback cache configuration
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Addr         string   `mapstructure:"addr"`
	Mode         string   `mapstructure:"mode"`
	Pprof        bool     `mapstructure:"pprof"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env file
// in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// POLYEDGE_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("POLYEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Supplier defaults
	v.SetDefault("supplier.feed_url", "")
	v.SetDefault("supplier.categories", []string{"politics"})
	v.SetDefault("supplier.refresh_interval", "5m")
	v.SetDefault("supplier.timeout", "120s")
	v.SetDefault("supplier.max_retries", 3)
	v.SetDefault("supplier.retry_delay", "1s")

	// Polymarket defaults
	v.SetDefault("polymarket.enabled", true)
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.event_base_url", "https://polymarket.com/event")
	v.SetDefault("polymarket.volume_24hr_min", 0.0) // 0 = no filter
	v.SetDefault("polymarket.limit", 100)

	// Matcher defaults
	md := engine.DefaultMatchConfig()
	v.SetDefault("matcher.enabled", true)
	v.SetDefault("matcher.event_key_threshold", md.EventKeyThreshold)
	v.SetDefault("matcher.title_threshold", md.TitleThreshold)

	// Engine defaults
	d := engine.DefaultConfig()
	v.SetDefault("engine.reference_venue", d.ReferenceVenue)
	v.SetDefault("engine.institutional_gap", d.InstitutionalGap)
	v.SetDefault("engine.market_maker_spread", d.MarketMakerSpread)
	v.SetDefault("engine.opportunity_floor", d.OpportunityFloor)
	v.SetDefault("engine.min_lines", d.MinLines)
	v.SetDefault("engine.confidence_base", d.ConfidenceBase)
	v.SetDefault("engine.confidence_slope", d.ConfidenceSlope)
	v.SetDefault("engine.confidence_cap", d.ConfidenceCap)
	v.SetDefault("engine.fallback_search_url", d.FallbackSearchURL)

	venues := make([]map[string]any, 0, len(d.Venues))
	for _, venue := range d.Venues {
		venues = append(venues, map[string]any{
			"id":           venue.ID,
			"display_name": venue.DisplayName,
			"search_url":   venue.SearchURL,
			"default_unit": string(venue.DefaultUnit),
		})
	}
	v.SetDefault("venues", venues)
	v.SetDefault("venue_order", d.VenueOrder)

	// Monitor defaults
	v.SetDefault("monitor.top_k", 10)
	v.SetDefault("monitor.cooldown_multiplier", 5)
	v.SetDefault("monitor.refresh_timeout", "150s")
	v.SetDefault("monitor.min_arb_percent", 0.0)
	v.SetDefault("monitor.min_alpha_edge", 0.0)
	v.SetDefault("monitor.edge_widening", 1.0)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.max_events", 2000)
	v.SetDefault("storage.db_path", "")

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.key_prefix", "polyedge:")
	v.SetDefault("cache.ttl", "24h")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.pprof", false)
	v.SetDefault("server.allow_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Supplier config
	if c.Supplier.FeedURL == "" && !c.Polymarket.Enabled {
		return fmt.Errorf("supplier.feed_url is required when polymarket is disabled")
	}
	if c.Supplier.FeedURL != "" && !isHTTPURL(c.Supplier.FeedURL) {
		return fmt.Errorf("supplier.feed_url must be an http(s) URL")
	}
	if len(c.Supplier.Categories) == 0 {
		return fmt.Errorf("supplier.categories must contain at least one category")
	}
	if c.Supplier.RefreshInterval < 10*time.Second {
		return fmt.Errorf("supplier.refresh_interval must be at least 10 seconds")
	}
	if c.Supplier.Timeout <= 0 {
		return fmt.Errorf("supplier.timeout must be positive")
	}
	if c.Supplier.MaxRetries < 1 {
		return fmt.Errorf("supplier.max_retries must be at least 1")
	}
	if c.Supplier.RetryDelay < 0 {
		return fmt.Errorf("supplier.retry_delay must not be negative")
	}

	// Validate Polymarket config
	if c.Polymarket.Enabled {
		if c.Polymarket.GammaAPIURL == "" {
			return fmt.Errorf("polymarket.gamma_api_url is required")
		}
		if c.Polymarket.Volume24hrMin < 0 {
			return fmt.Errorf("polymarket.volume_24hr_min must not be negative")
		}
		if c.Polymarket.Limit < 1 || c.Polymarket.Limit > 1000 {
			return fmt.Errorf("polymarket.limit must be between 1 and 1000")
		}
	}

	// Validate Matcher config
	if c.Matcher.Enabled {
		if c.Matcher.EventKeyThreshold <= 0 || c.Matcher.EventKeyThreshold > 100 {
			return fmt.Errorf("matcher.event_key_threshold must be between 0 and 100")
		}
		if c.Matcher.TitleThreshold <= 0 || c.Matcher.TitleThreshold > 100 {
			return fmt.Errorf("matcher.title_threshold must be between 0 and 100")
		}
	}

	// Validate Engine config
	if c.Engine.InstitutionalGap <= 0 || c.Engine.InstitutionalGap >= 1 {
		return fmt.Errorf("engine.institutional_gap must be between 0 and 1")
	}
	if c.Engine.MarketMakerSpread <= 0 || c.Engine.MarketMakerSpread >= 1 {
		return fmt.Errorf("engine.market_maker_spread must be between 0 and 1")
	}
	if c.Engine.OpportunityFloor < 0 {
		return fmt.Errorf("engine.opportunity_floor must not be negative")
	}
	if c.Engine.MinLines < 1 {
		return fmt.Errorf("engine.min_lines must be at least 1")
	}
	if c.Engine.ConfidenceCap <= 0 || c.Engine.ConfidenceCap > 100 {
		return fmt.Errorf("engine.confidence_cap must be between 0 and 100")
	}
	if c.Engine.FallbackSearchURL == "" {
		return fmt.Errorf("engine.fallback_search_url is required")
	}

	// Validate venue directory
	seen := make(map[string]bool, len(c.Venues))
	for _, venue := range c.Venues {
		if venue.ID == "" {
			return fmt.Errorf("venues: every venue needs an id")
		}
		if seen[venue.ID] {
			return fmt.Errorf("venues: duplicate venue id %q", venue.ID)
		}
		seen[venue.ID] = true
		if !models.PriceUnit(venue.DefaultUnit).Valid() {
			return fmt.Errorf("venues.%s.default_unit must be one of: probability, cents, american, decimal", venue.ID)
		}
	}

	// Validate Monitor config
	if c.Monitor.TopK < 1 {
		return fmt.Errorf("monitor.top_k must be at least 1")
	}
	if c.Monitor.CooldownMultiplier < 0 {
		return fmt.Errorf("monitor.cooldown_multiplier must not be negative")
	}
	if c.Monitor.RefreshTimeout <= 0 {
		return fmt.Errorf("monitor.refresh_timeout must be positive")
	}
	if c.Monitor.EdgeWidening < 0 {
		return fmt.Errorf("monitor.edge_widening must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Storage config
	if c.Storage.MaxEvents < 1 {
		return fmt.Errorf("storage.max_events must be at least 1")
	}

	// Validate Cache config
	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required when cache is enabled")
		}
		if c.Cache.TTL < 0 {
			return fmt.Errorf("cache.ttl must not be negative")
		}
	}

	// Validate Server config
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return fmt.Errorf("server.addr is required when server is enabled")
		}
		validModes := map[string]bool{"debug": true, "release": true, "test": true}
		if !validModes[c.Server.Mode] {
			return fmt.Errorf("server.mode must be one of: debug, release, test")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// EngineSettings builds the engine configuration from the engine and venue
// sections.
func (c *Config) EngineSettings() engine.Config {
	ec := engine.Config{
		ReferenceVenue:    strings.ToLower(c.Engine.ReferenceVenue),
		InstitutionalGap:  c.Engine.InstitutionalGap,
		MarketMakerSpread: c.Engine.MarketMakerSpread,
		OpportunityFloor:  c.Engine.OpportunityFloor,
		MinLines:          c.Engine.MinLines,
		ConfidenceBase:    c.Engine.ConfidenceBase,
		ConfidenceSlope:   c.Engine.ConfidenceSlope,
		ConfidenceCap:     c.Engine.ConfidenceCap,
		FallbackSearchURL: c.Engine.FallbackSearchURL,
	}
	for _, id := range c.VenueOrder {
		ec.VenueOrder = append(ec.VenueOrder, strings.ToLower(id))
	}
	for _, venue := range c.Venues {
		ec.Venues = append(ec.Venues, engine.Venue{
			ID:          strings.ToLower(venue.ID),
			DisplayName: venue.DisplayName,
			SearchURL:   venue.SearchURL,
			DefaultUnit: models.PriceUnit(venue.DefaultUnit),
		})
	}
	return ec
}

// MatchSettings builds the title matcher thresholds.
func (c *Config) MatchSettings() engine.MatchConfig {
	return engine.MatchConfig{
		EventKeyThreshold: c.Matcher.EventKeyThreshold,
		TitleThreshold:    c.Matcher.TitleThreshold,
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
