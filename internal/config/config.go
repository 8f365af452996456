package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "NEWSPARSER_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	httpAddrEnv       = "HTTP_ADDR"
	logLevelEnv       = "LOG_LEVEL"
	llmProviderEnv    = "LLM_PROVIDER"
	llmModelEnv       = "LLM_MODEL"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Ingestion     IngestionConfig    `yaml:"ingestion"`
	Feeds         []FeedConfig       `yaml:"feeds" validate:"dive"`
	LLM           LLMConfig          `yaml:"llm"`
	ML            MLConfig           `yaml:"ml"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr            string          `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout" validate:"gt=0"`
	CORSOrigins     []string        `yaml:"corsOrigins"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig bounds expensive endpoints (manual fetch, chat) per client IP.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" validate:"gte=0"`
	Window   time.Duration `yaml:"window"`
}

// DatabaseConfig selects the article store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// SchedulerConfig defines the periodic jobs and task retention.
type SchedulerConfig struct {
	FetchInterval   time.Duration `yaml:"fetchInterval" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" validate:"gt=0"`
	TaskRetention   time.Duration `yaml:"taskRetention" validate:"gt=0"`
	RunOnStart      bool          `yaml:"runOnStart"`
}

// IngestionConfig tunes network behaviour of a run.
type IngestionConfig struct {
	FeedTimeout          time.Duration `yaml:"feedTimeout" validate:"gt=0"`
	ContentTimeout       time.Duration `yaml:"contentTimeout" validate:"gt=0"`
	FetchContent         bool          `yaml:"fetchContent"`
	UserAgent            string        `yaml:"userAgent"`
	ContentRatePerSecond float64       `yaml:"contentRatePerSecond" validate:"gte=0"`
	BreakerFailures      uint32        `yaml:"breakerFailures"`
	BreakerCooldown      time.Duration `yaml:"breakerCooldown"`
}

// FeedConfig describes a single feed with its scanner strategy.
type FeedConfig struct {
	Name    string `yaml:"name" validate:"required"`
	URL     string `yaml:"url" validate:"required,url"`
	Scanner string `yaml:"scanner"`
}

// LLMConfig defines how to contact the completion service.
type LLMConfig struct {
	Provider      string `yaml:"provider" validate:"omitempty,oneof=gemini openai"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	SystemPrompt  string `yaml:"systemPrompt"`
	MaxToolRounds int    `yaml:"maxToolRounds" validate:"gte=0"`
}

// MLConfig describes the optional remote topic classifier.
type MLConfig struct {
	InferenceURL string `yaml:"inferenceUrl" validate:"omitempty,url"`
	APIKey       string `yaml:"apiKey"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig selects log level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
				if err := cfg.applySwitches(raw); err != nil {
					log.Printf("config: cannot parse %s: %v", path, err)
				}
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Feeds) == 0 {
		cfg.Feeds = defaultConfig().Feeds
	}
	for i := range cfg.Feeds {
		if cfg.Feeds[i].Scanner == "" {
			cfg.Feeds[i].Scanner = "rss"
		}
	}

	return cfg
}

// Validate checks struct constraints after loading.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	switch c.LLM.Provider {
	case "openai":
		if v := os.Getenv(openAIAPIKeyEnv); v != "" {
			c.LLM.APIKey = v
		}
	default:
		if v := os.Getenv(geminiAPIKeyEnv); v != "" {
			c.LLM.APIKey = v
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}
	if override.Server.ShutdownTimeout > 0 {
		base.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}
	if len(override.Server.CORSOrigins) > 0 {
		base.Server.CORSOrigins = override.Server.CORSOrigins
	}
	if override.Server.RateLimit.Requests > 0 {
		base.Server.RateLimit = override.Server.RateLimit
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}

	if override.Scheduler.FetchInterval > 0 {
		base.Scheduler.FetchInterval = override.Scheduler.FetchInterval
	}
	if override.Scheduler.CleanupInterval > 0 {
		base.Scheduler.CleanupInterval = override.Scheduler.CleanupInterval
	}
	if override.Scheduler.TaskRetention > 0 {
		base.Scheduler.TaskRetention = override.Scheduler.TaskRetention
	}

	if override.Ingestion.FeedTimeout > 0 {
		base.Ingestion.FeedTimeout = override.Ingestion.FeedTimeout
	}
	if override.Ingestion.ContentTimeout > 0 {
		base.Ingestion.ContentTimeout = override.Ingestion.ContentTimeout
	}
	if override.Ingestion.UserAgent != "" {
		base.Ingestion.UserAgent = override.Ingestion.UserAgent
	}
	if override.Ingestion.ContentRatePerSecond > 0 {
		base.Ingestion.ContentRatePerSecond = override.Ingestion.ContentRatePerSecond
	}
	if override.Ingestion.BreakerFailures > 0 {
		base.Ingestion.BreakerFailures = override.Ingestion.BreakerFailures
	}
	if override.Ingestion.BreakerCooldown > 0 {
		base.Ingestion.BreakerCooldown = override.Ingestion.BreakerCooldown
	}

	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}

	if override.LLM.Provider != "" {
		base.LLM.Provider = override.LLM.Provider
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.Endpoint != "" {
		base.LLM.Endpoint = override.LLM.Endpoint
	}
	if override.LLM.SystemPrompt != "" {
		base.LLM.SystemPrompt = override.LLM.SystemPrompt
	}
	if override.LLM.MaxToolRounds > 0 {
		base.LLM.MaxToolRounds = override.LLM.MaxToolRounds
	}

	if override.ML.InferenceURL != "" {
		base.ML.InferenceURL = override.ML.InferenceURL
	}
	if override.ML.APIKey != "" {
		base.ML.APIKey = override.ML.APIKey
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

// fileSwitches holds the booleans whose default is not the zero value; a nil
// pointer means the file leaves the default alone.
type fileSwitches struct {
	Scheduler struct {
		RunOnStart *bool `yaml:"runOnStart"`
	} `yaml:"scheduler"`
	Ingestion struct {
		FetchContent *bool `yaml:"fetchContent"`
	} `yaml:"ingestion"`
}

func (c *Config) applySwitches(raw []byte) error {
	var sw fileSwitches
	if err := yaml.Unmarshal(raw, &sw); err != nil {
		return err
	}
	if sw.Scheduler.RunOnStart != nil {
		c.Scheduler.RunOnStart = *sw.Scheduler.RunOnStart
	}
	if sw.Ingestion.FetchContent != nil {
		c.Ingestion.FetchContent = *sw.Ingestion.FetchContent
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       RateLimitConfig{Requests: 30, Window: time.Minute},
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file:newsparser.db"},
		Scheduler: SchedulerConfig{
			FetchInterval:   time.Hour,
			CleanupInterval: 10 * time.Minute,
			TaskRetention:   time.Hour,
		},
		Ingestion: IngestionConfig{
			FeedTimeout:          15 * time.Second,
			ContentTimeout:       10 * time.Second,
			FetchContent:         true,
			UserAgent:            "NewsParser/1.0",
			ContentRatePerSecond: 5,
			BreakerFailures:      5,
			BreakerCooldown:      30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:      "gemini",
			Model:         "gemini-2.0-flash",
			MaxToolRounds: 5,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Feeds: []FeedConfig{
			{Name: "bbc-politics", URL: "https://feeds.bbci.co.uk/news/politics/rss.xml", Scanner: "rss"},
			{Name: "bbc-world", URL: "https://feeds.bbci.co.uk/news/world/rss.xml", Scanner: "rss"},
			{Name: "bbc-uk", URL: "https://feeds.bbci.co.uk/news/uk/rss.xml", Scanner: "rss"},
			{Name: "bbc-business", URL: "https://feeds.bbci.co.uk/news/business/rss.xml", Scanner: "rss"},
			{Name: "bbc-technology", URL: "https://feeds.bbci.co.uk/news/technology/rss.xml", Scanner: "rss"},
			{Name: "bbc-science", URL: "https://feeds.bbci.co.uk/news/science_and_environment/rss.xml", Scanner: "rss"},
			{Name: "bbc-entertainment", URL: "https://feeds.bbci.co.uk/news/entertainment_and_arts/rss.xml", Scanner: "rss"},
			{Name: "bbc-health", URL: "https://feeds.bbci.co.uk/news/health/rss.xml", Scanner: "rss"},
			{Name: "bbc-sport", URL: "https://feeds.bbci.co.uk/sport/rss.xml", Scanner: "rss"},
		},
	}
}
