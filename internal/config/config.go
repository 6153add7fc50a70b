package config

import (
	"errors"
	"fmt"
	"os"

	"tablewatch/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Provider   ProviderConfig   `yaml:"provider"`
	Scan       ScanConfig       `yaml:"scan"`
	Notify     NotifyConfig     `yaml:"notify"`
	Cache      CacheConfig      `yaml:"cache"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ProviderConfig covers the upstream reservations API.
type ProviderConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Origin         string  `yaml:"origin"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
	SlotLimit      int     `yaml:"slot_limit"`
	AnchorHours    []int   `yaml:"anchor_hours"`
}

type ScanConfig struct {
	UrgentIntervalMinutes int `yaml:"urgent_interval_minutes"`
	NormalIntervalMinutes int `yaml:"normal_interval_minutes"`
	RescanBufferMinutes   int `yaml:"rescan_buffer_minutes"`
	FetchWorkers          int `yaml:"fetch_workers"`
	ExpireIntervalHours   int `yaml:"expire_interval_hours"`
	QueueCleanupHours     int `yaml:"queue_cleanup_hours"`
	QueueRetentionDays    int `yaml:"queue_retention_days"`
}

type NotifyConfig struct {
	DedupWindowMinutes int    `yaml:"dedup_window_minutes"`
	BookingURL         string `yaml:"booking_url"`
	// AdminEmail receives operational notices (new watches, feedback).
	// Empty disables admin notifications.
	AdminEmail string `yaml:"admin_email"`

	Email    EmailConfig    `yaml:"email"`
	SMS      SMSConfig      `yaml:"sms"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SMSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

// APIAuthConfig controls API key checking. An enabled API always runs
// authenticated: `enabled: false` here is overridden at load time when
// api.enabled is true.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already carry everything.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing so secrets stay out of YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider base_url is required")
	}
	if c.Notify.Telegram.Enabled && c.Notify.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when telegram notify is enabled")
	}
	if c.Notify.Email.Enabled && c.Notify.Email.Host == "" {
		return errors.New("smtp host is required when email notify is enabled")
	}
	if c.Notify.SMS.Enabled && (c.Notify.SMS.AccountSID == "" || c.Notify.SMS.AuthToken == "") {
		return errors.New("sms credentials are required when sms notify is enabled")
	}
	for _, h := range c.Provider.AnchorHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("anchor hour %d out of range", h)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Scan.UrgentIntervalMinutes == 0 {
		c.Scan.UrgentIntervalMinutes = models.DefaultUrgentIntervalMinutes
	}
	if c.Scan.NormalIntervalMinutes == 0 {
		c.Scan.NormalIntervalMinutes = models.DefaultNormalIntervalMinutes
	}
	if c.Scan.RescanBufferMinutes == 0 {
		c.Scan.RescanBufferMinutes = models.DefaultRescanBufferMinutes
	}
	if c.Scan.FetchWorkers == 0 {
		c.Scan.FetchWorkers = models.DefaultFetchWorkers
	}
	if c.Scan.ExpireIntervalHours == 0 {
		c.Scan.ExpireIntervalHours = models.DefaultExpireIntervalHours
	}
	if c.Scan.QueueCleanupHours == 0 {
		c.Scan.QueueCleanupHours = models.DefaultQueueCleanupHours
	}
	if c.Scan.QueueRetentionDays == 0 {
		c.Scan.QueueRetentionDays = 7
	}

	if c.Notify.DedupWindowMinutes == 0 {
		c.Notify.DedupWindowMinutes = models.DefaultDedupWindowMinutes
	}
	if c.Notify.SMS.BaseURL == "" {
		c.Notify.SMS.BaseURL = "https://api.twilio.com"
	}

	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 15
	}
	if c.Provider.RPS == 0 {
		c.Provider.RPS = 2
	}
	if c.Provider.Burst == 0 {
		c.Provider.Burst = 4
	}
	if c.Provider.SlotLimit == 0 {
		c.Provider.SlotLimit = 20
	}
	if len(c.Provider.AnchorHours) == 0 {
		c.Provider.AnchorHours = []int{12, 17, 21}
	}

	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = models.DefaultCacheTTLSeconds
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	// an enabled API always runs authenticated, even when auth.enabled is
	// explicitly false
	if c.API.Enabled && !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
