package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"garagehub/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig         `yaml:"app"`
	Telegram   TelegramConfig    `yaml:"telegram"`
	Database   DatabaseConfig    `yaml:"database"`
	Redis      RedisConfig       `yaml:"redis"`
	Backup     BackupConfig      `yaml:"backup"`
	Monitoring MonitoringConfig  `yaml:"monitoring"`
	Logging    LoggingConfig     `yaml:"logging"`
	API        APIConfig         `yaml:"api"`
	Tracking   TrackingConfig    `yaml:"tracking"`
	Display    DisplayConfig     `yaml:"display"`
	Promo      PromoConfig       `yaml:"promo"`
	Worker     WorkerConfig      `yaml:"worker"`
	Broker     BrokerConfig      `yaml:"broker"`
	Exports    ExportConfig      `yaml:"exports"`
	Google     GoogleConfig      `yaml:"google"`
	Mechanics  []models.Mechanic `yaml:"mechanics"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey is one API consumer. Permissions gate route groups:
// "read", "write", "tracking", "mechanic" and "admin".
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TrackingConfig overrides the position simulation constants.
type TrackingConfig struct {
	Interval           time.Duration `yaml:"interval"`
	AverageSpeedKmh    float64       `yaml:"average_speed_kmh"`
	StepFraction       float64       `yaml:"step_fraction"`
	ArrivalThresholdKm float64       `yaml:"arrival_threshold_km"`
	SnapshotTTL        time.Duration `yaml:"snapshot_ttl"`
	ViewRetention      time.Duration `yaml:"view_retention"`
	LocationRateLimit  int           `yaml:"location_rate_limit"`
	LocationRateWindow time.Duration `yaml:"location_rate_window"`
}

// DisplayConfig controls how timestamps are rendered for timelines.
type DisplayConfig struct {
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone, falling back to the local zone.
func (d DisplayConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

type PromoConfig struct {
	BannersPath      string        `yaml:"banners_path"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
}

type WorkerConfig struct {
	QueueKey       string        `yaml:"queue_key"`
	DeadLetterKey  string        `yaml:"dead_letter_key"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	RequeueEvery   time.Duration `yaml:"requeue_every"`
	RequeueBatch   int           `yaml:"requeue_batch"`
	NotifyStatuses []string      `yaml:"notify_statuses"`
}

type BrokerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
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

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
	SheetName             string `yaml:"sheet_name"`
}

// Enabled reports whether sheet sync has everything it needs.
func (g GoogleConfig) Enabled() bool {
	return g.GoogleCredentialsFile != "" && g.BookingSpreadSheetID != ""
}

// Load reads the YAML config at configPath. A .env file next to the process is
// applied first when present; ${VAR} references in the YAML are expanded.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

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

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE") {
		return errors.New("telegram bot token is required when telegram is enabled")
	}

	if c.Broker.Enabled && c.Broker.URL == "" {
		return errors.New("broker url is required when broker is enabled")
	}

	if c.Tracking.StepFraction < 0 || c.Tracking.StepFraction > 1 {
		return fmt.Errorf("tracking.step_fraction must be within (0, 1], got %v", c.Tracking.StepFraction)
	}
	if c.Tracking.AverageSpeedKmh < 0 || c.Tracking.ArrivalThresholdKm < 0 {
		return errors.New("tracking speed and arrival threshold must be positive")
	}

	if c.Display.Timezone != "" {
		if _, err := time.LoadLocation(c.Display.Timezone); err != nil {
			return fmt.Errorf("display.timezone: %w", err)
		}
	}

	for i, key := range c.API.Auth.APIKeys {
		if key.Key == "" {
			return fmt.Errorf("api key #%d has empty key", i)
		}
	}

	return ValidateMechanics(c.Mechanics)
}

func ValidateMechanics(mechanics []models.Mechanic) error {
	ids := make(map[int64]bool)
	for _, m := range mechanics {
		if m.ID == 0 {
			return fmt.Errorf("mechanic '%s' has invalid ID 0", m.Name)
		}
		if ids[m.ID] {
			return fmt.Errorf("duplicate mechanic ID found: %d", m.ID)
		}
		ids[m.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "garagehub"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Tracking.Interval == 0 {
		c.Tracking.Interval = models.TrackingInterval
	}
	if c.Tracking.AverageSpeedKmh == 0 {
		c.Tracking.AverageSpeedKmh = models.AverageSpeedKmh
	}
	if c.Tracking.StepFraction == 0 {
		c.Tracking.StepFraction = models.TrackingStepFraction
	}
	if c.Tracking.ArrivalThresholdKm == 0 {
		c.Tracking.ArrivalThresholdKm = models.ArrivalThresholdKm
	}
	if c.Tracking.SnapshotTTL == 0 {
		c.Tracking.SnapshotTTL = models.SnapshotTTL
	}
	if c.Tracking.ViewRetention == 0 {
		c.Tracking.ViewRetention = models.ViewRetention
	}
	if c.Tracking.LocationRateLimit == 0 {
		c.Tracking.LocationRateLimit = models.LocationRateLimit
	}
	if c.Tracking.LocationRateWindow == 0 {
		c.Tracking.LocationRateWindow = models.LocationRateWindow
	}

	if c.Promo.RotationInterval == 0 {
		c.Promo.RotationInterval = models.BannerRotationInterval
	}

	if c.Worker.QueueKey == "" {
		c.Worker.QueueKey = "garagehub:tasks"
	}
	if c.Worker.DeadLetterKey == "" {
		c.Worker.DeadLetterKey = c.Worker.QueueKey + ":deadletter"
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.BaseDelay == 0 {
		c.Worker.BaseDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.RequeueEvery == 0 {
		c.Worker.RequeueEvery = 30 * time.Second
	}
	if c.Worker.RequeueBatch == 0 {
		c.Worker.RequeueBatch = 50
	}

	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "garagehub.events"
	}

	if c.Backup.Enabled && c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Google.SheetName == "" {
		c.Google.SheetName = "Bookings"
	}
}
