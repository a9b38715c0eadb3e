package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	loaded   *viper.Viper
	loadedMu sync.Mutex
)

// ErrMissingAPIKey is returned when no SmartThings token is configured
var ErrMissingAPIKey = errors.New("no SmartThings API key specified; set SMARTTHINGS_API_KEY (tokens: https://account.smartthings.com/tokens)")

// Config is the application configuration
type Config struct {
	SmartThings  SmartThingsConfig           `mapstructure:"smartthings"`
	Poll         PollConfig                  `mapstructure:"poll"`
	Capabilities map[string]CapabilityConfig `mapstructure:"capabilities"`
	Storage      StorageConfig               `mapstructure:"storage"`
	MQTT         MQTTConfig                  `mapstructure:"mqtt"`
	Metrics      MetricsConfig               `mapstructure:"metrics"`
	Logger       LoggerConfig                `mapstructure:"logger"`
}

// SmartThingsConfig configures the device API client
type SmartThingsConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PollConfig configures the polling loop
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// CapabilityConfig maps an extra capability block to a measurement.
// The reading at components.main.<component>.<attribute> is passed through
// an optional JavaScript transform(value, timestamp) and checked against [min, max].
type CapabilityConfig struct {
	Component   string   `mapstructure:"component"`
	Attribute   string   `mapstructure:"attribute"`
	Measurement string   `mapstructure:"measurement"`
	Min         *float64 `mapstructure:"min"`
	Max         *float64 `mapstructure:"max"`
	ScriptPath  string   `mapstructure:"script_path"`
	ScriptCode  string   `mapstructure:"script_code"`
}

// StorageConfig selects the sinks points are written to
type StorageConfig struct {
	Influx   InfluxStorageConfig   `mapstructure:"influx"`
	File     FileStorageConfig     `mapstructure:"file"`
	Database DatabaseStorageConfig `mapstructure:"database"`
	MQTT     MQTTStorageConfig     `mapstructure:"mqtt"`
}

// InfluxStorageConfig configures the InfluxDB sink. Database and
// RetentionPolicy address a 1.x database through the 1.8 compatibility API;
// Org and Bucket are used instead when Bucket is set. IntegerFields writes
// whole values as integers, for databases whose fields already hold integers.
type InfluxStorageConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	URL             string        `mapstructure:"url"`
	Database        string        `mapstructure:"database"`
	RetentionPolicy string        `mapstructure:"retention_policy"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Token           string        `mapstructure:"token"`
	Org             string        `mapstructure:"org"`
	Bucket          string        `mapstructure:"bucket"`
	Timeout         time.Duration `mapstructure:"timeout"`
	IntegerFields   bool          `mapstructure:"integer_fields"`
}

// ServerURL returns URL, or http://host:port when URL is empty
func (c InfluxStorageConfig) ServerURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// FileStorageConfig configures the JSON lines archive
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseStorageConfig configures the SQL archive
type DatabaseStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// MQTTStorageConfig mirrors points to an MQTT broker
type MQTTStorageConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
	Retain      bool   `mapstructure:"retain"`
}

// MQTTConfig represents the MQTT connection
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MetricsConfig configures the Prometheus endpoint; an empty Listen disables it
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// LoggerConfig represents the logging configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ConfigChangeCallback is called with the new configuration after the file changes
type ConfigChangeCallback func(cfg *Config) error

// envBindings keeps the legacy deployment variable names working
var envBindings = map[string][]string{
	"smartthings.api_key":             {"SMARTTHINGS_API_KEY"},
	"smartthings.base_url":            {"SMARTTHINGS_BASE_URL"},
	"poll.interval":                   {"POLL_INTERVAL"},
	"storage.influx.host":             {"INFLUX_NAME", "INFLUX_HOST"},
	"storage.influx.port":             {"INFLUX_PORT"},
	"storage.influx.url":              {"INFLUX_URL"},
	"storage.influx.database":         {"INFLUX_DATABASE"},
	"storage.influx.username":         {"INFLUX_USERNAME"},
	"storage.influx.password":         {"INFLUX_PASSWORD"},
	"storage.influx.token":            {"INFLUX_TOKEN"},
	"storage.influx.org":              {"INFLUX_ORG"},
	"storage.influx.bucket":           {"INFLUX_BUCKET"},
	"storage.influx.retention_policy": {"INFLUX_RETENTION_POLICY"},
	"storage.influx.integer_fields":   {"INFLUX_INTEGER_FIELDS"},
	"logger.level":                    {"LOG_LEVEL"},
	"metrics.listen":                  {"METRICS_LISTEN"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("smartthings.base_url", "https://api.smartthings.com/v1")
	v.SetDefault("smartthings.timeout", 30*time.Second)
	v.SetDefault("poll.interval", 5*time.Minute)
	v.SetDefault("poll.concurrency", 4)
	v.SetDefault("storage.influx.enabled", true)
	v.SetDefault("storage.influx.host", "localhost")
	v.SetDefault("storage.influx.port", 8086)
	v.SetDefault("storage.influx.database", "SmartThings")
	v.SetDefault("storage.influx.timeout", 10*time.Second)
	v.SetDefault("storage.mqtt.topic_prefix", "smartthings")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

// LoadConfig reads a .env file if present, then the YAML file at configPath
// if it exists, then environment overrides. The result is validated.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", configPath, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	loadedMu.Lock()
	loaded = v
	loadedMu.Unlock()
	return &config, nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SmartThings.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.SmartThings.BaseURL == "" {
		return errors.New("smartthings.base_url is required")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.Concurrency < 1 {
		return fmt.Errorf("poll.concurrency must be at least 1, got %d", c.Poll.Concurrency)
	}
	if c.Storage.Influx.Enabled && c.Storage.Influx.Database == "" && c.Storage.Influx.Bucket == "" {
		return errors.New("storage.influx needs a database or a bucket")
	}
	if c.Storage.Database.Enabled && c.Storage.Database.DSN == "" {
		return errors.New("storage.database.dsn is required when the database sink is enabled")
	}
	if c.Storage.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when the MQTT sink is enabled")
	}
	if c.Storage.MQTT.QoS > 2 {
		return fmt.Errorf("storage.mqtt.qos must be 0, 1 or 2, got %d", c.Storage.MQTT.QoS)
	}
	return nil
}

// WatchConfig calls callback with the re-read configuration whenever the file is written
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("watch config %s: %w", absPath, err)
	}

	loadedMu.Lock()
	v := loaded
	loadedMu.Unlock()
	if v == nil {
		return errors.New("watch config: LoadConfig has not been called")
	}
	v.SetConfigFile(absPath)
	v.SetConfigType("yaml")

	// editors often emit several writes per save
	var (
		mu               sync.Mutex
		lastChangeTime   time.Time
		debounceInterval = 2 * time.Second
	)

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			mu.Unlock()
			return
		}
		lastChangeTime = now
		mu.Unlock()

		var newConfig Config
		if err := v.Unmarshal(&newConfig); err != nil {
			logger.Error("failed to decode changed config %s: %v", e.Name, err)
			return
		}
		if err := newConfig.Validate(); err != nil {
			logger.Error("ignoring invalid config %s: %v", e.Name, err)
			return
		}
		logger.Info("config file changed: %s", e.Name)
		if err := callback(&newConfig); err != nil {
			logger.Error("failed to apply config %s: %v", e.Name, err)
			return
		}
		logger.Info("config reloaded")
	})
	v.WatchConfig()

	return nil
}
