// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the LifeSmart bridge.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/util"
)

// Defaults applied to unset fields
const (
	DefaultTopic               = "lifesmart/+/events"
	DefaultClientID            = "lifesmart-bridge"
	DefaultQoS                 = 1
	DefaultKeepAlive           = 30 * time.Second
	DefaultReadingsChannelSize = 1000
	DefaultEventsChannelSize   = 256
	DefaultCacheDirectory      = "/var/cache/lifesmart-bridge"
	DefaultCacheMaxSize        = 100 * 1024 * 1024
	DefaultCacheMaxAge         = 24 * time.Hour
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
)

// Config represents the application configuration
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Registry RegistryConfig `yaml:"registry"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HubConfig holds the MQTT connection hub events arrive on
type HubConfig struct {
	Broker    string        `yaml:"broker" validate:"required"`
	Topic     string        `yaml:"topic" validate:"required"`
	ClientID  string        `yaml:"client_id" validate:"required"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	QoS       byte          `yaml:"qos" validate:"lte=2"`
	KeepAlive time.Duration `yaml:"keep_alive" validate:"min=1s,max=1h"`
}

// InfluxDBConfig holds InfluxDB connection settings
type InfluxDBConfig struct {
	URL          string `yaml:"url" validate:"required,url"`
	Token        string `yaml:"token" validate:"required,min=8"`
	Organization string `yaml:"organization" validate:"required"`
	Bucket       string `yaml:"bucket" validate:"required"`
}

// RegistryConfig selects the device registry table. An empty path uses the
// embedded table.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig sizes the event and reading buffers
type BridgeConfig struct {
	ReadingsChannelSize int `yaml:"readings_channel_size" validate:"min=1,max=100000"`
	EventsChannelSize   int `yaml:"events_channel_size" validate:"min=1,max=100000"`
}

// CacheConfig holds the local write-behind cache settings
type CacheConfig struct {
	Directory string        `yaml:"directory" validate:"required"`
	MaxSize   int64         `yaml:"max_size" validate:"min=1024"`
	MaxAge    time.Duration `yaml:"max_age" validate:"min=1m"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

var validate = newValidator()

// newValidator reports fields by their YAML names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, then applies environment overrides,
// defaults and validation in that order
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"LIFESMART_MQTT_BROKER", &c.Hub.Broker},
		{"LIFESMART_MQTT_TOPIC", &c.Hub.Topic},
		{"LIFESMART_MQTT_USERNAME", &c.Hub.Username},
		{"LIFESMART_MQTT_PASSWORD", &c.Hub.Password},
		{"LIFESMART_REGISTRY_PATH", &c.Registry.Path},
		{"INFLUXDB_URL", &c.InfluxDB.URL},
		{"INFLUXDB_TOKEN", &c.InfluxDB.Token},
		{"INFLUXDB_ORG", &c.InfluxDB.Organization},
		{"INFLUXDB_BUCKET", &c.InfluxDB.Bucket},
		{"LOG_LEVEL", &c.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Hub.Topic == "" {
		c.Hub.Topic = DefaultTopic
	}
	if c.Hub.ClientID == "" {
		c.Hub.ClientID = DefaultClientID
	}
	if c.Hub.QoS == 0 {
		c.Hub.QoS = DefaultQoS
	}
	if c.Hub.KeepAlive == 0 {
		c.Hub.KeepAlive = DefaultKeepAlive
	}
	if c.Bridge.ReadingsChannelSize == 0 {
		c.Bridge.ReadingsChannelSize = DefaultReadingsChannelSize
	}
	if c.Bridge.EventsChannelSize == 0 {
		c.Bridge.EventsChannelSize = DefaultEventsChannelSize
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = DefaultCacheDirectory
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = DefaultCacheMaxAge
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks struct constraints first, then the rules tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fromValidationError(err)
	}
	if err := c.validateHub(); err != nil {
		return err
	}
	return c.validateInfluxDB()
}

// fromValidationError reports the first failed constraint as a ConfigError
func fromValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewConfigError("", "", fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err))
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	value := fmt.Sprint(fe.Value())
	if isSecret(field) {
		value = ""
	}

	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return apperrors.NewConfigError(field, value, fmt.Errorf("%w: failed %q constraint", apperrors.ErrInvalidConfig, reason))
}

func isSecret(field string) bool {
	return strings.HasSuffix(field, "token") || strings.HasSuffix(field, "password")
}

var brokerSchemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

// validateHub checks the broker URL scheme
func (c *Config) validateHub() error {
	u, err := url.Parse(c.Hub.Broker)
	if err != nil || u.Host == "" {
		return apperrors.NewConfigError("hub.broker", c.Hub.Broker,
			fmt.Errorf("%w: must be a URL such as tcp://host:1883", apperrors.ErrInvalidConfig))
	}
	if !brokerSchemes[strings.ToLower(u.Scheme)] {
		return apperrors.NewConfigError("hub.broker", c.Hub.Broker,
			fmt.Errorf("%w: unsupported scheme %q", apperrors.ErrInvalidConfig, u.Scheme))
	}
	return nil
}

// validateInfluxDB rejects plain HTTP to non-local InfluxDB servers
func (c *Config) validateInfluxDB() error {
	parsedURL, err := url.Parse(c.InfluxDB.URL)
	if err != nil {
		return apperrors.NewConfigError("influxdb.url", c.InfluxDB.URL, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err))
	}
	return validateURLSecurity(parsedURL)
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return apperrors.NewConfigError("influxdb.url", parsedURL.String(),
			fmt.Errorf("%w: must use HTTPS for non-local connections, HTTP sends the token in plaintext", apperrors.ErrInvalidConfig))
	}

	return nil
}
