package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the name of the JSON configuration file.
const FileName = "mapcore.cfg.json"

// StorageConfig selects and configures the local cache backend
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres DatabaseConfig `json:"-" mapstructure:"-"`
}

// DatabaseConfig holds the Postgres connection of the postgres cache backend.
// FallbackPath is the SQLite file used when Postgres is unreachable.
type DatabaseConfig struct {
	Host           string
	Port           string
	Username       string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
	MaxOpenConns   int
	FallbackPath   string
}

// SQLiteConfig holds sqlite cache settings. An empty path keeps the cache in memory.
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// APIConfig holds the backend connection settings
type APIConfig struct {
	ServerURL string
	Timeout   time.Duration
	Token     string
}

// WeatherConfig holds the weather and geocoding provider settings
type WeatherConfig struct {
	Enabled    bool
	BaseURL    string
	APIKey     string
	GeocodeURL string
	GeocodeKey string
	Timeout    time.Duration
}

// CreationConfig holds the marker creation gesture settings
type CreationConfig struct {
	Throttle  time.Duration
	LongPress time.Duration
}

// FetchConfig holds the retry policy of the initial marker fetch
type FetchConfig struct {
	InitialTimeout time.Duration
	Factor         float64
	MaxAttempts    int
}

// TelemetryConfig holds the InfluxDB lifecycle metrics settings
type TelemetryConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Protocol  string
	Token     string
	Org       string
	Bucket    string
	BackupDir string
}

// OTelConfig holds the OpenTelemetry log provider settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers every default value. Load calls it; commands running
// without a config file call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./mapcorelogs")

	viper.SetDefault("api.serverUrl", "http://localhost:8080")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("api.token", "")

	viper.SetDefault("weather.enabled", true)
	viper.SetDefault("weather.baseUrl", "https://api.openweathermap.org/data/2.5")
	viper.SetDefault("weather.apiKey", "")
	viper.SetDefault("weather.geocodeUrl", "https://geocode.maps.co")
	viper.SetDefault("weather.geocodeKey", "")
	viper.SetDefault("weather.timeout", "10s")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlite.path", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mapcore")
	viper.SetDefault("db.sslMode", "disable")
	viper.SetDefault("db.connectTimeout", "5s")
	viper.SetDefault("db.maxOpenConns", 10)
	viper.SetDefault("db.fallbackPath", "")

	viper.SetDefault("creation.throttle", "2s")
	viper.SetDefault("creation.longPress", "300ms")

	viper.SetDefault("fetch.initialTimeout", "2500ms")
	viper.SetDefault("fetch.factor", 1.4)
	viper.SetDefault("fetch.maxAttempts", 6)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "mapcore-metrics")
	viper.SetDefault("influx.bucket", "marker_lifecycle")
	viper.SetDefault("influx.backupDir", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
	viper.SetDefault("graylog.level", "info")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapcore")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetStorageConfig returns the local cache backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: GetDatabaseConfig(),
	}
}

// GetDatabaseConfig returns the Postgres settings.
func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:           viper.GetString("db.host"),
		Port:           viper.GetString("db.port"),
		Username:       viper.GetString("db.username"),
		Password:       viper.GetString("db.password"),
		Database:       viper.GetString("db.database"),
		SSLMode:        viper.GetString("db.sslMode"),
		ConnectTimeout: viper.GetDuration("db.connectTimeout"),
		MaxOpenConns:   viper.GetInt("db.maxOpenConns"),
		FallbackPath:   viper.GetString("db.fallbackPath"),
	}
}

// GetAPIConfig returns the backend connection settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		Timeout:   viper.GetDuration("api.timeout"),
		Token:     viper.GetString("api.token"),
	}
}

// GetWeatherConfig returns the weather provider settings.
func GetWeatherConfig() WeatherConfig {
	return WeatherConfig{
		Enabled:    viper.GetBool("weather.enabled"),
		BaseURL:    viper.GetString("weather.baseUrl"),
		APIKey:     viper.GetString("weather.apiKey"),
		GeocodeURL: viper.GetString("weather.geocodeUrl"),
		GeocodeKey: viper.GetString("weather.geocodeKey"),
		Timeout:    viper.GetDuration("weather.timeout"),
	}
}

// GetCreationConfig returns the creation gesture settings.
func GetCreationConfig() CreationConfig {
	return CreationConfig{
		Throttle:  viper.GetDuration("creation.throttle"),
		LongPress: viper.GetDuration("creation.longPress"),
	}
}

// GetFetchConfig returns the initial fetch retry policy.
func GetFetchConfig() FetchConfig {
	return FetchConfig{
		InitialTimeout: viper.GetDuration("fetch.initialTimeout"),
		Factor:         viper.GetFloat64("fetch.factor"),
		MaxAttempts:    viper.GetInt("fetch.maxAttempts"),
	}
}

// GetTelemetryConfig returns the InfluxDB settings.
func GetTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
