// Package config provides YAML-based configuration loading for plaudern,
// with environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Connectivity probes.
const (
	ProbeStore = "store"
	ProbeTCP   = "tcp"
)

// Palette is the set of background colours a participant can pick.
var Palette = []string{"#090C08", "#474056", "#8A95A5", "#B9C6AE"}

// Config is the top-level plaudern configuration, loaded from plaudern.yaml.
type Config struct {
	User         UserConfig         `yaml:"user"`
	Room         string             `yaml:"room"`
	Remote       RemoteConfig       `yaml:"remote"`
	Cache        CacheConfig        `yaml:"cache"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Server       ServerConfig       `yaml:"server"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Log          LogConfig          `yaml:"log"`
}

// UserConfig identifies the local participant. An empty ID is replaced by a
// generated identity kept in the local cache.
type UserConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// RemoteConfig selects and configures the remote message store.
type RemoteConfig struct {
	Driver         string        `yaml:"driver"`
	SQLitePath     string        `yaml:"sqlite_path"`
	MySQL          MySQLConfig   `yaml:"mysql"`
	RedisURL       string        `yaml:"redis_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// MySQLConfig holds connection settings for a MySQL remote store.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// CacheConfig locates the local snapshot cache.
type CacheConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectivityConfig controls how reachability is probed.
type ConnectivityConfig struct {
	Probe    string        `yaml:"probe"`
	Address  string        `yaml:"address"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig holds the presentation server's listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AlertsConfig enables remote delivery of the offline alert.
type AlertsConfig struct {
	SlackWebhookURL     string `yaml:"slack_webhook_url"`
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverlay lists the environment variables that override file values.
type envOverlay struct {
	UserID              string `env:"PLAUDERN_USER_ID"`
	UserName            string `env:"PLAUDERN_USER_NAME"`
	UserColor           string `env:"PLAUDERN_USER_COLOR"`
	Room                string `env:"PLAUDERN_ROOM"`
	RemoteDriver        string `env:"PLAUDERN_REMOTE_DRIVER"`
	SQLitePath          string `env:"PLAUDERN_SQLITE_PATH"`
	MySQLHost           string `env:"PLAUDERN_MYSQL_HOST"`
	MySQLPort           int    `env:"PLAUDERN_MYSQL_PORT"`
	MySQLUser           string `env:"PLAUDERN_MYSQL_USER"`
	MySQLPassword       string `env:"PLAUDERN_MYSQL_PASSWORD"`
	MySQLDatabase       string `env:"PLAUDERN_MYSQL_DATABASE"`
	RedisURL            string `env:"PLAUDERN_REDIS_URL"`
	CachePath           string `env:"PLAUDERN_CACHE_PATH"`
	ProbeAddress        string `env:"PLAUDERN_PROBE_ADDRESS"`
	ServerPort          int    `env:"PLAUDERN_PORT"`
	SlackWebhookURL     string `env:"PLAUDERN_SLACK_WEBHOOK_URL"`
	DiscordWebhookID    string `env:"PLAUDERN_DISCORD_WEBHOOK_ID"`
	DiscordWebhookToken string `env:"PLAUDERN_DISCORD_WEBHOOK_TOKEN"`
	LogLevel            string `env:"PLAUDERN_LOG_LEVEL"`
	LogFormat           string `env:"PLAUDERN_LOG_FORMAT"`
}

// Load reads an optional .env file, then the YAML config at path (skipped
// when path is empty), applies PLAUDERN_* environment overrides and returns a
// validated Config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return ParseWithEnv(data, os.Environ())
}

// Parse unmarshals YAML bytes into a validated Config, ignoring the
// environment.
func Parse(data []byte) (*Config, error) {
	return ParseWithEnv(data, nil)
}

// ParseWithEnv unmarshals YAML bytes, applies overrides from environ
// (KEY=value pairs) and returns a validated Config.
func ParseWithEnv(data []byte, environ []string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if len(environ) > 0 {
		if err := cfg.applyEnv(environ); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with the non-empty PLAUDERN_* variables.
func (c *Config) applyEnv(environ []string) error {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	var o envOverlay
	if err := env.Unmarshal(es, &o); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	set(&c.User.ID, o.UserID)
	set(&c.User.Name, o.UserName)
	set(&c.User.Color, o.UserColor)
	set(&c.Room, o.Room)
	set(&c.Remote.Driver, o.RemoteDriver)
	set(&c.Remote.SQLitePath, o.SQLitePath)
	set(&c.Remote.MySQL.Host, o.MySQLHost)
	setInt(&c.Remote.MySQL.Port, o.MySQLPort)
	set(&c.Remote.MySQL.User, o.MySQLUser)
	set(&c.Remote.MySQL.Password, o.MySQLPassword)
	set(&c.Remote.MySQL.Database, o.MySQLDatabase)
	set(&c.Remote.RedisURL, o.RedisURL)
	set(&c.Cache.Path, o.CachePath)
	set(&c.Connectivity.Address, o.ProbeAddress)
	setInt(&c.Server.Port, o.ServerPort)
	set(&c.Alerts.SlackWebhookURL, o.SlackWebhookURL)
	set(&c.Alerts.DiscordWebhookID, o.DiscordWebhookID)
	set(&c.Alerts.DiscordWebhookToken, o.DiscordWebhookToken)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Format, o.LogFormat)
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Room == "" {
		c.Room = "general"
	}
	if c.User.Color == "" {
		c.User.Color = Palette[0]
	}
	if c.Remote.Driver == "" {
		c.Remote.Driver = DriverSQLite
	}
	if c.Remote.SQLitePath == "" {
		c.Remote.SQLitePath = "plaudern.db"
	}
	if c.Remote.MySQL.Host == "" {
		c.Remote.MySQL.Host = "127.0.0.1"
	}
	if c.Remote.MySQL.Port == 0 {
		c.Remote.MySQL.Port = 3306
	}
	if c.Remote.MySQL.User == "" {
		c.Remote.MySQL.User = "root"
	}
	if c.Remote.MySQL.Database == "" {
		c.Remote.MySQL.Database = "plaudern"
	}
	if c.Remote.RedisURL == "" {
		c.Remote.RedisURL = "redis://127.0.0.1:6379/0"
	}
	if c.Remote.PollInterval == 0 {
		c.Remote.PollInterval = 2 * time.Second
	}
	if c.Remote.ResyncInterval == 0 {
		c.Remote.ResyncInterval = 30 * time.Second
	}
	if c.Cache.Path == "" {
		c.Cache.Path = ".plaudern/cache"
	}
	if c.Cache.Timeout == 0 {
		c.Cache.Timeout = 2 * time.Second
	}
	if c.Connectivity.Probe == "" {
		c.Connectivity.Probe = ProbeStore
	}
	if c.Connectivity.Schedule == "" {
		c.Connectivity.Schedule = "@every 5s"
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = 3 * time.Second
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Remote.Driver {
	case DriverSQLite, DriverMySQL, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("remote.driver %q must be one of sqlite, mysql, redis", c.Remote.Driver))
	}
	if c.Remote.PollInterval < 0 {
		errs = append(errs, "remote.poll_interval must be positive")
	}
	if c.Remote.ResyncInterval < 0 {
		errs = append(errs, "remote.resync_interval must be positive")
	}
	if !slices.Contains(Palette, strings.ToUpper(c.User.Color)) {
		errs = append(errs, fmt.Sprintf("user.color %q must be one of %s", c.User.Color, strings.Join(Palette, ", ")))
	}
	switch c.Connectivity.Probe {
	case ProbeStore:
	case ProbeTCP:
		if c.Connectivity.Address == "" {
			errs = append(errs, "connectivity.address is required for the tcp probe")
		}
	default:
		errs = append(errs, fmt.Sprintf("connectivity.probe %q must be store or tcp", c.Connectivity.Probe))
	}
	if c.Cache.Timeout < 0 {
		errs = append(errs, "cache.timeout must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if (c.Alerts.DiscordWebhookID == "") != (c.Alerts.DiscordWebhookToken == "") {
		errs = append(errs, "alerts.discord_webhook_id and alerts.discord_webhook_token must be set together")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ServerAddr returns the host:port the presentation server listens on.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
