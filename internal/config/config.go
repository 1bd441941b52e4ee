// Package config loads the service settings.
//
// Sources, lowest precedence first:
//  1. defaults (setDefaults)
//  2. configuration.yaml (searched in ., ./configs, ../configs, or APP_CONFIG_FILE)
//  3. environment variables prefixed with APP_, dots replaced by underscores:
//     APP_DATABASE_PASSWORD overrides database.password
//
// A .env file in the working directory is loaded into the environment first,
// if one exists.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// EnvConfigFile names an explicit config file, bypassing the search paths.
const EnvConfigFile = "APP_CONFIG_FILE"

// Settings is the typed snapshot consumed once at startup.
type Settings struct {
	Database        DatabaseSettings `mapstructure:"database"`
	ApplicationHost string           `mapstructure:"application_host"`
	ApplicationPort int              `mapstructure:"application_port"`
	Log             LogSettings      `mapstructure:"log"`
	CORS            CORSSettings     `mapstructure:"cors"`
}

type DatabaseSettings struct {
	Driver       string `mapstructure:"driver"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	DatabaseName string `mapstructure:"database_name"`
	RequireSSL   bool   `mapstructure:"require_ssl"`

	// Pool settings. AcquireTimeout bounds how long a request waits for a
	// free connection once MaxConnections are in use.
	MaxConnections     int           `mapstructure:"max_connections"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	AcquireTimeout     time.Duration `mapstructure:"acquire_timeout"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads settings from the config file and the environment.
func Load() (*Settings, error) {
	return LoadFile(os.Getenv(EnvConfigFile))
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Settings, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("configuration")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decoding settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application_host", "127.0.0.1")
	v.SetDefault("application_port", 8000)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database_name", "newsletter")
	v.SetDefault("database.require_ssl", false)
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.acquire_timeout", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("cors.allowed_origins", []string{})
}

// Validate reports the first setting that would make startup fail later in a
// less obvious way.
func (s *Settings) Validate() error {
	if s.ApplicationPort < 0 || s.ApplicationPort > 65535 {
		return fmt.Errorf("config: application_port %d out of range", s.ApplicationPort)
	}
	return s.Database.Validate()
}

func (d *DatabaseSettings) Validate() error {
	switch d.Driver {
	case DriverPostgres:
		if d.Host == "" {
			return errors.New("config: database.host is required")
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("config: database.port %d out of range", d.Port)
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("config: unsupported database.driver %q", d.Driver)
	}
	if d.DatabaseName == "" {
		return errors.New("config: database.database_name is required")
	}
	if d.MaxConnections <= 0 {
		return errors.New("config: database.max_connections must be positive")
	}
	if d.AcquireTimeout <= 0 {
		return errors.New("config: database.acquire_timeout must be positive")
	}
	return nil
}

// Address is the listen address of the HTTP server.
func (s *Settings) Address() string {
	return net.JoinHostPort(s.ApplicationHost, strconv.Itoa(s.ApplicationPort))
}

// DSN is the data source name handed to sql.Open for the configured driver.
// For sqlite the database name is the file path (":memory:" allowed).
func (d *DatabaseSettings) DSN() string {
	if d.Driver == DriverSQLite {
		return d.DatabaseName
	}
	return d.ConnectionString()
}

// ConnectionString is the postgres URL including the database name.
func (d *DatabaseSettings) ConnectionString() string {
	u := d.baseURL()
	u.Path = "/" + d.DatabaseName
	return u.String()
}

// ConnectionStringWithoutDB targets the server rather than a database, for
// creating databases.
func (d *DatabaseSettings) ConnectionStringWithoutDB() string {
	u := d.baseURL()
	return u.String()
}

func (d *DatabaseSettings) baseURL() *url.URL {
	sslMode := "disable"
	if d.RequireSSL {
		sslMode = "require"
	}
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		RawQuery: "sslmode=" + sslMode,
	}
}
