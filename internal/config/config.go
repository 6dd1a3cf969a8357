// Package config loads the runtime settings of the chat service from
// defaults, an optional config file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
	BrokerAMQP  = "amqp"

	AuthJWT  = "jwt"
	AuthGRPC = "grpc"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds the service configuration.
type Config struct {
	Port         string
	Env          string
	LogLevel     string
	MediaBaseURL string
	OTLPEndpoint string
	DebugRoutes  bool

	Database DatabaseConfig
	Broker   BrokerConfig
	Events   EventsConfig
	Auth     AuthConfig
	WS       WSConfig

	// Warnings collects values that were replaced during sanitisation.
	Warnings []string
}

// DatabaseConfig selects the SQL driver backing the message store.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// BrokerConfig selects how group fan-out crosses process boundaries.
type BrokerConfig struct {
	Kind     string
	RedisURL string
	AMQPURL  string
	Exchange string
}

// EventsConfig points the lifecycle/audit publisher at an exchange.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// AuthConfig configures the Auth Gate.
type AuthConfig struct {
	Mode       string
	SigningKey string
	GRPCAddr   string
}

// WSConfig holds per-connection transport limits.
type WSConfig struct {
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8083")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_driver", DriverPostgres)
	v.SetDefault("db_dsn", "")
	v.SetDefault("broker", BrokerLocal)
	v.SetDefault("redis_url", "")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "webchat.fanout")
	v.SetDefault("events_amqp_url", "")
	v.SetDefault("events_exchange", "webchat.events")
	v.SetDefault("auth_mode", AuthJWT)
	v.SetDefault("jwt_signing_key", "")
	v.SetDefault("auth_grpc_addr", "localhost:8084")
	v.SetDefault("media_base_url", "")
	v.SetDefault("ws_allowed_origins", "*")
	v.SetDefault("ws_max_message_size", 4096)
	v.SetDefault("ws_send_buffer", 256)
	v.SetDefault("ws_ping_interval", 54*time.Second)
	v.SetDefault("ws_pong_wait", 60*time.Second)
	v.SetDefault("ws_write_wait", 10*time.Second)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("debug_routes", false)
}

// Load reads configuration. A .env file in the working directory is applied
// first when present; path names an optional config file; flags, when given,
// override everything for the keys they define.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		bindFlag(v, flags, "port", "port")
		bindFlag(v, flags, "log_level", "log-level")
		bindFlag(v, flags, "broker", "broker")
		bindFlag(v, flags, "db_driver", "db-driver")
		bindFlag(v, flags, "db_dsn", "db-dsn")
	}

	cfg := sanitize(fromViper(v))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Port:         v.GetString("port"),
		Env:          v.GetString("env"),
		LogLevel:     v.GetString("log_level"),
		MediaBaseURL: v.GetString("media_base_url"),
		OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),
		DebugRoutes:  v.GetBool("debug_routes"),
		Database: DatabaseConfig{
			Driver: v.GetString("db_driver"),
			DSN:    v.GetString("db_dsn"),
		},
		Broker: BrokerConfig{
			Kind:     v.GetString("broker"),
			RedisURL: v.GetString("redis_url"),
			AMQPURL:  v.GetString("amqp_url"),
			Exchange: v.GetString("amqp_exchange"),
		},
		Events: EventsConfig{
			AMQPURL:  v.GetString("events_amqp_url"),
			Exchange: v.GetString("events_exchange"),
		},
		Auth: AuthConfig{
			Mode:       v.GetString("auth_mode"),
			SigningKey: v.GetString("jwt_signing_key"),
			GRPCAddr:   v.GetString("auth_grpc_addr"),
		},
		WS: WSConfig{
			AllowedOrigins: ParseOrigins(v.GetString("ws_allowed_origins")),
			MaxMessageSize: v.GetInt64("ws_max_message_size"),
			SendBuffer:     v.GetInt("ws_send_buffer"),
			PingInterval:   v.GetDuration("ws_ping_interval"),
			PongWait:       v.GetDuration("ws_pong_wait"),
			WriteWait:      v.GetDuration("ws_write_wait"),
		},
	}
}

// Default returns a sanitised configuration built only from defaults.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	return sanitize(fromViper(v))
}

func sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = "8083"
	}
	cfg.Port = strings.TrimPrefix(cfg.Port, ":")

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
	case "sqlite":
		cfg.Database.Driver = DriverSQLite
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown db driver %q, using %s", cfg.Database.Driver, DriverPostgres))
		cfg.Database.Driver = DriverPostgres
	}

	cfg.Broker.Kind = strings.ToLower(strings.TrimSpace(cfg.Broker.Kind))
	switch cfg.Broker.Kind {
	case BrokerLocal, BrokerRedis, BrokerAMQP:
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown broker %q, using %s", cfg.Broker.Kind, BrokerLocal))
		cfg.Broker.Kind = BrokerLocal
	}
	if cfg.Broker.Exchange == "" {
		cfg.Broker.Exchange = "webchat.fanout"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "webchat.events"
	}

	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	switch cfg.Auth.Mode {
	case AuthJWT, AuthGRPC:
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown auth mode %q, using %s", cfg.Auth.Mode, AuthJWT))
		cfg.Auth.Mode = AuthJWT
	}

	if cfg.WS.MaxMessageSize <= 0 {
		cfg.WS.MaxMessageSize = 4096
	}
	if cfg.WS.SendBuffer <= 0 {
		cfg.WS.SendBuffer = 256
	}
	if cfg.WS.PongWait <= 0 {
		cfg.WS.PongWait = 60 * time.Second
	}
	if cfg.WS.PingInterval <= 0 || cfg.WS.PingInterval >= cfg.WS.PongWait {
		cfg.WS.PingInterval = cfg.WS.PongWait * 9 / 10
	}
	if cfg.WS.WriteWait <= 0 {
		cfg.WS.WriteWait = 10 * time.Second
	}

	if cfg.MediaBaseURL != "" {
		if u, err := url.Parse(cfg.MediaBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid media base url %q", cfg.MediaBaseURL))
			cfg.MediaBaseURL = ""
		}
	}
	return cfg
}

func (c Config) validate() error {
	if !c.IsProduction() {
		return nil
	}
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required in production"))
	}
	if c.Auth.Mode == AuthJWT && c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required in production"))
	}
	if c.Broker.Kind == BrokerRedis && c.Broker.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for the redis broker"))
	}
	if c.Broker.Kind == BrokerAMQP && c.Broker.AMQPURL == "" {
		errs = append(errs, errors.New("AMQP_URL is required for the amqp broker"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(origins string) []string {
	var out []string
	for _, part := range strings.Split(origins, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
