package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open_conns"`
	MaxIdle  int    `mapstructure:"max_idle_conns"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RequestTimeout bounds a single request, dispatch included.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	// TTL applies to tokens minted by mailerctl.
	TTL time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type MailConfig struct {
	Driver      string        `mapstructure:"driver"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from"`
	SSL         bool          `mapstructure:"ssl"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type CacheTTLConfig struct {
	Recipients time.Duration `mapstructure:"recipients"`
	Messages   time.Duration `mapstructure:"messages"`
	Mailings   time.Duration `mapstructure:"mailings"`
	Statistics time.Duration `mapstructure:"statistics"`
}

type CacheConfig struct {
	Driver          string         `mapstructure:"driver"`
	CleanupInterval time.Duration  `mapstructure:"cleanup_interval"`
	TTL             CacheTTLConfig `mapstructure:"ttl"`
}

type DispatchConfig struct {
	Workers   int           `mapstructure:"workers"`
	Exclusive bool          `mapstructure:"exclusive"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type MonitoringConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type BrokerConfig struct {
	Driver  string `mapstructure:"driver"`
	AMQPURL string `mapstructure:"amqp_url"`
	Channel string `mapstructure:"channel"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Retention     time.Duration `mapstructure:"retention"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type WorkerConfig struct {
	// HealthPort serves liveness, readiness and metrics for cmd/worker.
	HealthPort int `mapstructure:"health_port"`
}

type Config struct {
	Env        string           `mapstructure:"env"`
	LogLevel   string           `mapstructure:"log_level"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Mail       MailConfig       `mapstructure:"mail"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// envOverrides are the MAILER_* variables deployments set most often.
type envOverrides struct {
	Env        string `envconfig:"ENV"`
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	RedisURL   string `envconfig:"REDIS_URL"`
	JWTSecret  string `envconfig:"JWT_SECRET"`
	SMTPHost   string `envconfig:"SMTP_HOST"`
	SMTPPort   int    `envconfig:"SMTP_PORT"`
	SMTPUser   string `envconfig:"SMTP_USERNAME"`
	SMTPPass   string `envconfig:"SMTP_PASSWORD"`
	MailFrom   string `envconfig:"MAIL_FROM"`
	AMQPURL    string `envconfig:"AMQP_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.request_timeout", 90*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("jwt.issuer", "mailing-api")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("mail.driver", "smtp")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.send_timeout", 30*time.Second)
	v.SetDefault("mail.breaker_failures", 5)
	v.SetDefault("mail.breaker_cooldown", 30*time.Second)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.cleanup_interval", 10*time.Minute)
	v.SetDefault("cache.ttl.recipients", 10*time.Minute)
	v.SetDefault("cache.ttl.messages", 10*time.Minute)
	v.SetDefault("cache.ttl.mailings", 5*time.Minute)
	v.SetDefault("cache.ttl.statistics", 3*time.Minute)

	v.SetDefault("dispatch.workers", 1)
	v.SetDefault("dispatch.exclusive", false)
	v.SetDefault("dispatch.lock_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("monitoring.namespace", "mailing")

	v.SetDefault("broker.driver", "redis")
	v.SetDefault("broker.channel", "mailing.events")

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.retention", 7*24*time.Hour)

	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("worker.health_port", 8081)
}

// LoadConfig reads config.yml from the usual locations (a missing file is
// fine, defaults apply) and then applies MAILER_* environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("mailer", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	env.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (e envOverrides) apply(cfg *Config) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setStr(&cfg.Env, e.Env)
	setStr(&cfg.Database.Host, e.DBHost)
	setInt(&cfg.Database.Port, e.DBPort)
	setStr(&cfg.Database.User, e.DBUser)
	setStr(&cfg.Database.Password, e.DBPassword)
	setStr(&cfg.Database.Name, e.DBName)
	setStr(&cfg.Redis.URL, e.RedisURL)
	setStr(&cfg.JWT.Secret, e.JWTSecret)
	setStr(&cfg.Mail.Host, e.SMTPHost)
	setInt(&cfg.Mail.Port, e.SMTPPort)
	setStr(&cfg.Mail.Username, e.SMTPUser)
	setStr(&cfg.Mail.Password, e.SMTPPass)
	setStr(&cfg.Mail.From, e.MailFrom)
	setStr(&cfg.Broker.AMQPURL, e.AMQPURL)
}

// Validate rejects combinations the binaries cannot start with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("cache.driver %q is not supported", c.Cache.Driver))
	}
	switch c.Mail.Driver {
	case "smtp", "log":
	default:
		problems = append(problems, fmt.Sprintf("mail.driver %q is not supported", c.Mail.Driver))
	}
	switch c.Broker.Driver {
	case "redis", "amqp":
	default:
		problems = append(problems, fmt.Sprintf("broker.driver %q is not supported", c.Broker.Driver))
	}
	if c.Dispatch.Workers < 1 {
		problems = append(problems, "dispatch.workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
