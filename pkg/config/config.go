package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Reservations ReservationConfig
	Cron         CronConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Eventing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CAMPUSSTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"CAMPUSSTORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CAMPUSSTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAMPUSSTORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CAMPUSSTORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CAMPUSSTORE_DB_DSN"`
	Driver string `envconfig:"CAMPUSSTORE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CAMPUSSTORE_DB_HOST"`
	Port     int    `envconfig:"CAMPUSSTORE_DB_PORT" default:"5432"`
	User     string `envconfig:"CAMPUSSTORE_DB_USER"`
	Password string `envconfig:"CAMPUSSTORE_DB_PASSWORD"`
	Name     string `envconfig:"CAMPUSSTORE_DB_NAME"`
	SSLMode  string `envconfig:"CAMPUSSTORE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"CAMPUSSTORE_SQLITE_PATH" default:"campusstore.db"`

	MaxOpenConns    int           `envconfig:"CAMPUSSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAMPUSSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAMPUSSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAMPUSSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAMPUSSTORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CAMPUSSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"CAMPUSSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAMPUSSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAMPUSSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAMPUSSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAMPUSSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAMPUSSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAMPUSSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to decode actor tokens issued by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"CAMPUSSTORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CAMPUSSTORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CAMPUSSTORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CAMPUSSTORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CAMPUSSTORE_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig configures the payment gateway adapter.
type GatewayConfig struct {
	Mode          string        `envconfig:"CAMPUSSTORE_GATEWAY_MODE" default:"stripe"`
	APIKey        string        `envconfig:"CAMPUSSTORE_GATEWAY_API_KEY"`
	Env           string        `envconfig:"CAMPUSSTORE_GATEWAY_ENV" default:"test"`
	SigningSecret string        `envconfig:"CAMPUSSTORE_GATEWAY_SIGNING_SECRET" required:"true"`
	Currency      string        `envconfig:"CAMPUSSTORE_GATEWAY_CURRENCY" default:"inr"`
	Timeout       time.Duration `envconfig:"CAMPUSSTORE_GATEWAY_TIMEOUT" default:"10s"`
}

// Environment returns the normalized gateway environment (test/live).
func (g GatewayConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(g.Env))
	if env == "" {
		return "test"
	}
	return env
}

// IsFake reports whether the in-process gateway should be used instead of Stripe.
func (g GatewayConfig) IsFake() bool {
	return strings.EqualFold(strings.TrimSpace(g.Mode), GatewayModeFake)
}

type ReservationConfig struct {
	TTL          time.Duration `envconfig:"CAMPUSSTORE_RESERVATION_TTL" default:"15m"`
	CleanupBatch int           `envconfig:"CAMPUSSTORE_RESERVATION_CLEANUP_BATCH" default:"200"`
	// ConfirmGuardTTL bounds how long a gateway payment id stays claimed in
	// redis. It only has to outlive the confirmation transaction.
	ConfirmGuardTTL time.Duration `envconfig:"CAMPUSSTORE_PAYMENT_CONFIRM_GUARD_TTL" default:"2m"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"CAMPUSSTORE_CRON_INTERVAL" default:"1m"`
	LockTTL         time.Duration `envconfig:"CAMPUSSTORE_CRON_LOCK_TTL" default:"5m"`
	OutboxRetention time.Duration `envconfig:"CAMPUSSTORE_OUTBOX_RETENTION" default:"720h"`
}

type EventingConfig struct {
	Sink                 string        `envconfig:"CAMPUSSTORE_EVENTING_SINK" default:"pubsub"`
	OutboxIdempotencyTTL time.Duration `envconfig:"CAMPUSSTORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

func (e EventingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Sink)) {
	case EventingSinkPubSub, EventingSinkKafka:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvEventingSink, EventingSinkPubSub, EventingSinkKafka)
	}
}

// UsesKafka reports whether outbox events are delivered to Kafka instead of Pub/Sub.
func (e EventingConfig) UsesKafka() bool {
	return strings.EqualFold(strings.TrimSpace(e.Sink), EventingSinkKafka)
}

type GCPConfig struct {
	ProjectID string `envconfig:"CAMPUSSTORE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic    string `envconfig:"CAMPUSSTORE_PUBSUB_ORDERS_TOPIC" default:"cs-order-events"`
	InventoryTopic string `envconfig:"CAMPUSSTORE_PUBSUB_INVENTORY_TOPIC" default:"cs-inventory-events"`
}

type KafkaConfig struct {
	Brokers        []string `envconfig:"CAMPUSSTORE_KAFKA_BROKERS" default:"localhost:9092"`
	OrdersTopic    string   `envconfig:"CAMPUSSTORE_KAFKA_ORDERS_TOPIC" default:"order-events"`
	InventoryTopic string   `envconfig:"CAMPUSSTORE_KAFKA_INVENTORY_TOPIC" default:"inventory-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CAMPUSSTORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CAMPUSSTORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CAMPUSSTORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
