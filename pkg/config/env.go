package config

// EnvPrefix is empty because every field carries its fully qualified variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	GatewayModeFake = "fake"

	EventingSinkPubSub = "pubsub"
	EventingSinkKafka  = "kafka"
)

const (
	EnvAppEnv         = "CAMPUSSTORE_APP_ENV"
	EnvPort           = "CAMPUSSTORE_APP_PORT"
	EnvDBDSN          = "CAMPUSSTORE_DB_DSN"
	EnvDBHost         = "CAMPUSSTORE_DB_HOST"
	EnvDBUser         = "CAMPUSSTORE_DB_USER"
	EnvDBName         = "CAMPUSSTORE_DB_NAME"
	EnvUseSQLite      = "CAMPUSSTORE_USE_SQLITE"
	EnvRedisURL       = "CAMPUSSTORE_REDIS_URL"
	EnvJWTSecret      = "CAMPUSSTORE_JWT_SECRET"
	EnvJWTIssuer      = "CAMPUSSTORE_JWT_ISSUER"
	EnvGatewayMode    = "CAMPUSSTORE_GATEWAY_MODE"
	EnvGatewaySecret  = "CAMPUSSTORE_GATEWAY_SIGNING_SECRET"
	EnvGatewayTimeout = "CAMPUSSTORE_GATEWAY_TIMEOUT"
	EnvReservationTTL = "CAMPUSSTORE_RESERVATION_TTL"
	EnvEventingSink   = "CAMPUSSTORE_EVENTING_SINK"
	EnvKafkaBrokers   = "CAMPUSSTORE_KAFKA_BROKERS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
