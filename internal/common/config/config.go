// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	Database     DatabaseConfig          `mapstructure:"database"`
	RFQ          RFQConfig               `mapstructure:"rfq"`
	Gateway      GatewayConfig           `mapstructure:"gateway"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	Audit        AuditConfig             `mapstructure:"audit"`
	Logging      LoggingConfig           `mapstructure:"logging"`
	Tracing      TracingConfig           `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Registry    string `mapstructure:"registry"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds

	// CompletionMessage, when set, is published correlated on the session id once a session completes.
	CompletionMessage string `mapstructure:"completion_message"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	ConnLifetime   int    `mapstructure:"conn_lifetime"` // ms
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
	MaxRetries int      `mapstructure:"max_retries"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	MinIdle  int    `mapstructure:"min_idle"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// Session store and contract lookup backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"

	LookupStatic   = "static"
	LookupPostgres = "postgres"
	LookupDynamoDB = "dynamodb"
)

// RFQConfig drives the dispatch/collect state machine.
type RFQConfig struct {
	StoreBackend     string `mapstructure:"store_backend"`
	LookupBackend    string `mapstructure:"lookup_backend"`
	ContractTable    string `mapstructure:"contract_table"`
	ContractCacheTTL int    `mapstructure:"contract_cache_ttl"` // milliseconds, 0 disables
	EndpointTimeout  int    `mapstructure:"endpoint_timeout"`   // milliseconds, per RFQ attempt
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	Action           string `mapstructure:"action"`
	CallbackAddress  string `mapstructure:"callback_address"`
	SessionTTL       int    `mapstructure:"session_ttl"` // milliseconds

	// Contracts backs the static lookup: stack id -> category -> contract.
	Contracts map[string]map[string]StaticContract `mapstructure:"contracts"`
}

// StaticContract is one category of a config-defined contract template.
type StaticContract struct {
	Endpoints     string   `mapstructure:"endpoints"`
	ContractValue *float64 `mapstructure:"contract_value"`
}

// GatewayConfig configures the HTTP front door.
type GatewayConfig struct {
	Address      string `mapstructure:"address"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// IntegrationConfig holds settings for AWS services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
		DynamoDB struct {
			Endpoint string `mapstructure:"endpoint"`
		} `mapstructure:"dynamodb"`
	} `mapstructure:"aws"`
}

// AuditConfig controls the Elasticsearch audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TracingConfig controls span export to an OTLP collector (Jaeger, Tempo, otel-collector).
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}
