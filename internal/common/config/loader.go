// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml and applies
// environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Registered so AutomaticEnv can override them without a config file entry.
	v.SetDefault("app.name", "rfq-workers")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.registry", "configs/activity-registry.json")
	v.SetDefault("camunda.enabled", false)
	v.SetDefault("camunda.broker_address", "")
	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.pool_size", 20)
	v.SetDefault("database.redis.min_idle", 5)
	v.SetDefault("database.postgres.conn_lifetime", 300000)
	v.SetDefault("database.elasticsearch.max_retries", 3)
	v.SetDefault("database.mongo.uri", "")
	v.SetDefault("rfq.store_backend", StoreMemory)
	v.SetDefault("rfq.lookup_backend", LookupStatic)
	v.SetDefault("rfq.callback_address", "")
	v.SetDefault("gateway.address", ":8080")
	v.SetDefault("audit.enabled", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// Unset variables expand to "" so defaults and overrides can apply.
			v.Set(key, os.ExpandEnv(strVal))
		}
	}
}

// overrideEmptyConfig fills values still empty after expansion from well-known variables.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty := func(dst *string, envKey string) {
		if *dst == "" {
			if val := os.Getenv(envKey); val != "" {
				*dst = val
			}
		}
	}

	setIfEmpty(&cfg.RFQ.ContractTable, "CONTRACT_TEMPLATES_TABLE_NAME")
	setIfEmpty(&cfg.RFQ.CallbackAddress, "RFQ_CALLBACK_ADDRESS")
	setIfEmpty(&cfg.Integrations.AWS.SNS.TopicARN, "SNS_TOPIC_ARN")
	setIfEmpty(&cfg.Integrations.AWS.Region, "AWS_REGION")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
	setIfEmpty(&cfg.Database.Mongo.URI, "MONGO_URI")
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Mongo.Database == "" {
		cfg.Database.Mongo.Database = "rfq"
	}

	if cfg.RFQ.StoreBackend == "" {
		cfg.RFQ.StoreBackend = StoreMemory
	}
	if cfg.RFQ.LookupBackend == "" {
		cfg.RFQ.LookupBackend = LookupStatic
	}
	if cfg.RFQ.ContractTable == "" {
		cfg.RFQ.ContractTable = "contract_templates"
	}
	if cfg.RFQ.EndpointTimeout == 0 {
		cfg.RFQ.EndpointTimeout = 2000
	}
	if cfg.RFQ.Action == "" {
		cfg.RFQ.Action = "rfq"
	}
	if cfg.RFQ.SessionTTL == 0 {
		cfg.RFQ.SessionTTL = int((24 * time.Hour).Milliseconds())
	}

	if cfg.Gateway.Address == "" {
		cfg.Gateway.Address = ":8080"
	}
	if cfg.Gateway.MaxBodyBytes == 0 {
		cfg.Gateway.MaxBodyBytes = 1 << 20
	}
	if cfg.Gateway.ReadTimeout == 0 {
		cfg.Gateway.ReadTimeout = 10000
	}
	if cfg.Gateway.WriteTimeout == 0 {
		cfg.Gateway.WriteTimeout = 60000
	}

	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "rfq-audit"
	}
	if cfg.Integrations.AWS.Region == "" {
		cfg.Integrations.AWS.Region = "us-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}

	if cfg.Workers == nil {
		cfg.Workers = make(map[string]WorkerConfig)
	}
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.RFQ.MaxConcurrency < 0 {
		return fmt.Errorf("rfq.max_concurrency must not be negative")
	}
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda.enabled is set")
	}

	switch cfg.RFQ.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis store")
		}
	case StoreMongo:
		if cfg.Database.Mongo.URI == "" {
			return fmt.Errorf("database.mongo.uri is required for the mongo store")
		}
	default:
		return fmt.Errorf("rfq.store_backend %q is not supported", cfg.RFQ.StoreBackend)
	}

	switch cfg.RFQ.LookupBackend {
	case LookupStatic:
		if len(cfg.RFQ.Contracts) == 0 {
			return fmt.Errorf("rfq.contracts must define at least one stack for the static lookup")
		}
	case LookupPostgres:
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" || cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.host, database and user are required for the postgres lookup")
		}
	case LookupDynamoDB:
	default:
		return fmt.Errorf("rfq.lookup_backend %q is not supported", cfg.RFQ.LookupBackend)
	}

	if !tableNamePattern.MatchString(cfg.RFQ.ContractTable) {
		return fmt.Errorf("rfq.contract_table %q is not a valid table name", cfg.RFQ.ContractTable)
	}

	if cfg.RFQ.CallbackAddress == "" {
		return fmt.Errorf("rfq.callback_address is required")
	}

	if cfg.RFQ.ContractCacheTTL > 0 && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when rfq.contract_cache_ttl is set")
	}

	if cfg.Audit.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when audit is enabled")
	}

	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.TopicARN == "" {
		return fmt.Errorf("integrations.aws.sns.topic_arn is required when sns is enabled")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
