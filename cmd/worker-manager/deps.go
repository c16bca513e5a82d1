package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rfq-workers/internal/common/audit"
	"rfq-workers/internal/common/aws"
	"rfq-workers/internal/common/config"
	"rfq-workers/internal/common/contracts"
	"rfq-workers/internal/common/database"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/gateway"
	"rfq-workers/internal/rfq"
)

type dependencies struct {
	store     session.Store
	lookup    contracts.Lookup
	notifiers rfq.Notifiers
	audit     rfq.AuditRecorder
	checks    map[string]gateway.ReadinessCheck
	closers   []func()
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(operationName+" failed, retrying...",
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func buildDependencies(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) (*dependencies, error) {
	d := &dependencies{checks: map[string]gateway.ReadinessCheck{}}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	// Redis backs the session store, the contract cache, or both.
	var redisClient *database.RedisClient
	if cfg.RFQ.StoreBackend == config.StoreRedis || cfg.RFQ.ContractCacheTTL > 0 {
		err := retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { redisClient.Close() })
		zapLog.Info("Redis connected successfully")
	}

	sessionTTL := config.GetDuration(cfg.RFQ.SessionTTL)
	switch cfg.RFQ.StoreBackend {
	case config.StoreRedis:
		d.store = session.NewRedisStore(redisClient.GetClient(), sessionTTL)
	case config.StoreMongo:
		var mongoClient *database.MongoClient
		err := retryWithBackoff(func() error {
			var err error
			mongoClient, err = database.NewMongo(ctx, cfg.Database.Mongo)
			if err != nil {
				return err
			}
			return mongoClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "MongoDB connection")
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = mongoClient.Close(context.Background()) })

		store := session.NewMongoStore(mongoClient.Database, sessionTTL)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		d.store = store
		zapLog.Info("MongoDB connected successfully")
	default:
		d.store = session.NewMemoryStore()
		zapLog.Warn("using in-memory session store; sessions do not survive restarts")
	}

	lookup, err := buildLookup(ctx, cfg, d, zapLog)
	if err != nil {
		return nil, err
	}
	if cfg.RFQ.ContractCacheTTL > 0 {
		lookup = contracts.NewCachedLookup(lookup, redisClient.GetClient(), config.GetDuration(cfg.RFQ.ContractCacheTTL), log)
	}
	d.lookup = lookup

	if awsCfg := cfg.Integrations.AWS; awsCfg.SNS.Enabled {
		client, err := aws.NewSNSClient(ctx, awsCfg.Region)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		d.notifiers = append(d.notifiers, aws.NewCompletionNotifier(client, awsCfg.SNS.TopicARN))
		zapLog.Info("SNS completion notifier enabled", zap.String("topicArn", awsCfg.SNS.TopicARN))
	}

	if cfg.Audit.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := es.Ping(ctx); err != nil {
			zapLog.Warn("elasticsearch not reachable; audit writes may fail until it is", zap.Error(err))
		}
		d.audit = audit.NewRecorder(es.Client, cfg.Audit.Index)
		d.checks["elasticsearch"] = es.Ping
		zapLog.Info("Elasticsearch audit trail enabled", zap.String("index", cfg.Audit.Index))
	}

	ok = true
	return d, nil
}

func buildLookup(ctx context.Context, cfg *config.Config, d *dependencies, zapLog *zap.Logger) (contracts.Lookup, error) {
	switch cfg.RFQ.LookupBackend {
	case config.LookupPostgres:
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { pg.Close() })
		d.checks["postgres"] = pg.Ping
		zapLog.Info("PostgreSQL connected successfully")
		return contracts.NewPostgresLookup(pg.GetDB(), cfg.RFQ.ContractTable)

	case config.LookupDynamoDB:
		client, err := aws.NewDynamoDBClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.DynamoDB.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}
		zapLog.Info("DynamoDB contract lookup enabled", zap.String("table", cfg.RFQ.ContractTable))
		return contracts.NewDynamoDBLookup(client, cfg.RFQ.ContractTable), nil

	default:
		return contracts.NewStaticLookup(cfg.RFQ.Contracts), nil
	}
}
