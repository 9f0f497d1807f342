package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"compliancecore/internal/audit"
	"compliancecore/internal/codes"
	mongosink "compliancecore/internal/infra/auditsink/mongo"
	rediscodes "compliancecore/internal/infra/codes/redis"
	"compliancecore/internal/infra/persistence/memory"
	"compliancecore/internal/infra/persistence/postgres"
	"compliancecore/internal/infra/persistence/sqlite"
	"compliancecore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// CodesDriver selects where inspection code counters live.
type CodesDriver string

const (
	CodesStore CodesDriver = "store" // counters in the persistent store
	CodesRedis CodesDriver = "redis" // counters in redis via INCR
)

// AuditSinkDriver selects where flushed audit events are written.
type AuditSinkDriver string

const (
	AuditSinkStore AuditSinkDriver = "store"
	AuditSinkMongo AuditSinkDriver = "mongo"
)

// DefaultStoreTimeout bounds each persistence call made by the service.
const DefaultStoreTimeout = 10 * time.Second

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// NewMemoryStore constructs an in-memory store using the provided engine.
func NewMemoryStore(engine *RulesEngine) *memory.Store {
	return memory.NewStore(engine)
}

// closeFunc releases a resource opened by a factory.
type closeFunc func(context.Context) error

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	COMPLIANCECORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	COMPLIANCECORE_SQLITE_PATH: path to sqlite file (default ./compliancecore.db)
//	COMPLIANCECORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(ctx context.Context, engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("COMPLIANCECORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("COMPLIANCECORE_SQLITE_PATH"), engine)
	case StoragePostgres:
		return postgres.NewStore(ctx, os.Getenv("COMPLIANCECORE_POSTGRES_DSN"), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenCodeGenerator selects the inspection code counter backend.
//
//	COMPLIANCECORE_CODES_DRIVER: store|redis (default store)
//	COMPLIANCECORE_REDIS_ADDR: redis address when driver=redis (default localhost:6379)
func OpenCodeGenerator(ctx context.Context, store PersistentStore) (domain.CodeGenerator, closeFunc, error) {
	driver := os.Getenv("COMPLIANCECORE_CODES_DRIVER")
	if driver == "" {
		driver = string(CodesStore)
	}
	switch CodesDriver(driver) {
	case CodesStore:
		return codes.NewGenerator(codes.NewStoreSequencer(store)), nil, nil
	case CodesRedis:
		seq, err := rediscodes.Dial(ctx, os.Getenv("COMPLIANCECORE_REDIS_ADDR"))
		if err != nil {
			return nil, nil, err
		}
		return codes.NewGenerator(seq), func(context.Context) error { return seq.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown codes driver %s", driver)
	}
}

// OpenAuditSink selects where the audit recorder flushes.
//
//	COMPLIANCECORE_AUDIT_SINK: store|mongo (default store)
//	COMPLIANCECORE_MONGO_URI: connection string when sink=mongo (default mongodb://localhost:27017)
//	COMPLIANCECORE_MONGO_DB: database name (default compliancecore)
func OpenAuditSink(ctx context.Context, store PersistentStore) (domain.AuditSink, closeFunc, error) {
	driver := os.Getenv("COMPLIANCECORE_AUDIT_SINK")
	if driver == "" {
		driver = string(AuditSinkStore)
	}
	switch AuditSinkDriver(driver) {
	case AuditSinkStore:
		return store, nil, nil
	case AuditSinkMongo:
		uri := os.Getenv("COMPLIANCECORE_MONGO_URI")
		if uri == "" {
			uri = "mongodb://localhost:27017"
		}
		sink, err := mongosink.Connect(ctx, uri, os.Getenv("COMPLIANCECORE_MONGO_DB"))
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit sink %s", driver)
	}
}

// RecorderConfigFromEnv reads audit batching settings.
//
//	COMPLIANCECORE_AUDIT_BATCH_SIZE: events per flush (default 100)
//	COMPLIANCECORE_AUDIT_FLUSH_INTERVAL: Go duration (default 5s)
//	COMPLIANCECORE_AUDIT_QUEUE_SIZE: producer queue capacity (default 1024)
func RecorderConfigFromEnv() (audit.Config, error) {
	var cfg audit.Config
	var err error
	if cfg.BatchSize, err = envInt("COMPLIANCECORE_AUDIT_BATCH_SIZE"); err != nil {
		return audit.Config{}, err
	}
	if cfg.QueueSize, err = envInt("COMPLIANCECORE_AUDIT_QUEUE_SIZE"); err != nil {
		return audit.Config{}, err
	}
	if cfg.FlushInterval, err = envDuration("COMPLIANCECORE_AUDIT_FLUSH_INTERVAL"); err != nil {
		return audit.Config{}, err
	}
	return cfg, nil
}

// StoreTimeoutFromEnv reads COMPLIANCECORE_STORE_TIMEOUT, defaulting to
// DefaultStoreTimeout.
func StoreTimeoutFromEnv() (time.Duration, error) {
	d, err := envDuration("COMPLIANCECORE_STORE_TIMEOUT")
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return DefaultStoreTimeout, nil
	}
	return d, nil
}

func envInt(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid count %q", key, raw)
	}
	return n, nil
}

func envDuration(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}
