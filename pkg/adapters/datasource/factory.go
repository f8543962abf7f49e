package datasource

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Factory creates executors and introspectors bound to managed tenant
// pools. Callers pass the decrypted DSN; the factory never sees ciphertext.
type Factory interface {
	// Executor returns a query executor for the tenant's data source.
	Executor(ctx context.Context, tenantID uuid.UUID, driver, dsn string) (Executor, error)

	// Introspector returns a schema introspector for the tenant's data source.
	Introspector(ctx context.Context, tenantID uuid.UUID, driver, dsn string) (Introspector, error)

	// TestConnection dials the data source once and closes it, without
	// registering a managed pool. Used when an admin registers a new DSN.
	TestConnection(ctx context.Context, driver, dsn string) error

	// Drivers returns info for all registered driver adapters.
	Drivers() []AdapterInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
	logger  *zap.Logger
}

// NewFactory returns a factory backed by the global driver registry.
func NewFactory(connMgr *ConnectionManager, logger *zap.Logger) Factory {
	return &registryFactory{
		connMgr: connMgr,
		logger:  logger,
	}
}

func (f *registryFactory) Executor(ctx context.Context, tenantID uuid.UUID, driver, dsn string) (Executor, error) {
	reg, err := GetRegistration(driver)
	if err != nil {
		return nil, err
	}

	pool, err := f.connMgr.Pool(ctx, tenantID, driver, dsn)
	if err != nil {
		return nil, err
	}

	return reg.NewExecutor(pool, f.logger)
}

func (f *registryFactory) Introspector(ctx context.Context, tenantID uuid.UUID, driver, dsn string) (Introspector, error) {
	reg, err := GetRegistration(driver)
	if err != nil {
		return nil, err
	}

	pool, err := f.connMgr.Pool(ctx, tenantID, driver, dsn)
	if err != nil {
		return nil, err
	}

	return reg.NewIntrospector(pool, f.logger)
}

func (f *registryFactory) TestConnection(ctx context.Context, driver, dsn string) error {
	reg, err := GetRegistration(driver)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := reg.Connect(ctx, dsn, PoolConfig{
		MaxConns:        1,
		MinConns:        0,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  healthCheckTimeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	return pool.Ping(ctx)
}

func (f *registryFactory) Drivers() []AdapterInfo {
	return RegisteredAdapters()
}

var _ Factory = (*registryFactory)(nil)
