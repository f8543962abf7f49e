package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/retry"
)

const healthCheckTimeout = 5 * time.Second

// ConnectionManagerConfig controls pool lifecycle.
type ConnectionManagerConfig struct {
	// TTL is how long an unused tenant pool stays open.
	TTL time.Duration

	// CleanupInterval is how often expired pools are swept.
	CleanupInterval time.Duration

	// MaxPools caps the number of simultaneously open tenant pools.
	MaxPools int

	// PoolMaxConns and PoolMinConns size each tenant pool. Tenant pools run
	// analytics queries, not OLTP traffic, so they stay small.
	PoolMaxConns int32
	PoolMinConns int32
}

// DefaultConnectionManagerConfig returns production defaults.
func DefaultConnectionManagerConfig() ConnectionManagerConfig {
	return ConnectionManagerConfig{
		TTL:             15 * time.Minute,
		CleanupInterval: 1 * time.Minute,
		MaxPools:        50,
		PoolMaxConns:    4,
		PoolMinConns:    1,
	}
}

type managedPool struct {
	pool      TenantPool
	driver    string
	createdAt time.Time
	lastUsed  time.Time
}

// ConnectionManager keeps one connection pool per tenant, health-checks
// pools on reuse, and expires pools that sit idle past the TTL. Pools are
// created through the driver registry so the manager never touches
// driver-specific connection code.
type ConnectionManager struct {
	mu     sync.RWMutex
	pools  map[uuid.UUID]*managedPool
	config ConnectionManagerConfig
	logger *zap.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewConnectionManager creates a manager and starts its cleanup loop.
func NewConnectionManager(config ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if config.TTL <= 0 {
		config.TTL = DefaultConnectionManagerConfig().TTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConnectionManagerConfig().CleanupInterval
	}
	if config.MaxPools <= 0 {
		config.MaxPools = DefaultConnectionManagerConfig().MaxPools
	}
	if config.PoolMaxConns <= 0 {
		config.PoolMaxConns = DefaultConnectionManagerConfig().PoolMaxConns
	}
	if config.PoolMinConns <= 0 {
		config.PoolMinConns = DefaultConnectionManagerConfig().PoolMinConns
	}

	m := &ConnectionManager{
		pools:       make(map[uuid.UUID]*managedPool),
		config:      config,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Pool returns a healthy pool for the tenant, dialing the data source on
// first use. An existing pool that fails its health check is closed and
// recreated, which covers tenant databases that restarted since last use.
func (m *ConnectionManager) Pool(ctx context.Context, tenantID uuid.UUID, driver, dsn string) (TenantPool, error) {
	m.mu.RLock()
	managed, exists := m.pools[tenantID]
	m.mu.RUnlock()

	if exists {
		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.pool.Ping(healthCtx)
		})
		cancel()

		if err == nil {
			m.touch(tenantID)
			return managed.pool, nil
		}

		m.logger.Warn("Tenant pool failed health check, recreating",
			zap.String("tenant_id", tenantID.String()),
			zap.String("driver", managed.driver),
			zap.Error(err))
		m.remove(tenantID)
	}

	return m.createPool(ctx, tenantID, driver, dsn)
}

// Invalidate closes and forgets the tenant's pool. Call it after rotating a
// tenant's DSN so the next query dials the new data source.
func (m *ConnectionManager) Invalidate(tenantID uuid.UUID) {
	m.remove(tenantID)
}

// ActivePools returns the number of open tenant pools.
func (m *ConnectionManager) ActivePools() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Close stops the cleanup loop and closes every pool.
func (m *ConnectionManager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	for tenantID, managed := range m.pools {
		if err := managed.pool.Close(); err != nil {
			m.logger.Warn("Failed to close tenant pool",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
		delete(m.pools, tenantID)
	}
}

func (m *ConnectionManager) createPool(ctx context.Context, tenantID uuid.UUID, driver, dsn string) (TenantPool, error) {
	reg, err := GetRegistration(driver)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request may have created the pool while we waited for the lock.
	if managed, exists := m.pools[tenantID]; exists {
		managed.lastUsed = time.Now()
		return managed.pool, nil
	}

	if len(m.pools) >= m.config.MaxPools {
		return nil, fmt.Errorf("tenant pool limit reached (%d)", m.config.MaxPools)
	}

	poolCfg := PoolConfig{
		MaxConns:        m.config.PoolMaxConns,
		MinConns:        m.config.PoolMinConns,
		MaxConnIdleTime: m.config.TTL,
		ConnectTimeout:  healthCheckTimeout,
	}

	// Retry dialing to ride out transient network failures.
	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (TenantPool, error) {
		return reg.Connect(ctx, dsn, poolCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect tenant data source: %w", err)
	}

	now := time.Now()
	m.pools[tenantID] = &managedPool{
		pool:      pool,
		driver:    driver,
		createdAt: now,
		lastUsed:  now,
	}

	m.logger.Info("Created tenant connection pool",
		zap.String("tenant_id", tenantID.String()),
		zap.String("driver", driver),
		zap.Int("active_pools", len(m.pools)))

	return pool, nil
}

func (m *ConnectionManager) touch(tenantID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if managed, exists := m.pools[tenantID]; exists {
		managed.lastUsed = time.Now()
	}
}

func (m *ConnectionManager) remove(tenantID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, exists := m.pools[tenantID]
	if !exists {
		return
	}

	if err := managed.pool.Close(); err != nil {
		m.logger.Warn("Failed to close tenant pool",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
	}
	delete(m.pools, tenantID)
}

func (m *ConnectionManager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *ConnectionManager) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for tenantID, managed := range m.pools {
		if now.Sub(managed.lastUsed) <= m.config.TTL {
			continue
		}

		if err := managed.pool.Close(); err != nil {
			m.logger.Warn("Failed to close expired tenant pool",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
		delete(m.pools, tenantID)

		m.logger.Debug("Evicted idle tenant pool",
			zap.String("tenant_id", tenantID.String()),
			zap.Duration("idle", now.Sub(managed.lastUsed)))
	}
}
