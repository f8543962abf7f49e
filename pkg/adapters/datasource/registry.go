package datasource

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered driver adapter.
type AdapterInfo struct {
	Driver      string `json:"driver"`       // "postgres", "mssql"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// Registration contains info plus the factories for one driver. Connect
// dials the tenant database and returns a managed pool; the executor and
// introspector factories bind to an existing pool.
type Registration struct {
	Info            AdapterInfo
	Connect         func(ctx context.Context, dsn string, cfg PoolConfig) (TenantPool, error)
	NewExecutor     func(pool TenantPool, logger *zap.Logger) (Executor, error)
	NewIntrospector func(pool TenantPool, logger *zap.Logger) (Introspector, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Driver] = reg
}

// RegisteredAdapters returns info for all registered drivers, used by the
// admin API to report which DSN drivers this build supports.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetRegistration returns the registration for a driver.
func GetRegistration(driver string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[driver]
	if !ok {
		return Registration{}, fmt.Errorf("no adapter registered for driver %q", driver)
	}
	return reg, nil
}

// IsRegistered checks if a driver adapter is available.
func IsRegistered(driver string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[driver]
	return ok
}
