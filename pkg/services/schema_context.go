package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/crypto"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/semantics"
)

// introspectConcurrency bounds parallel column lookups per build.
const introspectConcurrency = 4

// SchemaContextService assembles the tenant-scoped schema context the
// planner prompts with and the validator enforces. The context is the
// intersection of the semantics catalog with what actually exists in the
// tenant's database, so tenant A's context can never name tenant B's tables.
type SchemaContextService interface {
	// Build returns the tenant's schema context, reusing cached metadata
	// within the TTL.
	Build(ctx context.Context, tenantID uuid.UUID) (*models.SchemaContext, error)

	// Invalidate drops the cached context for one tenant, forcing the next
	// Build to introspect again. Called when a tenant's DSN is rotated.
	Invalidate(tenantID uuid.UUID)
}

// SchemaContextConfig controls metadata caching and introspection scope.
type SchemaContextConfig struct {
	// CacheTTL bounds how long introspected metadata is reused.
	CacheTTL time.Duration
	// AllowedSchemas restricts introspection to these database schemas.
	AllowedSchemas []string
}

// DefaultSchemaContextConfig returns production defaults.
func DefaultSchemaContextConfig() SchemaContextConfig {
	return SchemaContextConfig{
		CacheTTL:       15 * time.Minute,
		AllowedSchemas: []string{"public"},
	}
}

type cachedContext struct {
	context   *models.SchemaContext
	expiresAt time.Time
}

type schemaContextService struct {
	tenants   repositories.TenantRepository
	encryptor *crypto.DSNEncryptor
	factory   datasource.Factory
	catalog   *semantics.Catalog
	config    SchemaContextConfig
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedContext
}

// NewSchemaContextService creates the schema context service.
func NewSchemaContextService(
	tenants repositories.TenantRepository,
	encryptor *crypto.DSNEncryptor,
	factory datasource.Factory,
	catalog *semantics.Catalog,
	config SchemaContextConfig,
	logger *zap.Logger,
) SchemaContextService {
	defaults := DefaultSchemaContextConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if len(config.AllowedSchemas) == 0 {
		config.AllowedSchemas = defaults.AllowedSchemas
	}
	if catalog == nil {
		catalog = semantics.Default()
	}

	return &schemaContextService{
		tenants:   tenants,
		encryptor: encryptor,
		factory:   factory,
		catalog:   catalog,
		config:    config,
		logger:    logger,
		cache:     make(map[uuid.UUID]cachedContext),
	}
}

func (s *schemaContextService) Build(ctx context.Context, tenantID uuid.UUID) (*models.SchemaContext, error) {
	s.mu.RLock()
	cached, ok := s.cache[tenantID]
	s.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.context, nil
	}

	built, err := s.build(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[tenantID] = cachedContext{context: built, expiresAt: time.Now().Add(s.config.CacheTTL)}
	s.mu.Unlock()

	return built, nil
}

func (s *schemaContextService) Invalidate(tenantID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()
}

func (s *schemaContextService) build(ctx context.Context, tenantID uuid.UUID) (*models.SchemaContext, error) {
	dsn, err := s.tenants.GetTenantDSN(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant data source: %w", err)
	}

	plaintext, err := s.encryptor.Decrypt(dsn.EncryptedDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt tenant DSN: %w", err)
	}

	intro, err := s.factory.Introspector(ctx, tenantID, dsn.Driver, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant introspector: %w", err)
	}

	physical, err := intro.Tables(ctx, s.config.AllowedSchemas)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant tables: %w", err)
	}

	// Only catalog tables are eligible; everything else in the tenant
	// database stays invisible to the planner and the validator alike.
	found := make(map[string]datasource.Table, len(s.catalog.Tables))
	for _, table := range physical {
		if _, ok := s.catalog.Table(table.Name); !ok {
			continue
		}
		if _, dup := found[table.Name]; !dup {
			found[table.Name] = table
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no catalog tables found in tenant %s data source (%d tables introspected)", tenantID, len(physical))
	}

	type tableColumns struct {
		spec semantics.TableSpec
		cols []datasource.Column
	}
	results := make([]tableColumns, 0, len(found))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(introspectConcurrency)
	for _, spec := range s.catalog.Tables {
		table, ok := found[spec.Name]
		if !ok {
			continue
		}
		g.Go(func() error {
			cols, err := intro.Columns(gctx, table.Schema, table.Name)
			if err != nil {
				return fmt.Errorf("failed to introspect columns of %s.%s: %w", table.Schema, table.Name, err)
			}
			resultsMu.Lock()
			results = append(results, tableColumns{spec: spec, cols: cols})
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Catalog order keeps contexts (and therefore prompts) deterministic.
	order := make(map[string]int, len(s.catalog.Tables))
	for i, spec := range s.catalog.Tables {
		order[spec.Name] = i
	}
	sort.Slice(results, func(i, j int) bool {
		return order[results[i].spec.Name] < order[results[j].spec.Name]
	})

	schemaCtx := &models.SchemaContext{
		TenantID: tenantID,
		Rules:    append([]string(nil), s.catalog.Rules...),
	}
	for _, tc := range results {
		schemaCtx.Columns = append(schemaCtx.Columns, mergeColumns(tc.spec, tc.cols)...)
	}

	s.logger.Debug("Built schema context",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("tables", len(results)),
		zap.Int("columns", len(schemaCtx.Columns)))

	return schemaCtx, nil
}

// mergeColumns intersects one catalog table with its physical columns.
// Catalog columns missing from the database are dropped; physical columns
// the catalog does not know keep their introspected type and get the
// attribute role.
func mergeColumns(spec semantics.TableSpec, physical []datasource.Column) []models.ColumnContext {
	byName := make(map[string]datasource.Column, len(physical))
	for _, col := range physical {
		byName[col.Name] = col
	}

	out := make([]models.ColumnContext, 0, len(physical))
	known := make(map[string]bool, len(spec.Columns))
	for _, specCol := range spec.Columns {
		phys, ok := byName[specCol.Name]
		if !ok {
			continue
		}
		known[specCol.Name] = true
		colType := phys.DataType
		if colType == "" {
			colType = specCol.Type
		}
		out = append(out, models.ColumnContext{
			Table:       spec.Name,
			Name:        specCol.Name,
			Type:        colType,
			Role:        specCol.Role,
			Description: specCol.Description,
		})
	}

	extra := make([]datasource.Column, 0, len(physical))
	for _, col := range physical {
		if !known[col.Name] {
			extra = append(extra, col)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].OrdinalPosition < extra[j].OrdinalPosition })
	for _, col := range extra {
		out = append(out, models.ColumnContext{
			Table: spec.Name,
			Name:  col.Name,
			Type:  col.DataType,
			Role:  semantics.RoleAttribute,
		})
	}

	return out
}

var _ SchemaContextService = (*schemaContextService)(nil)
