package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/crypto"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/observability"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/retry"
)

// ExecutionService runs sanitized statements against tenant data sources.
// The target data source is resolved exclusively from the session snapshot's
// selected tenants; nothing in the statement or the plan can redirect a query
// to another tenant.
type ExecutionService interface {
	// Execute runs one sanitized statement against the given tenant under
	// the ask-path statement timeout. The tenant must be selected in the
	// snapshot. Timeouts map to apperrors.ErrExecutionTimeout and are never
	// retried; transient connectivity failures are retried with backoff and
	// map to apperrors.ErrExecution when exhausted.
	Execute(ctx context.Context, sanitizedSQL string, snapshot models.SessionSnapshot, tenantID uuid.UUID) (*models.ExecutionResult, error)

	// Ping verifies the tenant's data source is reachable, under the base
	// statement timeout.
	Ping(ctx context.Context, snapshot models.SessionSnapshot, tenantID uuid.UUID) error
}

// ExecutorConfig bounds statement execution.
type ExecutorConfig struct {
	// StatementTimeout bounds administrative statements and pings.
	StatementTimeout time.Duration

	// AskTimeout bounds statements answering a question. Analytical
	// aggregates run longer than point lookups.
	AskTimeout time.Duration

	// MaxReturnedRows caps how many rows a statement may return.
	MaxReturnedRows int

	// MaxRetries bounds retries of transient connectivity failures.
	MaxRetries int
}

// DefaultExecutorConfig returns the execution settings used when the caller
// provides none.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		StatementTimeout: 8 * time.Second,
		AskTimeout:       30 * time.Second,
		MaxReturnedRows:  5000,
		MaxRetries:       2,
	}
}

type executionService struct {
	tenants   repositories.TenantRepository
	encryptor *crypto.DSNEncryptor
	factory   datasource.Factory
	config    ExecutorConfig
	logger    *zap.Logger
}

// NewExecutionService creates an execution service over the tenant registry
// and the datasource factory.
func NewExecutionService(
	tenants repositories.TenantRepository,
	encryptor *crypto.DSNEncryptor,
	factory datasource.Factory,
	config ExecutorConfig,
	logger *zap.Logger,
) ExecutionService {
	defaults := DefaultExecutorConfig()
	if config.StatementTimeout <= 0 {
		config.StatementTimeout = defaults.StatementTimeout
	}
	if config.AskTimeout <= 0 {
		config.AskTimeout = defaults.AskTimeout
	}
	if config.MaxReturnedRows <= 0 {
		config.MaxReturnedRows = defaults.MaxReturnedRows
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &executionService{
		tenants:   tenants,
		encryptor: encryptor,
		factory:   factory,
		config:    config,
		logger:    logger,
	}
}

// nonRetryableError pins an error as final for the retry loop regardless of
// what its message looks like. Timeout messages would otherwise pattern-match
// as transient.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string     { return e.err.Error() }
func (e *nonRetryableError) IsRetryable() bool { return false }
func (e *nonRetryableError) Unwrap() error     { return e.err }

func (s *executionService) Execute(ctx context.Context, sanitizedSQL string, snapshot models.SessionSnapshot, tenantID uuid.UUID) (*models.ExecutionResult, error) {
	executor, err := s.executorFor(ctx, snapshot, tenantID)
	if err != nil {
		return nil, err
	}

	var result *models.ExecutionResult
	start := time.Now()
	err = retry.DoIfRetryable(ctx, s.retryConfig(), func() error {
		var queryErr error
		result, queryErr = executor.Query(ctx, sanitizedSQL, s.config.AskTimeout, s.config.MaxReturnedRows)
		if queryErr != nil && errors.Is(queryErr, apperrors.ErrExecutionTimeout) {
			// A statement that exhausted its timeout once will exhaust it
			// again; surface immediately instead of retrying.
			return &nonRetryableError{err: queryErr}
		}
		return queryErr
	})
	elapsed := time.Since(start)
	observability.ObserveExecutionDuration(elapsed)

	if err != nil {
		if errors.Is(err, apperrors.ErrExecutionTimeout) {
			s.logger.Warn("Statement timed out",
				zap.String("tenant_id", tenantID.String()),
				zap.Duration("timeout", s.config.AskTimeout))
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExecution, err)
	}

	s.logger.Debug("Statement executed",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("row_count", result.RowCount),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

func (s *executionService) Ping(ctx context.Context, snapshot models.SessionSnapshot, tenantID uuid.UUID) error {
	executor, err := s.executorFor(ctx, snapshot, tenantID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StatementTimeout)
	defer cancel()
	return executor.Ping(ctx)
}

// executorFor resolves the tenant's data-source executor, gated on the
// snapshot actually holding the tenant.
func (s *executionService) executorFor(ctx context.Context, snapshot models.SessionSnapshot, tenantID uuid.UUID) (datasource.Executor, error) {
	if snapshot.State != models.SessionTenantSelected {
		return nil, apperrors.ErrNoTenantSelected
	}
	if !snapshot.HasTenant(tenantID) {
		return nil, fmt.Errorf("tenant %s is not selected in this session: %w", tenantID, apperrors.ErrForbidden)
	}

	dsn, err := s.tenants.GetTenantDSN(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant data source: %w", err)
	}

	plain, err := s.encryptor.Decrypt(dsn.EncryptedDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt tenant credentials: %w", err)
	}

	executor, err := s.factory.Executor(ctx, tenantID, dsn.Driver, plain)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant data source: %w", err)
	}
	return executor, nil
}

func (s *executionService) retryConfig() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = s.config.MaxRetries
	return cfg
}

var _ ExecutionService = (*executionService)(nil)
