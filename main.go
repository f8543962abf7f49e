package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	_ "github.com/mesa-hq/mesa-engine/pkg/adapters/datasource/mssql"
	_ "github.com/mesa-hq/mesa-engine/pkg/adapters/datasource/postgres"
	"github.com/mesa-hq/mesa-engine/pkg/audit"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/config"
	"github.com/mesa-hq/mesa-engine/pkg/crypto"
	"github.com/mesa-hq/mesa-engine/pkg/database"
	"github.com/mesa-hq/mesa-engine/pkg/handlers"
	"github.com/mesa-hq/mesa-engine/pkg/llm"
	"github.com/mesa-hq/mesa-engine/pkg/logging"
	"github.com/mesa-hq/mesa-engine/pkg/mcp"
	mcpauth "github.com/mesa-hq/mesa-engine/pkg/mcp/auth"
	mcptools "github.com/mesa-hq/mesa-engine/pkg/mcp/tools"
	"github.com/mesa-hq/mesa-engine/pkg/middleware"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/semantics"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Best-effort .env load for local development; deployed environments
	// set real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("control_store", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("generator_provider", cfg.Generator.Provider),
	)

	if cfg.TenantCredentialsKey == "" {
		logger.Fatal("TENANT_CREDENTIALS_KEY is required to protect tenant DSNs")
	}
	if cfg.Auth.TokenSecret == "" {
		logger.Fatal("AUTH_TOKEN_SECRET is required to sign bearer tokens")
	}

	ctx := context.Background()

	if err := migrateControlStore(cfg, logger); err != nil {
		logger.Fatal("Control store migration failed", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to control store", zap.Error(err))
	}
	defer db.Close()

	encryptor, err := crypto.NewDSNEncryptor(cfg.TenantCredentialsKey)
	if err != nil {
		logger.Fatal("Failed to initialize DSN encryption", zap.Error(err))
	}

	// Control-store repositories.
	userRepo := repositories.NewUserRepository(db)
	tenantRepo := repositories.NewTenantRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Tenant data-source plumbing. Driver adapters registered themselves at
	// init; the connection manager owns one read-only pool per tenant.
	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTL:          cfg.Datasource.ConnectionTTL(),
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
	}, logger)
	defer connMgr.Close()
	factory := datasource.NewFactory(connMgr, logger)

	catalog := semantics.Default()
	if cfg.SemanticsPath != "" {
		catalog, err = semantics.Load(cfg.SemanticsPath)
		if err != nil {
			logger.Fatal("Failed to load semantics catalog",
				zap.String("path", cfg.SemanticsPath),
				zap.Error(err))
		}
		logger.Info("Loaded semantics catalog override", zap.String("path", cfg.SemanticsPath))
	}

	var generator llm.Client
	if cfg.Generator.Provider != llm.ProviderNone {
		generator, err = llm.NewClient(&llm.Config{
			Provider: cfg.Generator.Provider,
			Model:    cfg.Generator.Model,
			BaseURL:  cfg.Generator.BaseURL,
			APIKey:   cfg.Generator.APIKey,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create generator client", zap.Error(err))
		}
	} else {
		logger.Info("Generator disabled; questions use the deterministic fallback planner")
	}

	// Question pipeline.
	auditor := audit.NewSecurityAuditor(logger)
	sessionStore := services.NewSessionStore(sessionRepo, tenantRepo, services.SessionStoreConfig{
		TTL:             cfg.Session.SessionTTL(),
		DefaultLanguage: cfg.Session.DefaultLanguage,
	}, logger)
	defer sessionStore.Close()

	schemaContext := services.NewSchemaContextService(tenantRepo, encryptor, factory, catalog, services.SchemaContextConfig{
		CacheTTL:       cfg.Datasource.SchemaCacheTTL(),
		AllowedSchemas: cfg.Datasource.SchemaList(),
	}, logger)
	planner := services.NewPlannerService(generator, nil, catalog, services.PlannerConfig{
		MaxRetries: cfg.Generator.MaxRetries,
		Timeout:    cfg.Generator.GeneratorTimeout(),
	}, logger)
	validator := services.NewSafetyValidator(auditor, services.ValidatorConfig{
		PreviewLimit: cfg.Execution.PreviewLimit,
	}, logger)
	executor := services.NewExecutionService(tenantRepo, encryptor, factory, services.ExecutorConfig{
		StatementTimeout: cfg.Execution.StatementTimeout(),
		AskTimeout:       cfg.Execution.AskStatementTimeout(),
		MaxReturnedRows:  cfg.Execution.MaxReturnedRows,
		MaxRetries:       cfg.Execution.MaxRetries,
	}, logger)
	verbalizer := services.NewVerbalizer()
	askService := services.NewAskService(
		sessionStore, schemaContext, planner, validator, executor, verbalizer,
		tenantRepo, auditRepo, auditor, logger)

	// Authentication.
	var jwks *auth.JWKSClient
	if cfg.Auth.EnableJWKS && len(cfg.Auth.JWKSEndpoints) > 0 {
		jwks, err = auth.NewJWKSClient(cfg.Auth.JWKSEndpoints)
		if err != nil {
			logger.Fatal("Failed to initialize JWKS verification", zap.Error(err))
		}
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.Auth.TokenSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL(),
		JWKS:   jwks,
	})
	if err != nil {
		logger.Fatal("Failed to create token service", zap.Error(err))
	}
	defer tokens.Close()
	cookies := auth.NewCookieManager(
		cfg.Auth.CookieSecret(),
		auth.DeriveCookieSettings(cfg.Auth.BaseURL, cfg.Auth.CookieDomain),
		cfg.Auth.TokenTTL(),
	)
	authService := auth.NewAuthService(tokens, cookies, logger)
	authMW := auth.NewMiddleware(authService, logger)

	// HTTP surface.
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(userRepo, tokens, cookies, sessionStore, logger).RegisterRoutes(mux, authMW)
	handlers.NewAskHandler(askService, sessionStore, logger).RegisterRoutes(mux, authMW)
	handlers.NewSessionHandler(sessionStore, logger).RegisterRoutes(mux, authMW)
	handlers.NewTenantsHandler(tenantRepo, sessionStore, schemaContext, logger).RegisterRoutes(mux, authMW)
	handlers.NewUsersHandler(userRepo, logger).RegisterRoutes(mux, authMW)
	handlers.NewDatasourcesHandler(tenantRepo, encryptor, factory, logger).RegisterRoutes(mux, authMW)
	mux.Handle("GET /metrics", promhttp.Handler())

	// MCP surface: the same pipeline for agent clients.
	mcpServer := mcp.NewServer("mesa-engine", cfg.Version, logger)
	mcptools.RegisterHealthTool(mcpServer.MCP(), cfg.Version)
	mcptools.RegisterAskTool(mcpServer.MCP(), askService, sessionStore, logger)
	mcptools.RegisterTenantTools(mcpServer.MCP(), tenantRepo, sessionStore, logger)
	mcpAuthMW := mcpauth.NewMiddleware(authService, logger)
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(
		mcpAuthMW.RequireAuth(mcpServer.NewStreamableHTTPServer())))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting mesa-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown incomplete", zap.Error(err))
	}
}

// migrateControlStore applies pending control-store migrations over a
// short-lived database/sql connection.
func migrateControlStore(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open control store for migration: %w", err)
	}
	defer func() { _ = db.Close() }()

	return database.RunMigrations(db, database.DefaultMigrationsPath, logger)
}
