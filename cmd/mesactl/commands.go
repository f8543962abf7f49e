package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/config"
	"github.com/mesa-hq/mesa-engine/pkg/crypto"
	"github.com/mesa-hq/mesa-engine/pkg/database"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
)

var (
	flagEmail    string
	flagPassword string
	flagRole     string
	flagName     string
	flagDriver   string
	flagDSN      string
	flagDSNID    string
	flagTenant   string

	rootCmd = &cobra.Command{
		Use:           "mesactl",
		Short:         "Admin CLI for the mesa-engine control store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending control-store migrations",
		RunE:  runMigrate,
	}

	addUserCmd = &cobra.Command{
		Use:   "add-user",
		Short: "Create a user account",
		RunE:  runAddUser,
	}

	setRoleCmd = &cobra.Command{
		Use:   "set-role",
		Short: "Change a user's role",
		RunE:  runSetRole,
	}

	addDSNCmd = &cobra.Command{
		Use:   "add-dsn",
		Short: "Register an encrypted data-source connection target",
		RunE:  runAddDSN,
	}

	addTenantCmd = &cobra.Command{
		Use:   "add-tenant",
		Short: "Register a tenant bound to an existing DSN",
		RunE:  runAddTenant,
	}

	grantCmd = &cobra.Command{
		Use:   "grant",
		Short: "Grant a user access to a tenant",
		RunE:  runGrant,
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Verify credentials and print a bearer token",
		RunE:  runLogin,
	}
)

func init() {
	addUserCmd.Flags().StringVar(&flagEmail, "email", "", "login email (required)")
	addUserCmd.Flags().StringVar(&flagPassword, "password", "", "plaintext password (required)")
	addUserCmd.Flags().StringVar(&flagRole, "role", models.RoleUser, "role: superuser, admin, db_admin, or user")
	_ = addUserCmd.MarkFlagRequired("email")
	_ = addUserCmd.MarkFlagRequired("password")

	setRoleCmd.Flags().StringVar(&flagEmail, "email", "", "login email (required)")
	setRoleCmd.Flags().StringVar(&flagRole, "role", "", "new role (required)")
	_ = setRoleCmd.MarkFlagRequired("email")
	_ = setRoleCmd.MarkFlagRequired("role")

	addDSNCmd.Flags().StringVar(&flagName, "name", "", "DSN name (required)")
	addDSNCmd.Flags().StringVar(&flagDriver, "driver", models.DriverPostgres, "driver: postgres or mssql")
	addDSNCmd.Flags().StringVar(&flagDSN, "dsn", "", "connection string, stored encrypted (required)")
	_ = addDSNCmd.MarkFlagRequired("name")
	_ = addDSNCmd.MarkFlagRequired("dsn")

	addTenantCmd.Flags().StringVar(&flagName, "name", "", "tenant name (required)")
	addTenantCmd.Flags().StringVar(&flagDSNID, "dsn-id", "", "id of a registered DSN (required)")
	_ = addTenantCmd.MarkFlagRequired("name")
	_ = addTenantCmd.MarkFlagRequired("dsn-id")

	grantCmd.Flags().StringVar(&flagEmail, "email", "", "login email (required)")
	grantCmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant name or id (required)")
	_ = grantCmd.MarkFlagRequired("email")
	_ = grantCmd.MarkFlagRequired("tenant")

	loginCmd.Flags().StringVar(&flagEmail, "email", "", "login email (required)")
	loginCmd.Flags().StringVar(&flagPassword, "password", "", "plaintext password (required)")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(migrateCmd, addUserCmd, setRoleCmd, addDSNCmd, addTenantCmd, grantCmd, loginCmd)
}

// controlStore wires the shared dependencies a command needs: loaded
// configuration and a live control-store pool.
type controlStore struct {
	cfg *config.Config
	db  *database.DB
}

func (c *controlStore) close() {
	c.db.Close()
}

func openControlStore(ctx context.Context) (*controlStore, error) {
	cfg, err := config.Load(Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control store: %w", err)
	}
	return &controlStore{cfg: cfg, db: db}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open control store: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.RunMigrations(db, database.DefaultMigrationsPath, zap.NewNop()); err != nil {
		return err
	}
	cmd.Println("Control store migrated.")
	return nil
}

func runAddUser(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := openControlStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	hash, err := auth.HashPassword(flagPassword)
	if err != nil {
		return err
	}
	user := &models.User{
		Email:        flagEmail,
		PasswordHash: hash,
		Role:         flagRole,
	}
	if err := repositories.NewUserRepository(store.db).Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	cmd.Printf("User %s created with role %s (id %s).\n", user.Email, user.Role, user.ID)
	return nil
}

func runSetRole(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := openControlStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	users := repositories.NewUserRepository(store.db)
	user, err := users.GetByEmail(ctx, flagEmail)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if err := users.SetRole(ctx, user.ID, flagRole); err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	cmd.Printf("User %s role set to %s.\n", user.Email, flagRole)
	return nil
}

func runAddDSN(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := openControlStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	if store.cfg.TenantCredentialsKey == "" {
		return fmt.Errorf("TENANT_CREDENTIALS_KEY is required to encrypt DSNs")
	}
	encryptor, err := crypto.NewDSNEncryptor(store.cfg.TenantCredentialsKey)
	if err != nil {
		return fmt.Errorf("failed to initialize DSN encryption: %w", err)
	}
	encrypted, err := encryptor.Encrypt(flagDSN)
	if err != nil {
		return fmt.Errorf("failed to encrypt DSN: %w", err)
	}

	dsn := &models.DSN{
		Name:         flagName,
		Driver:       flagDriver,
		EncryptedDSN: encrypted,
	}
	if err := repositories.NewTenantRepository(store.db).CreateDSN(ctx, dsn); err != nil {
		return fmt.Errorf("failed to register DSN: %w", err)
	}
	cmd.Printf("DSN %s registered (id %s).\n", dsn.Name, dsn.ID)
	return nil
}

func runAddTenant(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := openControlStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	dsnID, err := uuid.Parse(flagDSNID)
	if err != nil {
		return fmt.Errorf("invalid dsn-id %q: %w", flagDSNID, err)
	}

	tenants := repositories.NewTenantRepository(store.db)
	if _, err := tenants.GetDSN(ctx, dsnID); err != nil {
		return fmt.Errorf("failed to look up DSN %s: %w", dsnID, err)
	}

	tenant := &models.Tenant{
		Name:  flagName,
		DSNID: dsnID,
	}
	if err := tenants.CreateTenant(ctx, tenant); err != nil {
		return fmt.Errorf("failed to register tenant: %w", err)
	}
	cmd.Printf("Tenant %s registered (id %s).\n", tenant.Name, tenant.ID)
	return nil
}

func runGrant(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := openControlStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	user, err := repositories.NewUserRepository(store.db).GetByEmail(ctx, flagEmail)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	tenants := repositories.NewTenantRepository(store.db)
	tenant, err := resolveTenantArg(ctx, tenants, flagTenant)
	if err != nil {
		return err
	}

	if err := tenants.Grant(ctx, user.ID, tenant.ID); err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}
	cmd.Printf("User %s granted access to tenant %s.\n", user.Email, tenant.Name)
	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := openControlStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	user, err := repositories.NewUserRepository(store.db).GetByEmail(ctx, flagEmail)
	if err != nil {
		return fmt.Errorf("invalid credentials")
	}
	if !auth.CheckPassword(user.PasswordHash, flagPassword) {
		return fmt.Errorf("invalid credentials")
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: store.cfg.Auth.TokenSecret,
		Issuer: store.cfg.Auth.Issuer,
		TTL:    store.cfg.Auth.TokenTTL(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token signing: %w", err)
	}
	token, err := tokens.Issue(user)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	cmd.Println(token)
	return nil
}

// resolveTenantArg accepts either a tenant UUID or a tenant name.
func resolveTenantArg(ctx context.Context, tenants repositories.TenantRepository, raw string) (*models.Tenant, error) {
	if id, err := uuid.Parse(raw); err == nil {
		tenant, err := tenants.GetTenant(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up tenant %s: %w", id, err)
		}
		return tenant, nil
	}
	tenant, err := tenants.GetTenantByName(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant %q: %w", raw, err)
	}
	return tenant, nil
}
