// Package app wires every component into a runnable process and
// dispatches on the configured mode, mirroring the teacher's
// internal/app.Run mode-switch (api / worker / seed-demo).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashfox/toolgate/internal/authctx"
	"github.com/ashfox/toolgate/internal/backend"
	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/config"
	"github.com/ashfox/toolgate/internal/dispatcher"
	"github.com/ashfox/toolgate/internal/httpapi"
	"github.com/ashfox/toolgate/internal/notify"
	"github.com/ashfox/toolgate/internal/persistence/postgres"
	"github.com/ashfox/toolgate/internal/pipeline"
	"github.com/ashfox/toolgate/internal/platform"
	"github.com/ashfox/toolgate/internal/policy"
	"github.com/ashfox/toolgate/internal/ports"
	"github.com/ashfox/toolgate/internal/projectlock"
	"github.com/ashfox/toolgate/internal/telemetry"
	"github.com/ashfox/toolgate/internal/testharness"
	"github.com/ashfox/toolgate/internal/worker"
	"github.com/ashfox/toolgate/internal/workspaceadmin"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const defaultLockIdleTTL = 30 * time.Second

// Run is the process entry point. It reads config, connects to
// infrastructure, and starts the mode cfg.Mode names.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting toolgate", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	} else {
		logger.Info("redis disabled: worker pub/sub wake-ups are off")
	}

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	for _, c := range append(telemetry.All(), httpapi.Collectors()...) {
		if err := metricsReg.Register(c); err != nil {
			return fmt.Errorf("registering metric collector: %w", err)
		}
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "seed-demo":
		return runSeedDemo(ctx, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildCore wires the components shared by every mode: the workspace
// repository, project repository, pipeline store, lock manager, and
// policy service. The workspace repository is wrapped in
// workspaceadmin.Service so every caller (dispatcher auth, API-key
// resolver, worker resolver) goes through the §3/§8 workspace-management
// guards rather than raw CRUD. The concrete ProjectRepository swaps on
// cfg.NativePipelineBackend: "persistence" for Postgres-backed
// durability, "memory" for the in-process testharness (useful for
// seed-demo dry runs and local development without a real schema).
func buildCore(cfg *config.Config, db *pgxpool.Pool) (ports.WorkspaceRepository, *pipeline.Store, *projectlock.Manager, *policy.Service) {
	clock := clockutil.Real{}

	workspaces := workspaceadmin.New(postgres.NewWorkspaceRepository(db))

	var projects ports.ProjectRepository
	switch cfg.NativePipelineBackend {
	case "memory":
		projects = testharness.NewProjectRepository(clock)
	default:
		projects = postgres.NewProjectRepository(db)
	}

	store := pipeline.New(projects, clock)
	locks := projectlock.New(defaultLockIdleTTL, clock)
	authz := policy.New(workspaces, clock, 0)

	return workspaces, store, locks, authz
}

// buildBackendRegistry registers the Backend implementations this
// gateway process dispatches tool calls to. Spec §1 places the real
// content-authoring tools (the modeling engine, texture pipeline) out
// of scope as external collaborators reached over their own transport;
// no such backend ships in this repo. testharness.FakeBackend stands in
// as the default/engine backend so the api and worker processes are
// runnable end to end, mirroring the teacher's seed.RunDemo bootstrap
// mode rather than a real upstream integration.
func buildBackendRegistry(cfg *config.Config) *backend.Registry {
	return backend.NewRegistry(testharness.NewFakeBackend(cfg.DefaultBackendKind))
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	workspaces, store, locks, authz := buildCore(cfg, db)
	backends := buildBackendRegistry(cfg)

	dispatch := dispatcher.New(backends, locks, authz, store, cfg.DefaultBackendKind,
		dispatcher.WithMetrics(telemetry.DispatcherMetrics{}))

	authn := authctx.NewResolver(workspaces)

	srv := httpapi.NewServer(httpapi.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg, dispatch, authn)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("api shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	workspaces, store, _, _ := buildCore(cfg, db)
	backends := buildBackendRegistry(cfg)
	clock := clockutil.Real{}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}

	resolver := worker.NewWorkspaceResolver(workspaces, cfg.WorkerWorkspaceIDs, 0, clock)

	opts := []worker.Option{
		worker.WithPollInterval(time.Duration(cfg.WorkerPollMs) * time.Millisecond),
		worker.WithHeartbeatInterval(time.Duration(cfg.WorkerHeartbeatMs) * time.Millisecond),
		worker.WithLogger(logger),
	}
	if rdb != nil {
		opts = append(opts, worker.WithPubSub(rdb, ""))
	}
	if cfg.SlackBotToken != "" || cfg.SlackAlertChannel != "" {
		opts = append(opts, worker.WithDeadLetterNotifier(
			notify.NewDeadLetterNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)))
	}

	loop := worker.New(store, backends, cfg.DefaultBackendKind, workerID, resolver, clock, opts...)
	return loop.Run(ctx)
}

// runSeedDemo provisions one demo account, workspace, admin role, and
// API key so a freshly migrated database has something to authenticate
// and dispatch against, mirroring the teacher's seed.RunDemo idempotent
// bootstrap mode. Every step checks for an existing row first so the
// mode is safe to rerun against an already-seeded database.
func runSeedDemo(ctx context.Context, logger *slog.Logger, db *pgxpool.Pool) error {
	workspaces := workspaceadmin.New(postgres.NewWorkspaceRepository(db))

	accountID := "demo-account"
	if existing, err := workspaces.GetAccount(ctx, accountID); err != nil {
		return fmt.Errorf("checking demo account: %w", err)
	} else if existing == nil {
		if _, err := workspaces.CreateAccount(ctx, ports.Account{AccountID: accountID, Email: "demo@ashfox.local", Name: "Demo Account"}); err != nil {
			return fmt.Errorf("seeding demo account: %w", err)
		}
	}

	workspaceID := "demo-workspace"
	if existing, err := workspaces.GetWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("checking demo workspace: %w", err)
	} else if existing == nil {
		if _, err := workspaces.CreateWorkspace(ctx, ports.Workspace{WorkspaceID: workspaceID, Name: "Demo Workspace", CreatedBy: accountID}); err != nil {
			return fmt.Errorf("seeding demo workspace: %w", err)
		}
	}

	roleID := "demo-admin-role"
	if existing, err := workspaces.GetRole(ctx, workspaceID, roleID); err != nil {
		return fmt.Errorf("checking demo role: %w", err)
	} else if existing == nil {
		if _, err := workspaces.CreateRole(ctx, ports.Role{WorkspaceID: workspaceID, RoleID: roleID, Name: "Admin", Builtin: "workspace_admin"}); err != nil {
			return fmt.Errorf("seeding demo role: %w", err)
		}
	}
	if err := workspaces.UpsertMember(ctx, ports.Member{WorkspaceID: workspaceID, AccountID: accountID, RoleIDs: []string{roleID}}); err != nil {
		return fmt.Errorf("seeding demo member: %w", err)
	}

	raw, prefix, err := authctx.GenerateRawApiKey()
	if err != nil {
		return fmt.Errorf("generating demo api key: %w", err)
	}
	hash := authctx.HashApiKey(raw)
	if existing, err := workspaces.FindWorkspaceApiKeyByHash(ctx, hash); err != nil {
		return fmt.Errorf("checking demo api key: %w", err)
	} else if existing == nil {
		key := ports.ApiKey{
			ApiKeyID:    "demo-key",
			Scope:       ports.ApiKeyScopeWorkspace,
			WorkspaceID: workspaceID,
			Name:        "Demo API Key",
			Prefix:      prefix,
			Hash:        hash,
		}
		if _, err := workspaces.CreateWorkspaceApiKey(ctx, key); err != nil {
			return fmt.Errorf("seeding demo api key: %w", err)
		}
	}

	logger.Info("seed-demo complete",
		"account_id", accountID,
		"workspace_id", workspaceID,
		"api_key", raw,
		"note", "save this key now, it is not recoverable once this process exits",
	)
	return nil
}
