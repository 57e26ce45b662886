package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/northwire-isp/northwire/internal/app"
	"github.com/northwire-isp/northwire/internal/audit"
	audithttp "github.com/northwire-isp/northwire/internal/audit/http"
	"github.com/northwire-isp/northwire/internal/observability"
	"github.com/northwire-isp/northwire/internal/platform/cache"
	"github.com/northwire-isp/northwire/internal/platform/db"
	"github.com/northwire-isp/northwire/internal/principals"
	"github.com/northwire-isp/northwire/internal/rbac"
	"github.com/northwire-isp/northwire/internal/shared"
	"github.com/northwire-isp/northwire/internal/tenants"
	"github.com/northwire-isp/northwire/jobs"
)

// tenantScopeResolver answers scope-kind lookups for assignment
// validation from the tenant directory.
type tenantScopeResolver struct {
	service *tenants.Service
}

func (r tenantScopeResolver) ResolveKind(ctx context.Context, instanceID string) (rbac.ScopeKind, error) {
	tenant, err := r.service.GetTenant(ctx, instanceID)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return "", rbac.ErrUnknownScopeInstance
		}
		return "", err
	}
	switch tenant.Kind {
	case tenants.KindPartner:
		return rbac.ScopePartner, nil
	case tenants.KindReseller:
		return rbac.ScopeReseller, nil
	case tenants.KindCustomer:
		return rbac.ScopeCustomer, nil
	}
	return "", rbac.ErrUnknownScopeInstance
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()

	tenantRepo := tenants.NewRepository(dbpool)
	tenantService := tenants.NewService(tenantRepo)

	principalRepo := principals.NewRepository(dbpool)
	principalService := principals.NewService(principalRepo)

	rbacRepo := rbac.NewRepository(dbpool)
	var grantSource rbac.GrantSource
	var invalidator rbac.CacheInvalidator
	if redisClient != nil {
		grantCache := rbac.NewGrantCache(redisClient, cfg.GrantCacheTTL)
		grantSource = grantCache
		invalidator = grantCache
	}
	engine := rbac.NewEngine(rbacRepo, grantSource, logger)
	rbacService := rbac.NewService(rbacRepo, tenantScopeResolver{service: tenantService}, invalidator, logger)
	synchronizer := rbac.NewSynchronizer(rbacService, logger)

	guard := rbac.Middleware{
		Checker:   engine,
		Logger:    logger,
		Decisions: metrics.CountDecision,
	}

	if cfg.BootstrapOnStart {
		role, err := synchronizer.EnsurePrivilegedRole(ctx, rbac.SystemActorID, shared.AllScopes())
		if err != nil {
			logger.Error("bootstrap privileged role", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("privileged role reconciled",
			slog.Int64("role_id", role.ID),
			slog.Int("permissions", len(role.PermissionCodes)))
	}

	rbacHandler := rbac.NewHandler(logger, rbacService, engine, synchronizer, guard)

	auditStore := audit.NewStore(dbpool)
	auditService := audit.NewService(auditStore)
	auditHandler := audithttp.NewHandler(logger, auditService, guard)

	tenantsHandler := tenants.NewHandler(logger, tenantService, guard)
	principalsHandler := principals.NewHandler(logger, principalService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RBACHandler:       rbacHandler,
		AuditHandler:      auditHandler,
		TenantsHandler:    tenantsHandler,
		PrincipalsHandler: principalsHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
