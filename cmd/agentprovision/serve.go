package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/agentprovision/agentprovision/internal/accounts"
	"github.com/agentprovision/agentprovision/internal/agents"
	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db"
	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/postgres"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/groups"
	"github.com/agentprovision/agentprovision/internal/handlers"
	"github.com/agentprovision/agentprovision/internal/healthcheck"
	instancechecker "github.com/agentprovision/agentprovision/internal/healthcheck/checkers/instance"
	mcpchecker "github.com/agentprovision/agentprovision/internal/healthcheck/checkers/mcp"
	"github.com/agentprovision/agentprovision/internal/instances"
	"github.com/agentprovision/agentprovision/internal/logger"
	"github.com/agentprovision/agentprovision/internal/mcp"
	mcpmessage "github.com/agentprovision/agentprovision/internal/mcp/providers/message"
	mcpskill "github.com/agentprovision/agentprovision/internal/mcp/providers/skill"
	mcptask "github.com/agentprovision/agentprovision/internal/mcp/providers/task"
	"github.com/agentprovision/agentprovision/internal/messages"
	"github.com/agentprovision/agentprovision/internal/models"
	"github.com/agentprovision/agentprovision/internal/providers"
	"github.com/agentprovision/agentprovision/internal/routing"
	"github.com/agentprovision/agentprovision/internal/schedule"
	"github.com/agentprovision/agentprovision/internal/server"
	"github.com/agentprovision/agentprovision/internal/skills"
	"github.com/agentprovision/agentprovision/internal/tasks"
	"github.com/agentprovision/agentprovision/internal/telemetry"
	"github.com/agentprovision/agentprovision/internal/traces"
	"github.com/agentprovision/agentprovision/internal/vault"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

var (
	configPath  string
	storeKind   string
	autoMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the MCP gateway and the maintenance scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch storeKind {
		case storePostgres, storeMemory:
		default:
			return fmt.Errorf("unknown --store %q (want %s or %s)", storeKind, storePostgres, storeMemory)
		}
		runServe()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&storeKind, "store", storePostgres, "persistence backend: postgres or memory")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before serving (postgres only)")
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideVault,
			accounts.NewService,
			agents.NewService,
			groups.NewService,
			providers.NewService,
			models.NewService,
			provideRoutingService,
			provideRecorder,
			provideOrchestrator,
			provideMessenger,
			provideCatalog,
			skills.NewService,
			provideSkillRouter,
			instances.NewService,
			instances.NewProber,
			provideRemoteMCPClient,
			provideHealthService,
			provideToolGatewayService,
			provideResolver,
			provideScheduler,
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewAuthHandler),
			provideServerHandler(handlers.NewUsersHandler),
			provideServerHandler(handlers.NewAgentsHandler),
			provideServerHandler(handlers.NewGroupsHandler),
			provideServerHandler(handlers.NewTasksHandler),
			provideServerHandler(handlers.NewMessagesHandler),
			provideServerHandler(handlers.NewSkillsHandler),
			provideServerHandler(handlers.NewLLMHandler),
			provideServerHandler(handlers.NewInstancesHandler),
			provideServerHandler(provideMCPHandler),
			provideServer,
		),
		fx.Invoke(
			startTelemetry,
			startScheduler,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

// provideConfigUnchecked loads config.toml and the environment overlay
// without validating it.
func provideConfigUnchecked() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideConfig() (config.Config, error) {
	cfg, err := provideConfigUnchecked()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (store.Store, error) {
	if storeKind == storeMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	dsn := cfg.Postgres.DSN()
	if autoMigrate {
		if err := db.MigrateUp(log, dsn); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := provideDBConn(lc, dsn)
	if err != nil {
		return nil, err
	}
	return postgres.New(pool), nil
}

func provideDBConn(lc fx.Lifecycle, dsn string) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideVault(log *slog.Logger, st store.Store, cfg config.Config) (*vault.Vault, error) {
	return vault.New(log, st, cfg)
}
func provideRoutingService(log *slog.Logger, st store.Store, keys *vault.Vault, cfg config.Config) *routing.Service {
	return routing.NewService(log, st, keys, cfg)
}
func provideRecorder(log *slog.Logger, st store.Store) *traces.Recorder {
	return traces.NewRecorder(log, st)
}
func provideOrchestrator(log *slog.Logger, st store.Store, groupService *groups.Service, routingService *routing.Service, rec *traces.Recorder, cfg config.Config) *tasks.Orchestrator {
	return tasks.NewOrchestrator(log, st, groupService, routingService, rec, cfg)
}
func provideMessenger(log *slog.Logger, st store.Store, groupService *groups.Service, orchestrator *tasks.Orchestrator) *messages.Service {
	return messages.NewService(log, st, groupService, orchestrator)
}
func provideCatalog(cfg config.Config) (*skills.Catalog, error) {
	catalog, err := skills.LoadCatalog(cfg.Skills.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("skill catalog: %w", err)
	}
	return catalog, nil
}
func provideSkillRouter(log *slog.Logger, st store.Store, creds *vault.Vault, rec *traces.Recorder, orchestrator *tasks.Orchestrator, agentService *agents.Service, cfg config.Config) *skills.Router {
	return skills.NewRouter(log, st, creds, rec, orchestrator, agentService, cfg)
}
func provideRemoteMCPClient(cfg config.Config) *mcp.RemoteClient {
	return mcp.NewRemoteClient(cfg, version)
}
func provideHealthService(log *slog.Logger, instanceService *instances.Service, remote *mcp.RemoteClient, cfg config.Config) *healthcheck.Service {
	checkers := []healthcheck.Checker{instancechecker.NewChecker(log, instanceService)}
	if cfg.MCP.Enabled && remote.Configured() {
		checkers = append(checkers, mcpchecker.NewChecker(log, remote))
	}
	return healthcheck.NewService(checkers...)
}
func provideToolGatewayService(log *slog.Logger, orchestrator *tasks.Orchestrator, messenger *messages.Service, router *skills.Router) *mcp.ToolGatewayService {
	return mcp.NewToolGatewayService(log, []mcp.ToolExecutor{
		mcptask.NewExecutor(log, orchestrator),
		mcpmessage.NewExecutor(log, messenger),
		mcpskill.NewExecutor(log, router),
	})
}
func provideResolver(log *slog.Logger, st store.Store) *auth.Resolver {
	return auth.NewResolver(log, st)
}
func provideScheduler(log *slog.Logger, orchestrator *tasks.Orchestrator, prober *instances.Prober, cfg config.Config) (*schedule.Scheduler, error) {
	s := schedule.NewScheduler(log)
	for _, job := range schedule.Jobs(log, orchestrator, prober, cfg) {
		if err := s.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}
func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log, version)
}
func provideMCPHandler(log *slog.Logger, gateway *mcp.ToolGatewayService, agentService *agents.Service) *handlers.MCPHandler {
	return handlers.NewMCPHandler(log, gateway, agentService, version)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	Resolver       *auth.Resolver
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config, params.Resolver, params.ServerHandlers)
}

func startTelemetry(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) error {
	shutdown, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		if err := shutdown(ctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
		return nil
	}})
	return nil
}

func startScheduler(lc fx.Lifecycle, scheduler *schedule.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { scheduler.Start(ctx); return nil },
		OnStop:  func(ctx context.Context) error { return scheduler.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, accountService *accounts.Service) {
	logger.Info("starting agentprovision", slog.String("version", version), slog.String("store", storeKind))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := accountService.EnsurePlatformAdmin(ctx, cfg.Admin); err != nil {
				return fmt.Errorf("admin bootstrap: %w", err)
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
