// Command infrallm is InfraLLM's single binary: it wires the policy engine,
// SSH connection pool, command executor, LLM orchestrator, job trigger
// engine, and HTTP/WebSocket API together and serves them until signaled to
// stop. Grounded on the teacher's cmd/tarsy/main.go startup sequence
// (flag-parsed config dir, godotenv, gin.SetMode, sequential component
// construction with fail-fast log.Fatalf, then router.Run), extended with
// graceful shutdown draining in-flight chat tasks and the job poller before
// the HTTP listener closes.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/api"
	"github.com/infrallm/infrallm/pkg/audit"
	"github.com/infrallm/infrallm/pkg/authn"
	"github.com/infrallm/infrallm/pkg/chat"
	"github.com/infrallm/infrallm/pkg/config"
	"github.com/infrallm/infrallm/pkg/crypto"
	"github.com/infrallm/infrallm/pkg/executor"
	"github.com/infrallm/infrallm/pkg/hub"
	"github.com/infrallm/infrallm/pkg/jobs"
	"github.com/infrallm/infrallm/pkg/llm"
	"github.com/infrallm/infrallm/pkg/mcp"
	"github.com/infrallm/infrallm/pkg/policy"
	"github.com/infrallm/infrallm/pkg/sshpool"
	"github.com/infrallm/infrallm/pkg/store/postgres"
)

// shutdownGrace bounds how long in-flight chat tasks get to finish once a
// shutdown signal arrives, matching spec.md §4.5's chat-manager drain.
const shutdownGrace = 20 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "directory containing .env")
	flag.Parse()

	cfg, err := config.Load(filepath.Join(*configDir, ".env"))
	if err != nil {
		slog.Error("infrallm: load configuration", "error", err)
		os.Exit(1)
	}
	gin.SetMode(cfg.GinMode)

	if cfg.IsProduction() {
		if err := crypto.RefuseInsecureMasterKey(cfg.CredentialMasterKey); err != nil {
			slog.Error("infrallm: refusing to start in production", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := postgres.LoadConfigFromEnv()
	if err != nil {
		slog.Error("infrallm: load database configuration", "error", err)
		os.Exit(1)
	}
	db, err := postgres.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("infrallm: connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("infrallm: connected to postgres and applied migrations")

	cipher := crypto.NewCipher(cfg.CredentialMasterKey)

	sshPool := sshpool.NewWithOptions(cfg.SSHPoolMaxPerHost, cfg.SSHPoolIdleTimeout)
	defer sshPool.Close()

	policyEngine := policy.New(db.Policies(), db.PolicyAssignments())
	auditLogger := audit.New(db.AuditLogs())

	exec := executor.New(policyEngine, sshPool, auditLogger, cipher, db.Hosts(), db.Credentials(), db.CommandExecutions())

	stdioCache := mcp.NewStdioCache()
	defer stdioCache.Close()
	registry := mcp.NewRegistry(db.McpServers(), stdioCache, cipher)

	dispatcher := llm.NewToolDispatcher(exec, db.HostNotes(), registry)
	provider := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, "")
	orchestrator := llm.NewOrchestrator(
		provider, dispatcher, registry,
		db.Sessions(), db.Messages(), db.Hosts(), db.HostNotes(),
		db.Policies(), db.PolicyAssignments(), db.PromptSettings(),
	)

	chatManager := chat.NewManager()

	jobsEngine := jobs.NewEngine(db.Jobs(), db.JobRuns(), db.Sessions(), chatManager, orchestrator)
	jobsEngine.Start(ctx)
	defer jobsEngine.Stop()

	rawHub := hub.NewHub(0)
	chatHub := hub.NewChatHub(rawHub)
	commandHub := hub.NewCommandHub(rawHub)

	authenticator := authn.NewAuthenticator(cfg.JWTSecret, db.AccessTokens()).
		WithIssuer(cfg.JWTIssuer)

	server := api.NewServer(api.Deps{
		Store:         db,
		Authenticator: authenticator,
		ChatManager:   chatManager,
		Orchestrator:  orchestrator,
		JobsEngine:    jobsEngine,
		PolicyEngine:  policyEngine,
		AuditLogger:   auditLogger,
		SSHPool:       sshPool,
		Hub:           rawHub,
		ChatHub:       chatHub,
		CommandHub:    commandHub,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		HealthFunc: func(reqCtx context.Context) (any, error) {
			return db.Health(reqCtx)
		},
	})

	addr := ":" + cfg.HTTPPort
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("infrallm: http server listening", "addr", addr)
		serveErr <- server.Start(addr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("infrallm: shutdown signal received, draining")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("infrallm: http server failed", "error", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	chatManager.Stop(shutdownGrace)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("infrallm: http server shutdown", "error", err)
	}
	slog.Info("infrallm: shutdown complete")
}
