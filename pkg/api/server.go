package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/audit"
	"github.com/infrallm/infrallm/pkg/authn"
	"github.com/infrallm/infrallm/pkg/chat"
	"github.com/infrallm/infrallm/pkg/hub"
	"github.com/infrallm/infrallm/pkg/jobs"
	"github.com/infrallm/infrallm/pkg/llm"
	"github.com/infrallm/infrallm/pkg/policy"
	"github.com/infrallm/infrallm/pkg/sshpool"
	"github.com/infrallm/infrallm/pkg/store"
	"github.com/infrallm/infrallm/pkg/version"
)

// HealthFunc reports the backing store's health. It's supplied by main as a
// closure over the concrete store implementation so this package stays
// decoupled from any particular store.Store backend — the same narrow-
// dependency posture spec.md §9 asks for everywhere else.
type HealthFunc func(ctx context.Context) (any, error)

// Server is InfraLLM's HTTP API server, grounded on the teacher's
// pkg/api.Server (same Set*-after-NewServer wiring shape, same
// gin.Default()-plus-route-groups layout as cmd/tarsy/main.go), narrowed to
// the endpoints SPEC_FULL.md §6 actually needs to exercise the core:
// webhook ingress, chat messages, audit search, policy dry-run testing, the
// two websocket hubs, and a health check.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	store         store.Store
	authenticator *authn.Authenticator
	chatManager   *chat.Manager
	orchestrator  *llm.Orchestrator
	jobsEngine    *jobs.Engine
	policyEngine  *policy.Engine
	auditLogger   *audit.Logger
	sshPool       *sshpool.Pool
	chatHub       *hub.ChatHub
	commandHub    *hub.CommandHub
	rawHub        *hub.Hub
	healthFunc    HealthFunc
	startedAt     time.Time
}

// Deps bundles every component Server routes against. All fields are
// required.
type Deps struct {
	Store          store.Store
	Authenticator  *authn.Authenticator
	ChatManager    *chat.Manager
	Orchestrator   *llm.Orchestrator
	JobsEngine     *jobs.Engine
	PolicyEngine   *policy.Engine
	AuditLogger    *audit.Logger
	SSHPool        *sshpool.Pool
	Hub            *hub.Hub
	ChatHub        *hub.ChatHub
	CommandHub     *hub.CommandHub
	CORSOrigins    []string
	HealthFunc     HealthFunc
}

// NewServer builds the gin engine and registers every route.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:        gin.New(),
		store:         deps.Store,
		authenticator: deps.Authenticator,
		chatManager:   deps.ChatManager,
		orchestrator:  deps.Orchestrator,
		jobsEngine:    deps.JobsEngine,
		policyEngine:  deps.PolicyEngine,
		auditLogger:   deps.AuditLogger,
		sshPool:       deps.SSHPool,
		chatHub:       deps.ChatHub,
		commandHub:    deps.CommandHub,
		rawHub:        deps.Hub,
		healthFunc:    deps.HealthFunc,
		startedAt:     time.Now(),
	}

	s.router.Use(gin.Recovery(), securityHeaders(), corsMiddleware(deps.CORSOrigins))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	// Webhook ingress is unauth and secret-guarded per-job (spec.md §4.8),
	// registered outside the authenticated group entirely.
	s.router.POST("/api/jobs/webhook/:jobID", s.webhookHandler)

	api := s.router.Group("/api")
	api.Use(requireAuth(s.authenticator))
	{
		api.POST("/sessions/:id/messages", s.sendMessageHandler)
		api.GET("/audit", s.auditSearchHandler)
		api.POST("/policies/:id/test", s.testPolicyHandler)
	}

	hubs := s.router.Group("/hubs")
	hubs.Use(requireAuth(s.authenticator))
	{
		hubs.GET("/chat", s.chatHubHandler)
		hubs.GET("/command", s.commandHubHandler)
	}
}

// Router exposes the underlying gin engine, e.g. for httptest.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, for tests that need
// an OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeSec int64  `json:"uptimeSeconds"`
	Store     any    `json:"store,omitempty"`
	StoreErr  string `json:"storeError,omitempty"`
}

func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Version:   version.Full(),
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	}

	if s.healthFunc != nil {
		storeHealth, err := s.healthFunc(reqCtx)
		if err != nil {
			resp.Status = "unhealthy"
			resp.StoreErr = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = storeHealth
	}

	c.JSON(http.StatusOK, resp)
}
