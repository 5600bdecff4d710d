package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/auth"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/autoscaler"
	"github.com/simhost/platform/pkg/cluster"
	"github.com/simhost/platform/pkg/container"
	"github.com/simhost/platform/pkg/deploy"
	"github.com/simhost/platform/pkg/distributor"
	"github.com/simhost/platform/pkg/observability"
	"github.com/simhost/platform/pkg/proxy"
	"github.com/simhost/platform/pkg/session"
)

// Scope constants used in route registration. Their dotted form lets
// auth.MatchScope grant a whole family with a single "<family>.*"
// role scope.
const (
	scopeContainerRead  = auth.Scope("container.read")
	scopeContainerWrite = auth.Scope("container.write")
	scopeMatchRead      = auth.Scope("match.read")
	scopeMatchWrite     = auth.Scope("match.write")
	scopeMatchJoin      = auth.Scope("match.join")
	scopeNodeRead       = auth.Scope("node.read")
	scopeNodeWrite      = auth.Scope("node.write")
	scopeModuleRead     = auth.Scope("module.read")
	scopeModuleWrite    = auth.Scope("module.write")
	scopeDeployRead     = auth.Scope("deploy.read")
	scopeDeployWrite    = auth.Scope("deploy.write")
	scopeAutoscaleRead  = auth.Scope("autoscaler.read")
	scopeAutoscaleWrite = auth.Scope("autoscaler.write")
	scopeProxy          = auth.Scope("node.proxy")
	scopeAuthAdmin      = auth.Scope("auth.admin")
)

// Server wires every control-plane and runtime component into an HTTP
// API surface: container/match lifecycle, command submission, snapshot
// reads, auth, and the cluster/module/deploy/autoscaler control plane.
type Server struct {
	logger *slog.Logger

	containers *container.Manager
	sessions   *session.Manager
	authCore   *auth.Core
	filter     *authz.Filter

	clusterMgr  *cluster.Manager
	nodes       cluster.Store
	distributor *distributor.Distributor
	deployer    *deploy.Deployer
	autoscaler  *autoscaler.Autoscaler
	proxy       *proxy.Proxy

	metrics    *observability.SimhostMetrics
	auditStore audit.Store

	sessionTokenTTL time.Duration
}

// Deps bundles the components a Server wires together, the same
// explicit-dependency-struct shape the daemon's other composition
// roots use instead of a growing constructor parameter list.
type Deps struct {
	Logger *slog.Logger

	Containers *container.Manager
	Sessions   *session.Manager
	AuthCore   *auth.Core
	Filter     *authz.Filter

	ClusterMgr  *cluster.Manager
	Nodes       cluster.Store
	Distributor *distributor.Distributor
	Deployer    *deploy.Deployer
	Autoscaler  *autoscaler.Autoscaler
	Proxy       *proxy.Proxy

	Metrics    *observability.SimhostMetrics
	AuditStore audit.Store

	SessionTokenTTL time.Duration
}

// New creates the REST API server from its dependencies.
func New(d Deps) *Server {
	if d.SessionTokenTTL <= 0 {
		d.SessionTokenTTL = 24 * time.Hour
	}
	return &Server{
		logger:          d.Logger,
		containers:      d.Containers,
		sessions:        d.Sessions,
		authCore:        d.AuthCore,
		filter:          d.Filter,
		clusterMgr:      d.ClusterMgr,
		nodes:           d.Nodes,
		distributor:     d.Distributor,
		deployer:        d.Deployer,
		autoscaler:      d.Autoscaler,
		proxy:           d.Proxy,
		metrics:         d.Metrics,
		auditStore:      d.AuditStore,
		sessionTokenTTL: d.SessionTokenTTL,
	}
}

// Mux builds the full routed handler, ready to mount under the
// daemon's listener (alongside pkg/wsapi.Server.Mux() for the
// WebSocket surface).
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	s.registerAuthRoutes(mux)
	s.registerContainerRoutes(mux)
	s.registerMatchRoutes(mux)
	s.registerCommandRoutes(mux)
	s.registerSnapshotRoutes(mux)
	s.registerClusterRoutes(mux)
	s.registerModuleRoutes(mux)
	s.registerDeployRoutes(mux)
	s.registerAutoscalerRoutes(mux)
	s.registerProxyRoutes(mux)
	return mux
}

// protect wraps handler with an authorization check for requiredScope,
// extracting a match id (if any) from the request for match-token
// binding via matchID.
func (s *Server) protect(requiredScope auth.Scope, matchID func(*http.Request) string, handler http.HandlerFunc) http.Handler {
	return s.filter.Middleware(requiredScope, matchID, handler)
}

func noMatchID(*http.Request) string { return "" }

func matchIDFromPath(r *http.Request) string { return r.PathValue("mid") }

// auditFor returns an audit logger attributed to the caller identified
// by claims, used by handlers once authorization has already resolved
// the request's subject.
func (s *Server) auditFor(subject string) *audit.Logger {
	return audit.NewLogger(s.auditStore, subject)
}

func auditResult(err error) *audit.EventResult {
	if err != nil {
		return &audit.EventResult{Status: "failure", Error: err.Error()}
	}
	return &audit.EventResult{Status: "success"}
}
