// simhostd is the platform control-plane daemon: it hosts the REST and
// WebSocket APIs, the node registry, module distributor, match
// deployer, and autoscaler in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/api"
	"github.com/simhost/platform/pkg/auth"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/autoscaler"
	"github.com/simhost/platform/pkg/cluster"
	"github.com/simhost/platform/pkg/config"
	"github.com/simhost/platform/pkg/container"
	"github.com/simhost/platform/pkg/deploy"
	"github.com/simhost/platform/pkg/distributor"
	"github.com/simhost/platform/pkg/match"
	"github.com/simhost/platform/pkg/observability"
	"github.com/simhost/platform/pkg/proxy"
	"github.com/simhost/platform/pkg/session"
	"github.com/simhost/platform/pkg/wsapi"
)

var (
	version   = "dev"
	gitCommit string
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "simhostd",
		Short: "simhostd — the simulation-hosting platform's control-plane daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the daemon's YAML config file")

	root.AddCommand(newServeCmd(&configPath), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (git: %s)", gitCommit)
			}
			fmt.Printf("simhostd %s\n", v)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the control-plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// newNodeStore selects a cluster.Store backend per cfg.Cluster.StoreDriver.
func newNodeStore(cfg *config.Config, logger *slog.Logger) (cluster.Store, error) {
	sc := cluster.StoreConfig{
		Backend:    cfg.Cluster.StoreDriver,
		DataDir:    cfg.Cluster.DataDir,
		SQLitePath: cfg.Cluster.SQLitePath,
	}
	if cfg.Cluster.StoreDriver == "postgres" {
		sc.Postgres = &cluster.PostgresConfig{
			Host:     cfg.Cluster.Postgres.Host,
			Port:     cfg.Cluster.Postgres.Port,
			Database: cfg.Cluster.Postgres.Database,
			User:     cfg.Cluster.Postgres.User,
			Password: cfg.Cluster.Postgres.Password,
			SSLMode:  cfg.Cluster.Postgres.SSLMode,
		}
	}
	return cluster.NewStore(sc, logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger()

	if cfg.Auth.TokenSigningKey == "" {
		return errors.New("auth.token_signing_key (SIMHOST_TOKEN_SIGNING_KEY) must be set")
	}

	nodes, err := newNodeStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("init cluster store: %w", err)
	}

	authCore := auth.NewCore([]byte(cfg.Auth.TokenSigningKey))
	if err := authCore.RegisterRole(&auth.Role{Name: "admin", Scopes: []auth.Scope{"*"}}); err != nil {
		return fmt.Errorf("register admin role: %w", err)
	}
	if err := authCore.RegisterRole(&auth.Role{Name: "operator", Scopes: []auth.Scope{
		"container.read", "container.write", "match.read", "match.write", "match.join",
		"node.read", "node.proxy", "module.read", "deploy.read", "deploy.write", "autoscaler.read",
	}}); err != nil {
		return fmt.Errorf("register operator role: %w", err)
	}
	filter := authz.New(authCore)

	clusterMgr := cluster.NewManager(nodes, logger, cfg.Cluster.HeartbeatTTL, cfg.Cluster.HeartbeatTTL)
	p := proxy.New(logger)
	dist := distributor.New(nodes, p, cfg.Distributor.Retention, logger)
	deployer := deploy.New(nodes, p, logger)

	scaler := autoscaler.New(autoscaler.Watermarks{
		HighLoad:            cfg.Autoscaler.HighLoad,
		LowLoad:             cfg.Autoscaler.LowLoad,
		ConsecutiveRequired: cfg.Autoscaler.ConsecutiveRequired,
	}, fleetLoadSampler(nodes), logger)

	containers := container.NewManager(cfg.MaxLiveCount, logger)
	sessions := session.NewManager()
	metrics := observability.NewSimhostMetrics()

	auditDir := filepath.Join(filepath.Dir(config.DefaultPath()), "audit")
	auditStore := audit.NewFileStore(auditDir)

	apiSrv := api.New(api.Deps{
		Logger:          logger,
		Containers:      containers,
		Sessions:        sessions,
		AuthCore:        authCore,
		Filter:          filter,
		ClusterMgr:      clusterMgr,
		Nodes:           nodes,
		Distributor:     dist,
		Deployer:        deployer,
		Autoscaler:      scaler,
		Proxy:           p,
		Metrics:         metrics,
		AuditStore:      auditStore,
		SessionTokenTTL: cfg.Auth.SessionTTL,
	})

	matchLookup := func(matchID string) (*match.Match, bool) {
		for _, c := range containers.List() {
			if m, err := c.Match(matchID); err == nil {
				return m, true
			}
		}
		return nil, false
	}
	wsSrv := wsapi.New(nodes, p, matchLookup, filter, wsapi.CommandRateLimit{
		CommandsPerSecond: cfg.WS.CommandsPerSecond,
		Burst:             cfg.WS.CommandBurst,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiSrv.Mux())
	mux.Handle("/ws/", wsSrv.Mux())
	mux.Handle("/metrics", observability.MetricsHandler(metrics.Registry))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go clusterMgr.RunGC(runCtx)
	go dist.RunGC(runCtx, cfg.Distributor.GCCron)
	go scaler.Run(runCtx, cfg.Autoscaler.Cron)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-runCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("simhostd listening", "addr", cfg.ListenAddr, "cluster_store", cfg.Cluster.StoreDriver)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// fleetLoadSampler reports the fleet-wide average CPU load across every
// registered node, the autoscaler's default signal absent a
// match-density-aware sampler.
func fleetLoadSampler(nodes cluster.Store) autoscaler.LoadSampler {
	return func(ctx context.Context) (float64, error) {
		list, err := nodes.List(ctx)
		if err != nil {
			return 0, err
		}
		if len(list) == 0 {
			return 0, nil
		}
		var sum float64
		for _, n := range list {
			sum += n.Resources.CPULoad
		}
		return sum / float64(len(list)), nil
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
