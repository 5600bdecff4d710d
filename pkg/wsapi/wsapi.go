// Package wsapi implements the client-facing WebSocket surface: nodes
// register their outbound tunnel here (handed off to pkg/proxy), and
// authenticated clients subscribe to a match's snapshot broadcasts or
// submit commands onto its queue.
package wsapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	gorillaws "github.com/gorilla/websocket"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/auth"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/cluster"
	"github.com/simhost/platform/pkg/match"
	"github.com/simhost/platform/pkg/proxy"
	"github.com/simhost/platform/pkg/queue"
	"github.com/simhost/platform/pkg/ratelimit"
)

// RegistrationMessage is the first message a node agent sends on
// connect.
type RegistrationMessage struct {
	NodeID        string            `json:"node_id"`
	Address       string            `json:"address"`
	Labels        map[string]string `json:"labels"`
	Capabilities  []string          `json:"capabilities"`
	MaxContainers int               `json:"max_containers"`
}

// CommandSubmission is a client's inbound command-queue enqueue.
type CommandSubmission struct {
	Module string             `json:"module"`
	Name   string             `json:"name"`
	Args   map[string]float32 `json:"args"`
}

// MatchLookup resolves the running match for a match id, if any —
// owned by whatever container currently hosts it. wsapi reads the
// match's own Broadcaster and Commands queue rather than keeping a
// parallel registry, so submitted commands reach the same queue the
// container's tick loop drains.
type MatchLookup func(matchID string) (*match.Match, bool)

// CommandRateLimit controls the per-connection token bucket applied to
// inbound command submissions on a match socket. CommandsPerSecond
// <= 0 disables limiting.
type CommandRateLimit struct {
	CommandsPerSecond float64
	Burst             int
}

// CommandError is sent back down a match socket in place of silently
// dropping a rejected command submission, so a client can distinguish
// "queue full, try again" from "you're submitting too fast."
type CommandError struct {
	Kind    apierrors.Kind `json:"kind"`
	Message string         `json:"message"`
}

// Server serves node registration and client-facing snapshot/command
// WebSocket endpoints.
type Server struct {
	logger   *slog.Logger
	nodes    cluster.Store
	proxy    *proxy.Proxy
	matches  MatchLookup
	filter   *authz.Filter
	upgrader gorillaws.Upgrader
	cmdLimit CommandRateLimit
}

// New creates the WebSocket API server. limit configures the
// per-connection command rate limit applied to every match socket;
// the zero value disables limiting.
func New(nodes cluster.Store, p *proxy.Proxy, matches MatchLookup, filter *authz.Filter, limit CommandRateLimit, logger *slog.Logger) *Server {
	return &Server{nodes: nodes, proxy: p, matches: matches, filter: filter, cmdLimit: limit, logger: logger, upgrader: gorillaws.Upgrader{}}
}

// Mux returns the registered routes for mounting into a parent mux.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/nodes/connect", s.handleNodeConnect)
	mux.HandleFunc("/ws/matches/{match_id}", s.handleMatchSocket)
	return mux
}

// handleNodeConnect upgrades an outbound node-agent connection using
// gorilla/websocket and hands it to the proxy for request forwarding.
// When the listener is configured for mTLS, a verified client
// certificate's CN overrides whatever node id the registration
// message claims.
func (s *Server) handleNodeConnect(w http.ResponseWriter, r *http.Request) {
	var certIdentity *proxy.NodeIdentity
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		id, err := proxy.VerifyClientCert(r.TLS)
		if err != nil {
			s.logger.Warn("node client cert verification failed", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "certificate verification failed", http.StatusForbidden)
			return
		}
		certIdentity = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("node upgrade failed", "error", err)
		return
	}

	var reg RegistrationMessage
	if err := conn.ReadJSON(&reg); err != nil {
		conn.Close()
		return
	}
	if certIdentity != nil {
		reg.NodeID = certIdentity.NodeID
	}
	if reg.NodeID == "" {
		conn.Close()
		return
	}

	node := &cluster.Node{
		ID:            cluster.NodeID(reg.NodeID),
		Address:       reg.Address,
		Labels:        reg.Labels,
		Capabilities:  reg.Capabilities,
		MaxContainers: reg.MaxContainers,
		Health:        cluster.Healthy,
	}
	ctx := r.Context()
	if err := s.nodes.Register(ctx, node); err != nil {
		s.logger.Warn("node registration failed", "node_id", reg.NodeID, "error", err)
		conn.Close()
		return
	}

	s.proxy.Adopt(context.Background(), node.ID, conn)
	s.logger.Info("node connected", "node_id", reg.NodeID, "remote_addr", r.RemoteAddr)
}

// handleMatchSocket upgrades a client connection (coder/websocket) for
// a single match, streaming its broadcaster's snapshots and accepting
// command submissions onto its queue. Read access requires
// "match.read" and write access (command submission) requires
// "match.write"; a viewer without write scope still connects but has
// its submissions silently ignored.
func (s *Server) handleMatchSocket(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")

	claims, err := s.filter.Authorize(r, auth.Scope("match.read"), matchID)
	if err != nil {
		status := apierrors.HTTPStatus(err)
		http.Error(w, err.Error(), status)
		return
	}
	canWrite := s.filter.HasScope(claims, auth.Scope("match.write"))

	m, ok := s.matches(matchID)
	if !ok {
		http.Error(w, "match not running", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("client upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	subID := string(claims.Subject) + ":" + matchID
	sub := m.Broadcaster.Subscribe(subID)
	defer m.Broadcaster.Unsubscribe(subID)

	if canWrite {
		limiter := ratelimit.New(s.cmdLimit.CommandsPerSecond, s.cmdLimit.Burst)
		go s.readCommands(ctx, conn, m, string(claims.Subject), limiter)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn, m *match.Match, playerID string, limiter *ratelimit.Limiter) {
	for {
		var sub CommandSubmission
		if err := wsjson.Read(ctx, conn, &sub); err != nil {
			return
		}
		if !limiter.Allow() {
			s.logger.Debug("command rate limited, dropping", "match_id", m.ID, "player_id", playerID)
			wsjson.Write(ctx, conn, CommandError{Kind: apierrors.KindRateLimited, Message: "command rate limit exceeded"})
			continue
		}
		cmd := queue.Command{MatchID: m.ID, PlayerID: playerID, Module: sub.Module, Name: sub.Name, Args: sub.Args}
		if err := m.Commands.Enqueue(cmd); err != nil && apierrors.Is(err, apierrors.KindQueueFull) {
			s.logger.Debug("command queue full, dropping", "match_id", m.ID, "player_id", playerID)
			wsjson.Write(ctx, conn, CommandError{Kind: apierrors.KindQueueFull, Message: "command queue full"})
		}
	}
}
