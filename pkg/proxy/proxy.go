// Package proxy implements the node proxy: it holds one persistent
// outbound connection per node agent and forwards control-plane
// requests — artifact pushes and match deploy/undeploy — over that
// tunnel, matching responses back to callers by request id.
//
// It satisfies both distributor.NodeDialer and deploy.NodeDeployer so
// the distributor and deployer packages never need to know how a node
// is actually reached.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/cluster"
	"github.com/simhost/platform/pkg/deploy"
	"github.com/simhost/platform/pkg/distributor"
)

// Message is the wire envelope exchanged over a node tunnel.
type Message struct {
	Type      string          `json:"type"` // "push_artifact", "deploy_match", "undeploy_match", "http_proxy", "result", "ping", "pong"
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Tunnel is one connected node's outbound link.
type Tunnel struct {
	NodeID      cluster.NodeID
	Conn        *websocket.Conn
	ConnectedAt time.Time

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan Message
}

func newTunnel(nodeID cluster.NodeID, conn *websocket.Conn) *Tunnel {
	return &Tunnel{NodeID: nodeID, Conn: conn, ConnectedAt: time.Now(), pending: make(map[string]chan Message)}
}

func (t *Tunnel) send(msg Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.Conn.WriteJSON(msg)
}

// readLoop dispatches incoming results to waiting callers; it runs
// until a read from the connection fails. ctx is not consulted.
func (t *Tunnel) readLoop(ctx context.Context, logger *slog.Logger) {
	for {
		var msg Message
		if err := t.Conn.ReadJSON(&msg); err != nil {
			t.mu.Lock()
			for id, ch := range t.pending {
				close(ch)
				delete(t.pending, id)
			}
			t.mu.Unlock()
			logger.Debug("node tunnel closed", "node_id", t.NodeID, "error", err)
			return
		}
		if msg.Type != "result" {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[msg.RequestID]
		if ok {
			delete(t.pending, msg.RequestID)
		}
		t.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

const defaultRequestTimeout = 30 * time.Second

// Proxy forwards control-plane requests to node agents over
// persistent outbound WebSocket tunnels.
type Proxy struct {
	mu      sync.RWMutex
	tunnels map[cluster.NodeID]*Tunnel
	logger  *slog.Logger
	timeout time.Duration
	enabled bool
}

// New creates a node proxy.
func New(logger *slog.Logger) *Proxy {
	return &Proxy{tunnels: make(map[cluster.NodeID]*Tunnel), logger: logger, timeout: defaultRequestTimeout, enabled: true}
}

// SetEnabled toggles whether the proxy forwards requests; disabling it
// causes every call to fail fast with PROXY_DISABLED, e.g. during a
// control-plane drain.
func (p *Proxy) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Adopt registers an already-accepted node connection (the HTTP
// upgrade handler lives in pkg/wsapi) and starts its read loop.
func (p *Proxy) Adopt(ctx context.Context, nodeID cluster.NodeID, conn *websocket.Conn) *Tunnel {
	t := newTunnel(nodeID, conn)
	p.mu.Lock()
	p.tunnels[nodeID] = t
	p.mu.Unlock()
	go t.readLoop(ctx, p.logger)
	return t
}

// Drop removes a node's tunnel, e.g. on heartbeat expiry.
func (p *Proxy) Drop(nodeID cluster.NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tunnels, nodeID)
}

// Connected reports whether a node currently has a live tunnel.
func (p *Proxy) Connected(nodeID cluster.NodeID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.tunnels[nodeID]
	return ok
}

func (p *Proxy) roundTrip(ctx context.Context, nodeID cluster.NodeID, msgType string, payload any) (Message, error) {
	p.mu.RLock()
	enabled := p.enabled
	tunnel, ok := p.tunnels[nodeID]
	p.mu.RUnlock()

	if !enabled {
		return Message{}, apierrors.New(apierrors.KindProxyDisabled, "node proxy is disabled", nil)
	}
	if !ok {
		return Message{}, apierrors.New(apierrors.KindNodeNotFound, "no tunnel for node", map[string]any{"node_id": string(nodeID)})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	reqID := uuid.NewString()
	resultCh := make(chan Message, 1)
	tunnel.mu.Lock()
	tunnel.pending[reqID] = resultCh
	tunnel.mu.Unlock()

	msg := Message{Type: msgType, RequestID: reqID, Payload: body, Timestamp: time.Now()}
	if err := tunnel.send(msg); err != nil {
		tunnel.mu.Lock()
		delete(tunnel.pending, reqID)
		tunnel.mu.Unlock()
		return Message{}, apierrors.Wrap(apierrors.KindProxyUpstream, "send request to node", err, map[string]any{"node_id": string(nodeID)})
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case result, ok := <-resultCh:
		if !ok {
			return Message{}, apierrors.New(apierrors.KindProxyUpstream, "node tunnel closed mid-request", map[string]any{"node_id": string(nodeID)})
		}
		if result.Error != "" {
			return Message{}, apierrors.New(apierrors.KindProxyUpstream, "node reported an error", map[string]any{"node_id": string(nodeID), "upstream_error": result.Error})
		}
		return result, nil
	case <-reqCtx.Done():
		tunnel.mu.Lock()
		delete(tunnel.pending, reqID)
		tunnel.mu.Unlock()
		return Message{}, apierrors.Wrap(apierrors.KindProxyUpstream, "node request timed out", reqCtx.Err(), map[string]any{"node_id": string(nodeID)})
	}
}

// PushArtifact satisfies distributor.NodeDialer.
func (p *Proxy) PushArtifact(ctx context.Context, node *cluster.Node, artifact distributor.Artifact) error {
	_, err := p.roundTrip(ctx, node.ID, "push_artifact", artifact)
	return err
}

// DeployMatch satisfies deploy.NodeDeployer.
func (p *Proxy) DeployMatch(ctx context.Context, node *cluster.Node, spec deploy.Spec) error {
	_, err := p.roundTrip(ctx, node.ID, "deploy_match", spec)
	return err
}

// UndeployMatch satisfies deploy.NodeDeployer.
func (p *Proxy) UndeployMatch(ctx context.Context, node *cluster.Node, matchID string) error {
	_, err := p.roundTrip(ctx, node.ID, "undeploy_match", map[string]string{"match_id": matchID})
	return err
}

// HTTPRequest is the forwarded shape of a generic node passthrough
// call: method, sub-path, selected headers, query string, and body.
type HTTPRequest struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// HTTPResponse is a node's answer to an HTTPRequest.
type HTTPResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// ForwardHTTP relays an arbitrary HTTP request to nodeID's sub-path
// over its tunnel and returns the upstream response, for the generic
// node proxy passthrough surface.
func (p *Proxy) ForwardHTTP(ctx context.Context, nodeID cluster.NodeID, req HTTPRequest) (HTTPResponse, error) {
	msg, err := p.roundTrip(ctx, nodeID, "http_proxy", req)
	if err != nil {
		return HTTPResponse{}, err
	}
	var resp HTTPResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return HTTPResponse{}, apierrors.Wrap(apierrors.KindProxyUpstream, "decode node http response", err, map[string]any{"node_id": string(nodeID)})
	}
	return resp, nil
}

var _ distributor.NodeDialer = (*Proxy)(nil)
var _ deploy.NodeDeployer = (*Proxy)(nil)
