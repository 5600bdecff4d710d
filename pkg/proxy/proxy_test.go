package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/cluster"
	"github.com/simhost/platform/pkg/deploy"
	"github.com/simhost/platform/pkg/distributor"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var upgrader = websocket.Upgrader{}

// fakeNode runs a minimal echo-style peer that answers every inbound
// message with an OK result carrying the same request id, simulating
// a node agent's side of the tunnel.
func fakeNode(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				var msg Message
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				reply := Message{Type: "result", RequestID: msg.RequestID, Timestamp: time.Now()}
				conn.WriteJSON(reply)
			}
		}()
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestPushArtifactRoundTrip(t *testing.T) {
	srv, wsURL := fakeNode(t)
	defer srv.Close()

	p := New(testLogger())
	conn := dial(t, wsURL)
	defer conn.Close()
	p.Adopt(context.Background(), "n1", conn)

	err := p.PushArtifact(context.Background(), &cluster.Node{ID: "n1"}, distributor.Artifact{Name: "combat", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("push artifact: %v", err)
	}
}

func TestDeployMatchRoundTrip(t *testing.T) {
	srv, wsURL := fakeNode(t)
	defer srv.Close()

	p := New(testLogger())
	conn := dial(t, wsURL)
	defer conn.Close()
	p.Adopt(context.Background(), "n1", conn)

	err := p.DeployMatch(context.Background(), &cluster.Node{ID: "n1"}, deploy.Spec{MatchID: "m1"})
	if err != nil {
		t.Fatalf("deploy match: %v", err)
	}
}

func TestRoundTripNodeNotFound(t *testing.T) {
	p := New(testLogger())
	err := p.PushArtifact(context.Background(), &cluster.Node{ID: "ghost"}, distributor.Artifact{Name: "combat", Version: "1.0.0"})
	if !apierrors.Is(err, apierrors.KindNodeNotFound) {
		t.Fatalf("expected KindNodeNotFound error, got %v", err)
	}
}

func TestRoundTripProxyDisabled(t *testing.T) {
	srv, wsURL := fakeNode(t)
	defer srv.Close()

	p := New(testLogger())
	conn := dial(t, wsURL)
	defer conn.Close()
	p.Adopt(context.Background(), "n1", conn)
	p.SetEnabled(false)

	err := p.PushArtifact(context.Background(), &cluster.Node{ID: "n1"}, distributor.Artifact{Name: "combat", Version: "1.0.0"})
	if !apierrors.Is(err, apierrors.KindProxyDisabled) {
		t.Fatalf("expected KindProxyDisabled error, got %v", err)
	}
}

func TestRoundTripUpstreamErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			conn.WriteJSON(Message{Type: "result", RequestID: msg.RequestID, Error: "container quota exceeded"})
		}()
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	p := New(testLogger())
	conn := dial(t, wsURL)
	defer conn.Close()
	p.Adopt(context.Background(), "n1", conn)

	err := p.UndeployMatch(context.Background(), &cluster.Node{ID: "n1"}, "m1")
	if !apierrors.Is(err, apierrors.KindProxyUpstream) {
		t.Fatalf("expected KindProxyUpstream error, got %v", err)
	}
}

func TestForwardHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			var req HTTPRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return
			}
			resp := HTTPResponse{Status: http.StatusOK, Body: append([]byte("echo:"), []byte(req.Path)...)}
			payload, _ := json.Marshal(resp)
			conn.WriteJSON(Message{Type: "result", RequestID: msg.RequestID, Payload: payload})
		}()
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	p := New(testLogger())
	conn := dial(t, wsURL)
	defer conn.Close()
	p.Adopt(context.Background(), "n1", conn)

	resp, err := p.ForwardHTTP(context.Background(), "n1", HTTPRequest{Method: "GET", Path: "/status"})
	if err != nil {
		t.Fatalf("forward http: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Status)
	}
	if string(resp.Body) != "echo:/status" {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
}

func TestConnectedReflectsAdoptAndDrop(t *testing.T) {
	srv, wsURL := fakeNode(t)
	defer srv.Close()

	p := New(testLogger())
	conn := dial(t, wsURL)
	defer conn.Close()
	p.Adopt(context.Background(), "n1", conn)

	if !p.Connected("n1") {
		t.Fatal("expected node to be connected after adopt")
	}
	p.Drop("n1")
	if p.Connected("n1") {
		t.Fatal("expected node to be disconnected after drop")
	}
}
