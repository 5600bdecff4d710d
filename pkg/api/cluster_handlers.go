package api

import (
	"net/http"

	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/cluster"
)

func (s *Server) registerClusterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/nodes", s.protect(scopeNodeRead, noMatchID, s.handleListNodes))
	mux.Handle("GET /api/nodes/{nid}", s.protect(scopeNodeRead, noMatchID, s.handleGetNode))
	mux.Handle("POST /api/nodes/{nid}/heartbeat", s.protect(scopeNodeWrite, noMatchID, s.handleNodeHeartbeat))
	mux.Handle("POST /api/nodes/{nid}/drain", s.protect(scopeNodeWrite, noMatchID, s.handleDrainNode))
	mux.Handle("DELETE /api/nodes/{nid}", s.protect(scopeNodeWrite, noMatchID, s.handleDeregisterNode))
}

// handleListNodes lists every registered node, optionally narrowed by
// a "label" query param of the form "key:value" or a "capability"
// query param.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if label := r.URL.Query().Get("label"); label != "" {
		key, value, _ := splitLabel(label)
		nodes, err := s.nodes.ListByLabel(ctx, key, value)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)
		return
	}
	if capability := r.URL.Query().Get("capability"); capability != "" {
		nodes, err := s.nodes.ListByCapability(ctx, capability)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)
		return
	}
	nodes, err := s.nodes.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		healthy := 0
		for _, n := range nodes {
			if n.Health == cluster.Healthy {
				healthy++
			}
		}
		s.metrics.NodesTotal.Set(float64(len(nodes)))
		s.metrics.NodesHealthy.Set(float64(healthy))
	}
	writeJSON(w, http.StatusOK, nodes)
}

func splitLabel(label string) (key, value string, ok bool) {
	for i := 0; i < len(label); i++ {
		if label[i] == ':' {
			return label[:i], label[i+1:], true
		}
	}
	return label, "", false
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.nodes.Get(r.Context(), cluster.NodeID(r.PathValue("nid")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	var res cluster.Resources
	if err := decodeJSON(r, &res); err != nil {
		writeError(w, err)
		return
	}
	nid := cluster.NodeID(r.PathValue("nid"))
	if err := s.clusterMgr.Heartbeat(r.Context(), nid, res); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.NodeHeartbeats.Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrainNode(w http.ResponseWriter, r *http.Request) {
	nid := r.PathValue("nid")
	err := s.clusterMgr.Drain(r.Context(), cluster.NodeID(nid))
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogNodeEvent(r.Context(), audit.EventNodeDrain, nid, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeregisterNode(w http.ResponseWriter, r *http.Request) {
	nid := r.PathValue("nid")
	err := s.clusterMgr.Deregister(r.Context(), cluster.NodeID(nid))
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogNodeEvent(r.Context(), audit.EventNodeDeregister, nid, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	s.proxy.Drop(cluster.NodeID(nid))
	w.WriteHeader(http.StatusNoContent)
}
