package api

import (
	"io"
	"net/http"
	"time"

	"github.com/simhost/platform/pkg/cluster"
	"github.com/simhost/platform/pkg/proxy"
)

func (s *Server) registerProxyRoutes(mux *http.ServeMux) {
	mux.Handle("/api/nodes/{nid}/proxy/{path...}", s.protect(scopeProxy, noMatchID, s.handleNodeProxy))
}

// handleNodeProxy relays an arbitrary HTTP request to a node agent's
// own HTTP surface over its control-plane tunnel, for debugging and
// ad-hoc operator calls the platform doesn't otherwise expose a
// first-class endpoint for.
func (s *Server) handleNodeProxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	req := proxy.HTTPRequest{
		Method:  r.Method,
		Path:    "/" + r.PathValue("path"),
		Query:   r.URL.RawQuery,
		Headers: r.Header,
		Body:    body,
	}

	started := time.Now()
	resp, err := s.proxy.ForwardHTTP(r.Context(), cluster.NodeID(r.PathValue("nid")), req)
	if s.metrics != nil {
		s.metrics.ProxyRequestsTotal.Inc()
		s.metrics.ProxyRequestLatency.Observe(time.Since(started).Seconds())
		if err != nil {
			s.metrics.ProxyRequestErrors.Inc()
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
