package api

import (
	"net/http"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/authz"
)

func (s *Server) registerAutoscalerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/autoscaler/recommendation", s.protect(scopeAutoscaleRead, noMatchID, s.handleEvaluateAutoscaler))
	mux.Handle("GET /api/autoscaler/status", s.protect(scopeAutoscaleRead, noMatchID, s.handleAutoscalerStatus))
	mux.Handle("POST /api/autoscaler/acknowledge", s.protect(scopeAutoscaleWrite, noMatchID, s.handleAcknowledgeAutoscaler))
}

func (s *Server) handleEvaluateAutoscaler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.autoscaler.EvaluateOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil && rec != "STEADY" {
		s.metrics.AutoscaleRecommendations.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"recommendation": string(rec)})
}

type autoscalerStatusResponse struct {
	Pending *autoscalerEvent  `json:"pending,omitempty"`
	History []autoscalerEvent `json:"history"`
}

type autoscalerEvent struct {
	Recommendation string  `json:"recommendation"`
	AvgLoad        float64 `json:"avg_load"`
	Acknowledged   bool    `json:"acknowledged"`
}

func (s *Server) handleAutoscalerStatus(w http.ResponseWriter, r *http.Request) {
	hist := s.autoscaler.History()
	out := autoscalerStatusResponse{History: make([]autoscalerEvent, 0, len(hist))}
	for _, ev := range hist {
		out.History = append(out.History, autoscalerEvent{
			Recommendation: string(ev.Recommendation),
			AvgLoad:        ev.AvgLoad,
			Acknowledged:   ev.Acknowledged,
		})
	}
	if pending, ok := s.autoscaler.Pending(); ok {
		out.Pending = &autoscalerEvent{Recommendation: string(pending.Recommendation), AvgLoad: pending.AvgLoad, Acknowledged: pending.Acknowledged}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcknowledgeAutoscaler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.autoscaler.Pending(); !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "no pending recommendation to acknowledge", nil))
		return
	}
	s.autoscaler.Acknowledge()
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogAuth(r.Context(), audit.EventAutoscalerAck, "acknowledge_autoscaler_recommendation", auditResult(nil))
	w.WriteHeader(http.StatusNoContent)
}
