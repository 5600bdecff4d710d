package api

import (
	"encoding/base64"
	"net/http"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/distributor"
)

func (s *Server) registerModuleRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/modules", s.protect(scopeModuleWrite, noMatchID, s.handleUploadArtifact))
	mux.Handle("GET /api/modules", s.protect(scopeModuleRead, noMatchID, s.handleListArtifacts))
	mux.Handle("DELETE /api/modules/{name}/{version}", s.protect(scopeModuleWrite, noMatchID, s.handleDeleteArtifact))
	mux.Handle("POST /api/modules/{name}/{version}/distribute", s.protect(scopeModuleWrite, noMatchID, s.handleDistributeArtifact))
	mux.Handle("GET /api/modules/{name}/{version}/status", s.protect(scopeModuleRead, noMatchID, s.handleArtifactStatus))
}

type uploadArtifactRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Bytes   string `json:"bytes"` // base64-encoded build output
}

func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	var req uploadArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Bytes)
	if err != nil {
		writeError(w, apierrors.Wrap(apierrors.KindInvalidArg, "decode artifact bytes", err, nil))
		return
	}

	err = s.distributor.Upload(distributor.Artifact{Name: req.Name, Version: req.Version, Bytes: raw})
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogModuleEvent(r.Context(), audit.EventModuleUpload, req.Name+"@"+req.Version, auditResult(err))
	if err != nil {
		if s.metrics != nil {
			s.metrics.ArtifactFailures.Inc()
		}
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ArtifactPushes.Inc()
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.distributor.List())
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	if err := s.distributor.Delete(name, version); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type distributeRequest struct {
	Capability string `json:"capability"`
}

func (s *Server) handleDistributeArtifact(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	decodeJSON(r, &req) // empty capability means "every node"
	name, version := r.PathValue("name"), r.PathValue("version")

	dist, err := s.distributor.Distribute(r.Context(), name, version, req.Capability)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogModuleEvent(r.Context(), audit.EventModuleDistribute, name+"@"+version, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	failed := 0
	for _, status := range dist.Acks {
		if status == distributor.AckFailed {
			failed++
		}
	}
	if s.metrics != nil && failed > 0 {
		s.metrics.ArtifactFailures.Add(float64(failed))
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) handleArtifactStatus(w http.ResponseWriter, r *http.Request) {
	dist, ok := s.distributor.Status(r.PathValue("name"), r.PathValue("version"))
	if !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "no distribution tracked for that artifact", nil))
		return
	}
	writeJSON(w, http.StatusOK, dist)
}
