package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/builtin"
	"github.com/simhost/platform/pkg/container"
	"github.com/simhost/platform/pkg/module"
)

// builtinModules maps an installable module name to its constructor.
// Only modules shipped in pkg/builtin may be installed by name; no
// route loads a distributed module artifact into a container.
var builtinModules = map[string]func() *module.Module{
	"combat": builtin.Combat,
}

func (s *Server) registerContainerRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/containers", s.protect(scopeContainerWrite, noMatchID, s.handleCreateContainer))
	mux.Handle("GET /api/containers", s.protect(scopeContainerRead, noMatchID, s.handleListContainers))
	mux.Handle("GET /api/containers/{cid}", s.protect(scopeContainerRead, noMatchID, s.handleGetContainer))
	mux.Handle("DELETE /api/containers/{cid}", s.protect(scopeContainerWrite, noMatchID, s.handleDeleteContainer))

	mux.Handle("POST /api/containers/{cid}/start", s.protect(scopeContainerWrite, noMatchID, s.handleContainerStart))
	mux.Handle("POST /api/containers/{cid}/pause", s.protect(scopeContainerWrite, noMatchID, s.handleContainerPause))
	mux.Handle("POST /api/containers/{cid}/resume", s.protect(scopeContainerWrite, noMatchID, s.handleContainerResume))
	mux.Handle("POST /api/containers/{cid}/stop", s.protect(scopeContainerWrite, noMatchID, s.handleContainerStop))
	mux.Handle("GET /api/containers/{cid}/tick", s.protect(scopeContainerWrite, noMatchID, s.handleContainerStep))
	mux.Handle("POST /api/containers/{cid}/tick", s.protect(scopeContainerWrite, noMatchID, s.handleContainerStep))
	mux.Handle("GET /api/containers/{cid}/status", s.protect(scopeContainerRead, noMatchID, s.handleGetContainer))
	mux.Handle("POST /api/containers/{cid}/play", s.protect(scopeContainerWrite, noMatchID, s.handleContainerPlay))
	mux.Handle("POST /api/containers/{cid}/stop-auto", s.protect(scopeContainerWrite, noMatchID, s.handleContainerStopAuto))

	mux.Handle("GET /api/containers/{cid}/modules", s.protect(scopeModuleRead, noMatchID, s.handleListContainerModules))
	mux.Handle("GET /api/containers/{cid}/modules/{name}", s.protect(scopeModuleRead, noMatchID, s.handleDescribeContainerModule))
	mux.Handle("POST /api/containers/{cid}/modules", s.protect(scopeModuleWrite, noMatchID, s.handleInstallContainerModule))
	mux.Handle("DELETE /api/containers/{cid}/modules/{name}", s.protect(scopeModuleWrite, noMatchID, s.handleDisableContainerModule))
}

type createContainerRequest struct {
	ID                string   `json:"id"`
	AutoAdvanceMillis int64    `json:"auto_advance_ms"`
	StopTimeoutMillis int64    `json:"stop_timeout_ms"`
	InitialModules    []string `json:"moduleNames"`
}

type containerView struct {
	ID      string   `json:"id"`
	State   string   `json:"state"`
	Modules []string `json:"modules"`
	Matches []string `json:"matches"`
}

func toContainerView(c *container.Container) containerView {
	matches := c.Matches()
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return containerView{
		ID:      c.ID,
		State:   string(c.State()),
		Modules: c.Modules().ListInstalled(),
		Matches: ids,
	}
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	// Resolve every requested module before creating anything, since a
	// container can't be rolled back once created (Delete requires it
	// to reach STOPPED first).
	ctors := make([]func() *module.Module, 0, len(req.InitialModules))
	for _, name := range req.InitialModules {
		ctor, ok := builtinModules[name]
		if !ok {
			writeError(w, apierrors.New(apierrors.KindInvalidArg, "unknown builtin module: "+name, nil))
			return
		}
		ctors = append(ctors, ctor)
	}

	cfg := container.Config{
		AutoAdvanceInterval: time.Duration(req.AutoAdvanceMillis) * time.Millisecond,
		StopTimeout:         time.Duration(req.StopTimeoutMillis) * time.Millisecond,
	}

	c, err := s.containers.Create(req.ID, cfg)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogContainerLifecycle(r.Context(), audit.EventContainerCreate, req.ID, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ContainersActive.Set(float64(s.containers.LiveCount()))
	}
	c.SetMetrics(s.metrics)

	for _, ctor := range ctors {
		if err := c.Modules().Install(ctor()); err != nil {
			writeError(w, err)
			return
		}
	}
	if len(ctors) > 0 {
		if err := c.Start(); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toContainerView(c))
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	list := s.containers.List()
	out := make([]containerView, 0, len(list))
	for _, c := range list {
		out = append(out, toContainerView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContainerView(c))
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	err := s.containers.Delete(r.Context(), cid)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogContainerLifecycle(r.Context(), audit.EventContainerDelete, cid, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ContainersActive.Set(float64(s.containers.LiveCount()))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) withContainer(w http.ResponseWriter, r *http.Request, fn func(c *container.Container) error) {
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := fn(c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContainerView(c))
}

func (s *Server) handleContainerStart(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error { return c.Start() })
}

func (s *Server) handleContainerPause(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error { return c.Pause() })
}

func (s *Server) handleContainerResume(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error { return c.Resume() })
}

func (s *Server) handleContainerStop(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error { return c.Stop(r.Context()) })
}

func (s *Server) handleContainerStep(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error {
		c.Step()
		return nil
	})
}

type playRequest struct {
	IntervalMillis int64 `json:"interval_ms"`
}

func (s *Server) handleContainerPlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	decodeJSON(r, &req) // a missing/empty body just means "use the configured default"
	s.withContainer(w, r, func(c *container.Container) error {
		c.Play(time.Duration(req.IntervalMillis) * time.Millisecond)
		return nil
	})
}

func (s *Server) handleContainerStopAuto(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error {
		c.StopAuto()
		return nil
	})
}

func (s *Server) handleListContainerModules(w http.ResponseWriter, r *http.Request) {
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Modules().ListInstalled())
}

func (s *Server) handleDescribeContainerModule(w http.ResponseWriter, r *http.Request) {
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return
	}
	desc, ok := c.Modules().Describe(r.PathValue("name"))
	if !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "module not installed in container", nil))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleDisableContainerModule(w http.ResponseWriter, r *http.Request) {
	s.withContainer(w, r, func(c *container.Container) error {
		return c.DisableModule(r.PathValue("name"))
	})
}

type installModuleRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleInstallContainerModule(w http.ResponseWriter, r *http.Request) {
	var req installModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctor, ok := builtinModules[req.Name]
	if !ok {
		writeError(w, apierrors.New(apierrors.KindInvalidArg, "unknown builtin module: "+req.Name, nil))
		return
	}
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Modules().Install(ctor()); err != nil {
		if apierrors.Is(err, apierrors.KindConflict) || apierrors.Is(err, apierrors.KindPermissionDeny) {
			writeError(w, err)
			return
		}
		writeError(w, apierrors.Wrap(apierrors.KindInvalidArg, "install module", err, nil))
		return
	}
	writeJSON(w, http.StatusCreated, toContainerView(c))
}
