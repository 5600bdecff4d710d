// Package container implements the container lifecycle: a single
// cooperative-writer execution context that steps its matches forward
// on a tick clock, draining each match's command queue before running
// its modules' systems.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/match"
	"github.com/simhost/platform/pkg/module"
	"github.com/simhost/platform/pkg/observability"
)

// State is a position in the container lifecycle state machine.
type State string

const (
	Created State = "CREATED"
	Running State = "RUNNING"
	Paused  State = "PAUSED"
	Stopped State = "STOPPED"
	Deleted State = "DELETED"
)

var validTransitions = map[State][]State{
	Created: {Running},
	Running: {Paused, Stopped},
	Paused:  {Running},
	Stopped: {Deleted},
	Deleted: {},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config controls a container's tick clock.
type Config struct {
	AutoAdvanceInterval time.Duration // default 10ms, per the platform's suggested default
	StopTimeout         time.Duration // default 5s
}

// Container owns a set of matches and steps them forward together on
// a single tick clock. All mutation goes through run(), the single
// writer goroutine; external callers only enqueue commands and read
// snapshots.
type Container struct {
	ID      string
	cfg     Config
	logger  *slog.Logger
	modules *module.Registry

	mu      sync.RWMutex
	state   State
	matches map[string]*match.Match

	cancel   context.CancelFunc
	done     chan struct{}
	stepOnce chan struct{} // manual-advance request, always honored regardless of auto-advance

	intervalMu  sync.Mutex
	interval    time.Duration
	autoAdvance bool

	metrics *observability.SimhostMetrics
}

// SetMetrics attaches a metrics sink the tick loop reports to. Safe to
// call before Start; nil (the default) disables reporting.
func (c *Container) SetMetrics(m *observability.SimhostMetrics) {
	c.metrics = m
}

// New creates a container in the CREATED state.
func New(id string, cfg Config, logger *slog.Logger) *Container {
	if cfg.AutoAdvanceInterval <= 0 {
		cfg.AutoAdvanceInterval = 10 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Container{
		ID:          id,
		cfg:         cfg,
		logger:      logger,
		modules:     module.NewRegistry(),
		state:       Created,
		matches:     make(map[string]*match.Match),
		stepOnce:    make(chan struct{}, 1),
		interval:    cfg.AutoAdvanceInterval,
		autoAdvance: true,
	}
}

// State returns the container's current lifecycle state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Modules returns the container's module registry.
func (c *Container) Modules() *module.Registry { return c.modules }

// AddMatch registers a match with this container. Matches may be
// added while CREATED, RUNNING, or PAUSED.
func (c *Container) AddMatch(m *match.Match) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped || c.state == Deleted {
		return apierrors.New(apierrors.KindConflict, fmt.Sprintf("container %s is %s, cannot add matches", c.ID, c.state), nil)
	}
	c.matches[m.ID] = m
	return nil
}

// RemoveMatch drops a match from the container.
func (c *Container) RemoveMatch(matchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.matches, matchID)
}

// Match looks up a match by id.
func (c *Container) Match(matchID string) (*match.Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.matches[matchID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, fmt.Sprintf("match %s not found", matchID), nil)
	}
	return m, nil
}

// Matches returns every match currently registered with this
// container, in no particular order.
func (c *Container) Matches() []*match.Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*match.Match, 0, len(c.matches))
	for _, m := range c.matches {
		out = append(out, m)
	}
	return out
}

func (c *Container) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return apierrors.New(apierrors.KindConflict, fmt.Sprintf("container %s cannot transition %s -> %s", c.ID, c.state, to), nil)
	}
	c.state = to
	return nil
}

// Start transitions CREATED -> RUNNING and launches the tick loop.
func (c *Container) Start() error {
	if err := c.transition(Running); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Pause transitions RUNNING -> PAUSED; the tick loop keeps running but
// skips ticking while paused.
func (c *Container) Pause() error {
	return c.transition(Paused)
}

// Resume transitions PAUSED -> RUNNING.
func (c *Container) Resume() error {
	return c.transition(Running)
}

// Stop cooperatively cancels the tick loop and waits up to
// cfg.StopTimeout for it to exit before forcing the STOPPED state
// regardless.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped || c.state == Deleted {
		c.mu.Unlock()
		return nil
	}
	if !canTransition(c.state, Stopped) {
		from := c.state
		c.mu.Unlock()
		return apierrors.New(apierrors.KindConflict, fmt.Sprintf("container %s cannot transition %s -> %s", c.ID, from, Stopped), nil)
	}
	prevRunning := c.cancel != nil
	c.state = Stopped
	c.mu.Unlock()

	if !prevRunning {
		return nil
	}
	c.cancel()

	timeout := c.cfg.StopTimeout
	select {
	case <-c.done:
	case <-time.After(timeout):
		c.logger.Warn("container stop timed out, forcing STOPPED", "container_id", c.ID, "timeout", timeout)
	case <-ctx.Done():
	}
	return nil
}

// Delete transitions STOPPED -> DELETED. The container must already
// be stopped.
func (c *Container) Delete() error {
	return c.transition(Deleted)
}

// DisableModule uninstalls a module from the container's registry. If
// the module declared a flag component, its removal from every entity
// in every match is queued for the next cleanup pass rather than
// applied immediately.
func (c *Container) DisableModule(name string) error {
	flag, ok := c.modules.Uninstall(name)
	if !ok {
		return apierrors.New(apierrors.KindNotFound, fmt.Sprintf("module %s not installed on container %s", name, c.ID), nil)
	}
	if flag == "" {
		return nil
	}
	c.mu.RLock()
	matches := make([]*match.Match, 0, len(c.matches))
	for _, m := range c.matches {
		matches = append(matches, m)
	}
	c.mu.RUnlock()
	for _, m := range matches {
		m.Store.QueueComponentRemoval(flag)
	}
	return nil
}

// Step manually advances every match by one tick. Manual ticks are
// always honored while RUNNING regardless of the auto-advance state.
func (c *Container) Step() {
	select {
	case c.stepOnce <- struct{}{}:
	default:
	}
}

// Play (re)starts the auto-advance ticker at interval, replacing
// whatever interval was previously in effect. interval <= 0 falls
// back to the container's configured default.
func (c *Container) Play(interval time.Duration) {
	if interval <= 0 {
		interval = c.cfg.AutoAdvanceInterval
	}
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()
	c.interval = interval
	c.autoAdvance = true
}

// StopAuto halts the auto-advance ticker; manual Step calls remain
// legal.
func (c *Container) StopAuto() {
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()
	c.autoAdvance = false
}

func (c *Container) currentInterval() time.Duration {
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()
	return c.interval
}

func (c *Container) autoAdvanceEnabled() bool {
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()
	return c.autoAdvance
}

func (c *Container) run(ctx context.Context) {
	defer close(c.done)
	timer := time.NewTimer(c.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if c.autoAdvanceEnabled() {
				c.tickOnce()
			}
			timer.Reset(c.currentInterval())
		case <-c.stepOnce:
			c.tickOnce()
		}
	}
}

func (c *Container) tickOnce() {
	if c.State() != Running {
		return
	}
	start := time.Now()
	c.mu.RLock()
	matches := make([]*match.Match, 0, len(c.matches))
	for _, m := range c.matches {
		matches = append(matches, m)
	}
	c.mu.RUnlock()

	systems := c.modules.Systems()
	for _, m := range matches {
		for _, cmd := range m.Commands.DrainAll() {
			decl, ok := c.modules.Command(cmd.Module, cmd.Name)
			if !ok {
				c.logger.Warn("unknown command", "module", cmd.Module, "command", cmd.Name, "match_id", m.ID)
				continue
			}
			entity, _ := m.EntityRange(cmd.PlayerID)
			if err := decl.Execute(module.NewView(m.Store, decl.Grants), entity, cmd.Args); err != nil {
				c.logger.Warn("command execution failed", "module", cmd.Module, "command", cmd.Name, "error", err)
				if c.metrics != nil {
					c.metrics.CommandExecErrors.Inc()
				}
			}
		}
		for _, sys := range systems {
			if err := sys.Tick(module.NewView(m.Store, sys.Grants)); err != nil {
				c.logger.Warn("system tick failed", "system", sys.Name, "match_id", m.ID, "error", err)
			}
		}
		m.Store.Sweep()
		m.Advance()
	}
	if c.metrics != nil {
		c.metrics.TicksTotal.Inc()
		c.metrics.TickLatency.Observe(time.Since(start).Seconds())
	}
}
