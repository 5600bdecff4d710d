// Package deploy implements the match deployer: selects the
// least-loaded eligible node for a match and tracks the resulting
// deployment's lifecycle and history.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/cluster"
)

// State is a deployment's lifecycle position.
type State string

const (
	Pending    State = "PENDING"
	Active     State = "ACTIVE"
	Failed     State = "FAILED"
	Undeployed State = "UNDEPLOYED"
)

// Spec requests placement of one match.
type Spec struct {
	MatchID    string
	Modules    []string
	NodeLabels map[string]string // optional placement preference
	Requester  string
}

// Deployment is the result and ongoing record of one placement.
type Deployment struct {
	ID         string
	Spec       Spec
	State      State
	NodeID     cluster.NodeID
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// NodeDeployer installs a match onto the node the Deployer selected.
// The proxy package supplies the production implementation over the
// node's upstream connection.
type NodeDeployer interface {
	DeployMatch(ctx context.Context, node *cluster.Node, spec Spec) error
	UndeployMatch(ctx context.Context, node *cluster.Node, matchID string) error
}

// Deployer selects nodes and tracks match deployment history.
type Deployer struct {
	mu         sync.RWMutex
	nodes      cluster.Store
	node       NodeDeployer
	logger     *slog.Logger
	active     map[string]*Deployment   // matchID -> current
	history    map[string][]*Deployment // matchID -> ring, most recent last
	historyCap int
}

// New creates a match deployer.
func New(nodes cluster.Store, node NodeDeployer, logger *slog.Logger) *Deployer {
	return &Deployer{
		nodes:      nodes,
		node:       node,
		logger:     logger,
		active:     make(map[string]*Deployment),
		history:    make(map[string][]*Deployment),
		historyCap: 20,
	}
}

// SelectNode returns the best-fit healthy node for spec, ordered by
// lowest containers/max_containers fill ratio, then lowest match
// count, then lowest cpu load. NodeLabels, if set, restricts
// candidates to nodes carrying all of them.
func (d *Deployer) SelectNode(ctx context.Context, spec Spec) (*cluster.Node, error) {
	candidates, err := d.nodes.List(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []*cluster.Node
	for _, n := range candidates {
		if n.Health != cluster.Healthy {
			continue
		}
		if n.MaxContainers > 0 && n.ContainerCount >= n.MaxContainers {
			continue
		}
		if !hasAllLabels(n.Labels, spec.NodeLabels) {
			continue
		}
		eligible = append(eligible, n)
	}
	if len(eligible) == 0 {
		return nil, apierrors.New(apierrors.KindUnavailable, "no eligible node for match deployment", map[string]any{"match_id": spec.MatchID})
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.LoadScore() != b.LoadScore() {
			return a.LoadScore() < b.LoadScore()
		}
		if a.MatchCount != b.MatchCount {
			return a.MatchCount < b.MatchCount
		}
		return a.Resources.CPULoad < b.Resources.CPULoad
	})
	return eligible[0], nil
}

func hasAllLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Deploy selects a node and installs the match there, recording the
// outcome in the deployer's active map and per-match history.
func (d *Deployer) Deploy(ctx context.Context, spec Spec) (*Deployment, error) {
	dep := &Deployment{ID: uuid.NewString(), Spec: spec, State: Pending, StartedAt: time.Now()}
	d.record(spec.MatchID, dep)

	node, err := d.SelectNode(ctx, spec)
	if err != nil {
		dep.State = Failed
		dep.Error = err.Error()
		dep.FinishedAt = time.Now()
		return dep, err
	}

	if err := d.node.DeployMatch(ctx, node, spec); err != nil {
		dep.State = Failed
		dep.Error = err.Error()
		dep.FinishedAt = time.Now()
		d.logger.Warn("match deploy failed", "match_id", spec.MatchID, "node_id", node.ID, "error", err)
		return dep, apierrors.Wrap(apierrors.KindUnavailable, "deploy match to node", err, map[string]any{"node_id": string(node.ID)})
	}

	dep.NodeID = node.ID
	dep.State = Active
	dep.FinishedAt = time.Now()
	d.logger.Info("match deployed", "match_id", spec.MatchID, "node_id", node.ID)
	return dep, nil
}

// Undeploy removes a match from its current node.
func (d *Deployer) Undeploy(ctx context.Context, matchID string) error {
	d.mu.RLock()
	dep, ok := d.active[matchID]
	d.mu.RUnlock()
	if !ok || dep.State != Active {
		return apierrors.New(apierrors.KindNotFound, fmt.Sprintf("no active deployment for match %s", matchID), nil)
	}

	node, err := d.nodes.Get(ctx, dep.NodeID)
	if err != nil {
		return err
	}
	if err := d.node.UndeployMatch(ctx, node, matchID); err != nil {
		return apierrors.Wrap(apierrors.KindUnavailable, "undeploy match", err, nil)
	}

	d.mu.Lock()
	dep.State = Undeployed
	dep.FinishedAt = time.Now()
	d.mu.Unlock()
	return nil
}

// Active returns the current deployment for a match, if any.
func (d *Deployer) Active(matchID string) (*Deployment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dep, ok := d.active[matchID]
	return dep, ok
}

// ListActive returns every deployment currently in the ACTIVE state,
// used by the autoscaler to read current match counts per node.
func (d *Deployer) ListActive() []*Deployment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Deployment
	for _, dep := range d.active {
		if dep.State == Active {
			out = append(out, dep)
		}
	}
	return out
}

// History returns the retained deployment history for a match, most
// recent last.
func (d *Deployer) History(matchID string) []*Deployment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Deployment(nil), d.history[matchID]...)
}

func (d *Deployer) record(matchID string, dep *Deployment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[matchID] = dep
	hist := append(d.history[matchID], dep)
	if len(hist) > d.historyCap {
		hist = hist[len(hist)-d.historyCap:]
	}
	d.history[matchID] = hist
}
