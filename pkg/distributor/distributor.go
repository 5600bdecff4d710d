// Package distributor implements the module distributor: artifact
// storage keyed by (name, version), fan-out distribution to nodes
// with per-node ack tracking, and scheduled retention GC.
package distributor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/cluster"
)

// Artifact is one uploaded module build.
type Artifact struct {
	Name       string
	Version    string
	Bytes      []byte
	UploadedAt time.Time
}

func key(name, version string) string { return name + "@" + version }

// AckStatus is the per-node outcome of a distribution attempt.
type AckStatus string

const (
	AckPending AckStatus = "PENDING"
	AckOK      AckStatus = "OK"
	AckFailed  AckStatus = "FAILED"
)

// Distribution tracks one distribute-to-fleet operation.
type Distribution struct {
	Name      string
	Version   string
	StartedAt time.Time
	Acks      map[cluster.NodeID]AckStatus
}

// NodeDialer pushes an artifact to a single node and reports whether
// the node accepted it. The proxy package provides the production
// implementation over the node's upstream connection.
type NodeDialer interface {
	PushArtifact(ctx context.Context, node *cluster.Node, artifact Artifact) error
}

// Distributor stores module artifacts and coordinates their
// distribution to the fleet.
type Distributor struct {
	mu            sync.RWMutex
	artifacts     map[string]Artifact
	distributions map[string]*Distribution
	retention     time.Duration
	logger        *slog.Logger
	nodes         cluster.Store
	dialer        NodeDialer
}

// New creates a module distributor. retention is how long an artifact
// version is kept after upload before the GC loop deletes it.
func New(nodes cluster.Store, dialer NodeDialer, retention time.Duration, logger *slog.Logger) *Distributor {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Distributor{
		artifacts:     make(map[string]Artifact),
		distributions: make(map[string]*Distribution),
		retention:     retention,
		logger:        logger,
		nodes:         nodes,
		dialer:        dialer,
	}
}

// Upload stores a new artifact version, rejecting a duplicate
// (name, version) pair.
func (d *Distributor) Upload(a Artifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key(a.Name, a.Version)
	if _, exists := d.artifacts[k]; exists {
		return apierrors.New(apierrors.KindAlreadyExists, fmt.Sprintf("artifact %s already uploaded", k), nil)
	}
	a.UploadedAt = time.Now()
	d.artifacts[k] = a
	return nil
}

// Delete removes one artifact version and its distribution record.
func (d *Distributor) Delete(name, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key(name, version)
	if _, ok := d.artifacts[k]; !ok {
		return apierrors.New(apierrors.KindNotFound, fmt.Sprintf("artifact %s not found", k), nil)
	}
	delete(d.artifacts, k)
	delete(d.distributions, k)
	return nil
}

// List returns every uploaded artifact.
func (d *Distributor) List() []Artifact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Artifact, 0, len(d.artifacts))
	for _, a := range d.artifacts {
		out = append(out, a)
	}
	return out
}

// Distribute pushes an artifact to every node matching capability
// (empty = all nodes), tracking a per-node ack.
func (d *Distributor) Distribute(ctx context.Context, name, version, capability string) (*Distribution, error) {
	d.mu.RLock()
	a, ok := d.artifacts[key(name, version)]
	d.mu.RUnlock()
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, fmt.Sprintf("artifact %s@%s not found", name, version), nil)
	}

	var nodes []*cluster.Node
	var err error
	if capability == "" {
		nodes, err = d.nodes.List(ctx)
	} else {
		nodes, err = d.nodes.ListByCapability(ctx, capability)
	}
	if err != nil {
		return nil, err
	}

	dist := &Distribution{Name: name, Version: version, StartedAt: time.Now(), Acks: make(map[cluster.NodeID]AckStatus, len(nodes))}
	for _, n := range nodes {
		dist.Acks[n.ID] = AckPending
	}

	d.mu.Lock()
	d.distributions[key(name, version)] = dist
	d.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, n := range nodes {
		wg.Add(1)
		go func(n *cluster.Node) {
			defer wg.Done()
			status := AckOK
			if err := d.dialer.PushArtifact(ctx, n, a); err != nil {
				status = AckFailed
				d.logger.Warn("artifact push failed", "node_id", n.ID, "artifact", key(name, version), "error", err)
			}
			mu.Lock()
			dist.Acks[n.ID] = status
			mu.Unlock()
		}(n)
	}
	wg.Wait()

	return dist, nil
}

// Status returns the last distribution tracked for (name, version).
func (d *Distributor) Status(name, version string) (*Distribution, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dist, ok := d.distributions[key(name, version)]
	return dist, ok
}

// RunGC periodically deletes artifact versions older than retention,
// gated by a cron expression (default every hour) via gronx — so
// operators can confine GC runs to low-traffic windows.
func (d *Distributor) RunGC(ctx context.Context, cronExpr string) {
	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	g := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(cronExpr)
			if err != nil || !due {
				continue
			}
			d.gcCycle()
		}
	}
}

func (d *Distributor) gcCycle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-d.retention)
	for k, a := range d.artifacts {
		if a.UploadedAt.Before(cutoff) {
			delete(d.artifacts, k)
			delete(d.distributions, k)
			d.logger.Info("artifact retention GC deleted version", "artifact", k)
		}
	}
}
