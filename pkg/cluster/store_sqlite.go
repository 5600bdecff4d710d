// SQLite-backed durable node store, for single-node control plane
// deployments that don't need Postgres-grade HA.
package cluster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGo
)

// SQLiteStore implements Store with SQLite persistence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed node
// store at dbPath. Use ":memory:" for ephemeral testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL DEFAULT '',
		labels TEXT NOT NULL DEFAULT '{}',
		capabilities TEXT NOT NULL DEFAULT '[]',
		health TEXT NOT NULL DEFAULT 'HEALTHY',
		resources TEXT NOT NULL DEFAULT '{}',
		max_containers INTEGER NOT NULL DEFAULT 0,
		container_count INTEGER NOT NULL DEFAULT 0,
		match_count INTEGER NOT NULL DEFAULT 0,
		registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_heartbeat_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *SQLiteStore) Register(ctx context.Context, n *Node) error {
	labels, _ := json.Marshal(n.Labels)
	caps, _ := json.Marshal(n.Capabilities)
	resources, _ := json.Marshal(n.Resources)
	_, err := s.db.ExecContext(ctx, `INSERT INTO nodes
		(id, address, labels, capabilities, health, resources, max_containers, container_count, match_count, registered_at, last_heartbeat_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET address=excluded.address, labels=excluded.labels,
			capabilities=excluded.capabilities, health=excluded.health, resources=excluded.resources,
			max_containers=excluded.max_containers`,
		n.ID, n.Address, string(labels), string(caps), string(n.Health), string(resources),
		n.MaxContainers, n.ContainerCount, n.MatchCount, n.RegisteredAt, n.LastHeartbeatAt)
	return err
}

func (s *SQLiteStore) Deregister(ctx context.Context, id NodeID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) UpdateHealth(ctx context.Context, id NodeID, h Health) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET health = ? WHERE id = ?`, string(h), id)
	return err
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, id NodeID, res Resources) error {
	resources, _ := json.Marshal(res)
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET resources = ?, last_heartbeat_at = ?,
		health = CASE WHEN health = 'UNHEALTHY' THEN 'HEALTHY' ELSE health END
		WHERE id = ?`, string(resources), time.Now(), id)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id NodeID) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, address, labels, capabilities, health, resources,
		max_containers, container_count, match_count, registered_at, last_heartbeat_at FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, address, labels, capabilities, health, resources,
		max_containers, container_count, match_count, registered_at, last_heartbeat_at FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *SQLiteStore) ListByLabel(ctx context.Context, key, value string) ([]*Node, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Node
	for _, n := range all {
		if n.Labels[key] == value {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *SQLiteStore) ListByCapability(ctx context.Context, capability string) ([]*Node, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Node
	for _, n := range all {
		for _, c := range n.Capabilities {
			if c == capability {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var labels, caps, resources string
	if err := row.Scan(&n.ID, &n.Address, &labels, &caps, &n.Health, &resources,
		&n.MaxContainers, &n.ContainerCount, &n.MatchCount, &n.RegisteredAt, &n.LastHeartbeatAt); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(labels), &n.Labels)
	json.Unmarshal([]byte(caps), &n.Capabilities)
	json.Unmarshal([]byte(resources), &n.Resources)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
