// Postgres-backed durable node store, for multi-instance HA control
// plane deployments where the registry must be shared across
// replicas.
package cluster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds connection parameters for PostgresStore.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslMode)
}

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and migrates the nodes
// table.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL DEFAULT '',
		labels JSONB NOT NULL DEFAULT '{}',
		capabilities JSONB NOT NULL DEFAULT '[]',
		health TEXT NOT NULL DEFAULT 'HEALTHY',
		resources JSONB NOT NULL DEFAULT '{}',
		max_containers INTEGER NOT NULL DEFAULT 0,
		container_count INTEGER NOT NULL DEFAULT 0,
		match_count INTEGER NOT NULL DEFAULT 0,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (s *PostgresStore) Register(ctx context.Context, n *Node) error {
	labels, _ := json.Marshal(n.Labels)
	caps, _ := json.Marshal(n.Capabilities)
	resources, _ := json.Marshal(n.Resources)
	_, err := s.db.ExecContext(ctx, `INSERT INTO nodes
		(id, address, labels, capabilities, health, resources, max_containers, container_count, match_count, registered_at, last_heartbeat_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET address=excluded.address, labels=excluded.labels,
			capabilities=excluded.capabilities, health=excluded.health, resources=excluded.resources,
			max_containers=excluded.max_containers`,
		n.ID, n.Address, labels, caps, string(n.Health), resources,
		n.MaxContainers, n.ContainerCount, n.MatchCount, n.RegisteredAt, n.LastHeartbeatAt)
	return err
}

func (s *PostgresStore) Deregister(ctx context.Context, id NodeID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) UpdateHealth(ctx context.Context, id NodeID, h Health) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET health = $1 WHERE id = $2`, string(h), id)
	return err
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id NodeID, res Resources) error {
	resources, _ := json.Marshal(res)
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET resources = $1, last_heartbeat_at = $2,
		health = CASE WHEN health = 'UNHEALTHY' THEN 'HEALTHY' ELSE health END
		WHERE id = $3`, resources, time.Now(), id)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id NodeID) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, address, labels, capabilities, health, resources,
		max_containers, container_count, match_count, registered_at, last_heartbeat_at FROM nodes WHERE id = $1`, id)
	return scanNode(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, address, labels, capabilities, health, resources,
		max_containers, container_count, match_count, registered_at, last_heartbeat_at FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *PostgresStore) ListByLabel(ctx context.Context, key, value string) ([]*Node, error) {
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

func (s *PostgresStore) ListByCapability(ctx context.Context, capability string) ([]*Node, error) {
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
