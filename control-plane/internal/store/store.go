// Package store provides database access for the control plane.
//
// # Design
//
// The store uses raw SQL with pgx. Each domain area lives in its own file
// (tasks, results, alerts, system variables, users); this file holds the
// pool plumbing and node operations.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/probenet-io/probenet/control-plane/internal/config"
	"github.com/probenet-io/probenet/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// NODES
// =============================================================================

// UpsertNode registers a node or refreshes an existing registration.
// Registration always brings the node online.
func (s *Store) UpsertNode(ctx context.Context, req *types.RegisterRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nodes (agent_id, agent_area, ip_address, hostname, version, status, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'online', NOW(), NOW(), NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			agent_area = EXCLUDED.agent_area,
			ip_address = EXCLUDED.ip_address,
			hostname = EXCLUDED.hostname,
			version = EXCLUDED.version,
			status = 'online',
			last_heartbeat = NOW(),
			updated_at = NOW()
	`, req.AgentID, req.AgentArea, req.IPAddress, req.Hostname, req.Version)
	return err
}

// GetNode retrieves a node by agent id.
func (s *Store) GetNode(ctx context.Context, agentID string) (*types.Node, error) {
	var n types.Node
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, agent_area, ip_address, hostname, status, COALESCE(version, ''), last_heartbeat, created_at, updated_at
		FROM nodes WHERE agent_id = $1
	`, agentID).Scan(
		&n.ID, &n.AgentID, &n.AgentArea, &n.IPAddress, &n.Hostname,
		&n.Status, &n.Version, &n.LastHeartbeat, &n.CreatedAt, &n.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpdateNodeHeartbeat refreshes the heartbeat timestamp and brings the
// node online.
func (s *Store) UpdateNodeHeartbeat(ctx context.Context, agentID, version string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE nodes SET
			last_heartbeat = NOW(),
			status = 'online',
			version = COALESCE(NULLIF($2, ''), version),
			updated_at = NOW()
		WHERE agent_id = $1 AND status <> 'deleted'
	`, agentID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unknown node: %s", agentID)
	}
	return nil
}

// ListNodes returns nodes, optionally filtered by status.
func (s *Store) ListNodes(ctx context.Context, status *types.NodeStatus) ([]types.Node, error) {
	query := `
		SELECT id, agent_id, agent_area, ip_address, hostname, status, COALESCE(version, ''), last_heartbeat, created_at, updated_at
		FROM nodes WHERE status <> 'deleted'`
	args := []any{}
	if status != nil {
		query += ` AND status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY agent_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []types.Node
	for rows.Next() {
		var n types.Node
		if err := rows.Scan(
			&n.ID, &n.AgentID, &n.AgentArea, &n.IPAddress, &n.Hostname,
			&n.Status, &n.Version, &n.LastHeartbeat, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// MarkStaleNodesTimeout flips online nodes whose heartbeat is older than the
// timeout threshold. Returns the number of nodes changed.
func (s *Store) MarkStaleNodesTimeout(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE nodes SET status = 'timeout', updated_at = NOW()
		WHERE status = 'online' AND last_heartbeat < NOW() - INTERVAL '`+config.SQLNodeTimeoutInterval+`'
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
