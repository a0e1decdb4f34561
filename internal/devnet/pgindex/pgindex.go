// Package pgindex provides a PostgreSQL-backed filetree index for the
// devnet.
package pgindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/devnet"
	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS filetree_nodes (
	ulid        TEXT PRIMARY KEY,
	parent_ulid TEXT NOT NULL DEFAULT '',
	owner       TEXT NOT NULL,
	name        TEXT NOT NULL,
	is_dir      BOOLEAN NOT NULL DEFAULT FALSE,
	size        BIGINT NOT NULL DEFAULT 0,
	merkle      TEXT NOT NULL DEFAULT '',
	start       BIGINT NOT NULL DEFAULT 0,
	ref_index   INTEGER NOT NULL DEFAULT 0,
	file_key    BYTEA,
	viewers     TEXT[] NOT NULL DEFAULT '{}',
	mod_time    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS filetree_nodes_parent ON filetree_nodes (parent_ulid);
CREATE INDEX IF NOT EXISTS filetree_nodes_owner ON filetree_nodes (owner);
CREATE INDEX IF NOT EXISTS filetree_nodes_merkle ON filetree_nodes (merkle);
CREATE INDEX IF NOT EXISTS filetree_nodes_viewers ON filetree_nodes USING GIN (viewers);
`

const columns = `ulid, parent_ulid, owner, name, is_dir, size, merkle, start, ref_index, file_key, viewers, mod_time`

// Store is a PostgreSQL filetree index.
type Store struct {
	db *sql.DB
}

// New opens the database and checks the connection.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the filetree table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	logging.Info("running filetree index migration")
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate filetree index: %w", err)
	}
	return nil
}

func observe(query string, start time.Time) {
	metrics.RecordDBQuery(query, time.Since(start))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (devnet.Node, error) {
	var n devnet.Node
	var viewers pq.StringArray
	if err := row.Scan(&n.ULID, &n.ParentULID, &n.Owner, &n.Name, &n.IsDir, &n.Size,
		&n.Merkle, &n.Start, &n.RefIndex, &n.Key, &viewers, &n.ModTime); err != nil {
		return devnet.Node{}, err
	}
	if len(viewers) > 0 {
		n.Viewers = []string(viewers)
	}
	return n, nil
}

func (s *Store) queryNodes(ctx context.Context, name, query string, args ...any) ([]devnet.Node, error) {
	defer observe(name, time.Now())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var out []devnet.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", name, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Put inserts or replaces a node.
func (s *Store) Put(ctx context.Context, n devnet.Node) error {
	defer observe("put_node", time.Now())

	if n.ULID == "" {
		return fmt.Errorf("put node: empty ulid")
	}
	if n.ModTime.IsZero() {
		n.ModTime = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filetree_nodes (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ulid) DO UPDATE SET
			parent_ulid = EXCLUDED.parent_ulid,
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			is_dir = EXCLUDED.is_dir,
			size = EXCLUDED.size,
			merkle = EXCLUDED.merkle,
			start = EXCLUDED.start,
			ref_index = EXCLUDED.ref_index,
			file_key = EXCLUDED.file_key,
			viewers = EXCLUDED.viewers,
			mod_time = EXCLUDED.mod_time`,
		n.ULID, n.ParentULID, n.Owner, n.Name, n.IsDir, n.Size,
		n.Merkle, n.Start, n.RefIndex, n.Key, pq.Array(n.Viewers), n.ModTime)
	if err != nil {
		return fmt.Errorf("put node %s: %w", n.ULID, err)
	}
	return nil
}

// Get returns a node by identifier.
func (s *Store) Get(ctx context.Context, ulid string) (devnet.Node, error) {
	defer observe("get_node", time.Now())

	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM filetree_nodes WHERE ulid = $1`, ulid))
	if errors.Is(err, sql.ErrNoRows) {
		return devnet.Node{}, fmt.Errorf("node %s: %w", ulid, devnet.ErrNodeNotFound)
	}
	if err != nil {
		return devnet.Node{}, fmt.Errorf("get node %s: %w", ulid, err)
	}
	return n, nil
}

// Root returns the owner's Home folder.
func (s *Store) Root(ctx context.Context, owner string) (devnet.Node, error) {
	defer observe("get_root", time.Now())

	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM filetree_nodes WHERE parent_ulid = '' AND owner = $1 LIMIT 1`, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return devnet.Node{}, fmt.Errorf("root of %s: %w", owner, devnet.ErrNodeNotFound)
	}
	if err != nil {
		return devnet.Node{}, fmt.Errorf("get root of %s: %w", owner, err)
	}
	return n, nil
}

// Children lists direct children ordered by reference slot.
func (s *Store) Children(ctx context.Context, parentULID string) ([]devnet.Node, error) {
	return s.queryNodes(ctx, "list_children",
		`SELECT `+columns+` FROM filetree_nodes WHERE parent_ulid = $1 ORDER BY ref_index, ulid`, parentULID)
}

// Delete removes a node.
func (s *Store) Delete(ctx context.Context, ulid string) error {
	defer observe("delete_node", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM filetree_nodes WHERE ulid = $1`, ulid)
	if err != nil {
		return fmt.Errorf("delete node %s: %w", ulid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", ulid, devnet.ErrNodeNotFound)
	}
	logging.Debug("filetree node deleted", zap.String("ulid", ulid))
	return nil
}

// SharedWith lists files another owner shared with viewer.
func (s *Store) SharedWith(ctx context.Context, viewer string) ([]devnet.Node, error) {
	return s.queryNodes(ctx, "list_shared",
		`SELECT `+columns+` FROM filetree_nodes
		 WHERE NOT is_dir AND owner <> $1 AND $1 = ANY(viewers)
		 ORDER BY ref_index, ulid`, viewer)
}

// FindByMerkle lists files referencing content.
func (s *Store) FindByMerkle(ctx context.Context, merkle string) ([]devnet.Node, error) {
	return s.queryNodes(ctx, "find_by_merkle",
		`SELECT `+columns+` FROM filetree_nodes WHERE NOT is_dir AND merkle = $1 ORDER BY ref_index, ulid`, merkle)
}

var _ devnet.Index = (*Store)(nil)
