// Package database implements the storage.Store contract over PostgreSQL:
// clients/batches/files/leaf_hashes/merkle_trees tables, a single
// transaction per append, and SELECT ... FOR UPDATE row locking to
// serialize concurrent appends to the same batch. Connection establishment
// retries with bounded exponential backoff so the server can start before
// the database is fully up.
package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/merkle"
	"github.com/PanGan21/verifiable-storage/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Backend stores batches in PostgreSQL.
type Backend struct {
	db *sql.DB
}

// Open connects to dsn, retrying with bounded exponential backoff (5
// attempts, 1s initial delay, doubling) before giving up, then runs the
// embedded schema migrations.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	var db *sql.DB

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(1*time.Second),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
	), 4)

	connect := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		conn, err := sql.Open("postgres", dsn)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("opening connection: %w", err))
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			conn.Close()
			return fmt.Errorf("pinging database: %w", err)
		}
		db = conn
		return nil
	}

	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("database: connecting: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Println("[Storage] PostgreSQL connection established")

	b := &Backend{db: db}
	if err := b.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: running migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) runMigrations(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var exists bool
		if err := b.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction for migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		log.Printf("[Storage] applied migration %s", name)
	}
	return nil
}

// ReadFile implements storage.Store.
func (b *Backend) ReadFile(ctx context.Context, clientID, batchID, filename string) ([]byte, error) {
	var content []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT content FROM files WHERE client_id = $1 AND batch_id = $2 AND filename = $3`,
		clientID, batchID, filename,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("database: read %s/%s/%s: %w", clientID, batchID, filename, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: read %s/%s/%s: %w", clientID, batchID, filename, err)
	}
	return content, nil
}

// FileExists implements storage.Store.
func (b *Backend) FileExists(ctx context.Context, clientID, batchID, filename string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE client_id = $1 AND batch_id = $2 AND filename = $3)`,
		clientID, batchID, filename,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("database: checking file existence: %w", err)
	}
	return exists, nil
}

// LoadBatchFilenames implements storage.Store.
func (b *Backend) LoadBatchFilenames(ctx context.Context, clientID, batchID string) ([]string, error) {
	var batchExists bool
	if err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM batches WHERE client_id = $1 AND batch_id = $2)`,
		clientID, batchID,
	).Scan(&batchExists); err != nil {
		return nil, fmt.Errorf("database: checking batch existence: %w", err)
	}
	if !batchExists {
		return nil, fmt.Errorf("database: batch %s/%s: %w", clientID, batchID, storage.ErrNotFound)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT filename FROM files WHERE client_id = $1 AND batch_id = $2 ORDER BY filename`,
		clientID, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("database: loading filenames: %w", err)
	}
	defer rows.Close()

	var filenames []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("database: scanning filename: %w", err)
		}
		filenames = append(filenames, f)
	}
	return filenames, rows.Err()
}

// StorePublicKey implements storage.Store.
func (b *Backend) StorePublicKey(ctx context.Context, clientID string, publicKey []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO clients (client_id, public_key) VALUES ($1, $2)
		ON CONFLICT (client_id) DO UPDATE SET public_key = EXCLUDED.public_key
	`, clientID, publicKey)
	if err != nil {
		return fmt.Errorf("database: storing public key: %w", err)
	}
	return nil
}

// LoadPublicKey implements storage.Store.
func (b *Backend) LoadPublicKey(ctx context.Context, clientID string) ([]byte, bool, error) {
	var publicKey []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT public_key FROM clients WHERE client_id = $1`, clientID,
	).Scan(&publicKey)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("database: loading public key: %w", err)
	}
	return publicKey, true, nil
}

// LoadMerkleTree implements storage.Store.
func (b *Backend) LoadMerkleTree(ctx context.Context, clientID, batchID string) (*merkle.Tree, bool, error) {
	var treeJSON string
	err := b.db.QueryRowContext(ctx,
		`SELECT tree_json FROM merkle_trees WHERE client_id = $1 AND batch_id = $2`,
		clientID, batchID,
	).Scan(&treeJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("database: loading tree: %w", err)
	}

	var serialized merkle.SerializedTree
	if err := json.Unmarshal([]byte(treeJSON), &serialized); err != nil {
		return nil, false, fmt.Errorf("database: parsing tree: %w", err)
	}
	tree, err := merkle.Deserialize(serialized)
	if err != nil {
		return nil, false, fmt.Errorf("database: deserializing tree: %w", err)
	}
	return tree, true, nil
}

// StoreFileAndUpdateTree implements storage.Store. The whole update runs
// in one transaction; an advisory lock scoped to (clientID, batchID)
// serializes concurrent appends to the same batch so the rebuilt tree
// always reflects a consistent leaf-hash snapshot.
func (b *Backend) StoreFileAndUpdateTree(ctx context.Context, clientID, batchID, filename string, content []byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, clientID+"/"+batchID); err != nil {
		return fmt.Errorf("database: acquiring batch lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches (client_id, batch_id) VALUES ($1, $2)
		ON CONFLICT (client_id, batch_id) DO NOTHING
	`, clientID, batchID); err != nil {
		return fmt.Errorf("database: ensuring batch row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (client_id, batch_id, filename, content) VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, batch_id, filename) DO UPDATE SET content = EXCLUDED.content
	`, clientID, batchID, filename, content); err != nil {
		return fmt.Errorf("database: writing file content: %w", err)
	}

	leaf := hashing.LeafHash(content)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO leaf_hashes (client_id, batch_id, filename, leaf_hash) VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, batch_id, filename) DO UPDATE SET leaf_hash = EXCLUDED.leaf_hash
	`, clientID, batchID, filename, hashing.HexEncode(leaf)); err != nil {
		return fmt.Errorf("database: writing leaf hash: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT filename, leaf_hash FROM leaf_hashes
		WHERE client_id = $1 AND batch_id = $2
		ORDER BY filename
		FOR UPDATE
	`, clientID, batchID)
	if err != nil {
		return fmt.Errorf("database: locking leaf hashes: %w", err)
	}

	var leaves []merkle.Hash
	for rows.Next() {
		var fname, hexHash string
		if err := rows.Scan(&fname, &hexHash); err != nil {
			rows.Close()
			return fmt.Errorf("database: scanning leaf hash: %w", err)
		}
		h, err := hashing.HexDecode(hexHash)
		if err != nil {
			rows.Close()
			return fmt.Errorf("database: decoding leaf hash for %s: %w", fname, err)
		}
		leaves = append(leaves, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("database: iterating leaf hashes: %w", err)
	}
	rows.Close()

	tree, err := merkle.FromLeafHashes(leaves, hashing.PairHash)
	if err != nil {
		return fmt.Errorf("database: building tree: %w", err)
	}

	treeBytes, err := json.Marshal(merkle.Serialize(tree))
	if err != nil {
		return fmt.Errorf("database: marshaling tree: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO merkle_trees (client_id, batch_id, tree_json) VALUES ($1, $2, $3)
		ON CONFLICT (client_id, batch_id) DO UPDATE SET tree_json = EXCLUDED.tree_json
	`, clientID, batchID, string(treeBytes)); err != nil {
		return fmt.Errorf("database: writing tree: %w", err)
	}

	return tx.Commit()
}

// ListClientIDs implements storage.Store.
func (b *Backend) ListClientIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT client_id FROM clients ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("database: listing clients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("database: scanning client id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Health implements storage.Store.
func (b *Backend) Health(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: health check failed: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (b *Backend) Close() error {
	return b.db.Close()
}
