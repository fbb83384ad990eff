// Package storage defines the uniform contract both the filesystem and
// relational backends implement: file bytes, the per-batch filename and
// leaf-hash indices, the cached Merkle tree, and the client public-key
// registry. StoreFileAndUpdateTree is the sole mutation entry point;
// everything else is a read.
package storage

import (
	"context"
	"errors"

	"github.com/PanGan21/verifiable-storage/internal/merkle"
)

// ErrNotFound is returned by reads when the requested file or batch does
// not exist; an unknown public key is reported by LoadPublicKey's found
// result instead. Backends wrap it with context via fmt.Errorf("...: %w",
// ErrNotFound) so callers can errors.Is against it.
var ErrNotFound = errors.New("storage: not found")

// Store is the contract the upload and download pipelines are built
// against; it is satisfied by both the filesystem and database backends.
type Store interface {
	// ReadFile returns the raw bytes of filename in (clientID, batchID).
	// Returns an error wrapping ErrNotFound if absent.
	ReadFile(ctx context.Context, clientID, batchID, filename string) ([]byte, error)

	// FileExists reports whether filename is present in the batch.
	FileExists(ctx context.Context, clientID, batchID, filename string) (bool, error)

	// LoadBatchFilenames returns the batch's filename index in
	// byte-lexicographic order. Returns an error wrapping ErrNotFound if
	// the batch has no recorded filenames.
	LoadBatchFilenames(ctx context.Context, clientID, batchID string) ([]string, error)

	// StorePublicKey idempotently upserts a client's Ed25519 public key.
	StorePublicKey(ctx context.Context, clientID string, publicKey []byte) error

	// LoadPublicKey returns a client's registered public key, or
	// (nil, false, nil) if the client is unknown.
	LoadPublicKey(ctx context.Context, clientID string) (publicKey []byte, found bool, err error)

	// LoadMerkleTree returns the cached tree for a batch, or
	// (nil, false, nil) if none has been built yet.
	LoadMerkleTree(ctx context.Context, clientID, batchID string) (tree *merkle.Tree, found bool, err error)

	// StoreFileAndUpdateTree is the sole mutation entry point. It
	// atomically: ensures the batch exists, writes/replaces the file
	// content, inserts filename into the sorted filename index, updates
	// the leaf-hash index entry for filename, rebuilds the tree from the
	// full ordered leaf-hash list, and persists the rebuilt tree. On
	// failure the batch is left exactly as it was before the call.
	StoreFileAndUpdateTree(ctx context.Context, clientID, batchID, filename string, content []byte) error

	// ListClientIDs returns every registered client_id. This is an
	// operational/tooling method; the download authentication path never
	// calls it — clients are looked up by the client_id they supply, not
	// by trying every registered key against the signature.
	ListClientIDs(ctx context.Context) ([]string, error)

	// Health reports whether the backend is reachable and ready to serve
	// requests.
	Health(ctx context.Context) error

	// Close releases any resources (connections, file handles) held by
	// the backend.
	Close() error
}
