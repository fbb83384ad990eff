// Package filesystem implements the storage.Store contract over a plain
// directory tree:
//
//	<data_dir>/<client_id>/public_key.hex
//	<data_dir>/<client_id>/<batch_id>/<filename>
//	<data_dir>/<client_id>/<batch_id>/metadata.json     {"filenames": [...]}
//	<data_dir>/<client_id>/<batch_id>/leaf_hashes.json  {filename: hex32}
//	<data_dir>/<client_id>/<batch_id>/merkle_tree.json  {root,leaves,levels}
//	<data_dir>/<client_id>/<batch_id>/.lock             empty lock file
//
// The mutating operation holds an exclusive advisory flock(2) on .lock for
// its whole duration; every write syncs to disk before the lock is
// released, so concurrent readers see either the pre- or post-update state
// in full, never a partial mix.
package filesystem

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/merkle"
	"github.com/PanGan21/verifiable-storage/internal/storage"
)

const (
	publicKeyFile = "public_key.hex"
	metadataFile  = "metadata.json"
	leafHashFile  = "leaf_hashes.json"
	treeFile      = "merkle_tree.json"
	lockFile      = ".lock"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Backend stores batches as plain files under a root data directory.
type Backend struct {
	dataDir string
}

// New returns a filesystem-backed Store rooted at dataDir, creating the
// directory if it does not already exist.
func New(dataDir string) (*Backend, error) {
	if err := os.MkdirAll(dataDir, dirPerm); err != nil {
		return nil, fmt.Errorf("filesystem: creating data dir: %w", err)
	}
	return &Backend{dataDir: dataDir}, nil
}

func (b *Backend) clientDir(clientID string) string {
	return filepath.Join(b.dataDir, clientID)
}

func (b *Backend) batchDir(clientID, batchID string) string {
	return filepath.Join(b.clientDir(clientID), batchID)
}

type metadataDoc struct {
	Filenames []string `json:"filenames"`
}

type leafHashDoc map[string]string

// ReadFile implements storage.Store.
func (b *Backend) ReadFile(_ context.Context, clientID, batchID, filename string) ([]byte, error) {
	path := filepath.Join(b.batchDir(clientID, batchID), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("filesystem: read %s/%s/%s: %w", clientID, batchID, filename, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("filesystem: read %s/%s/%s: %w", clientID, batchID, filename, err)
	}
	return data, nil
}

// FileExists implements storage.Store.
func (b *Backend) FileExists(_ context.Context, clientID, batchID, filename string) (bool, error) {
	path := filepath.Join(b.batchDir(clientID, batchID), filename)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("filesystem: stat %s: %w", path, err)
}

// LoadBatchFilenames implements storage.Store.
func (b *Backend) LoadBatchFilenames(_ context.Context, clientID, batchID string) ([]string, error) {
	meta, err := b.readMetadata(clientID, batchID)
	if err != nil {
		return nil, err
	}
	return meta.Filenames, nil
}

func (b *Backend) readMetadata(clientID, batchID string) (metadataDoc, error) {
	path := filepath.Join(b.batchDir(clientID, batchID), metadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return metadataDoc{}, fmt.Errorf("filesystem: batch %s/%s: %w", clientID, batchID, storage.ErrNotFound)
		}
		return metadataDoc{}, fmt.Errorf("filesystem: reading metadata: %w", err)
	}
	var meta metadataDoc
	if err := json.Unmarshal(data, &meta); err != nil {
		return metadataDoc{}, fmt.Errorf("filesystem: parsing metadata: %w", err)
	}
	return meta, nil
}

// StorePublicKey implements storage.Store.
func (b *Backend) StorePublicKey(_ context.Context, clientID string, publicKey []byte) error {
	dir := b.clientDir(clientID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("filesystem: creating client dir: %w", err)
	}
	if err := writeFileSynced(filepath.Join(dir, publicKeyFile), []byte(hex.EncodeToString(publicKey))); err != nil {
		return fmt.Errorf("filesystem: storing public key: %w", err)
	}
	return nil
}

// LoadPublicKey implements storage.Store.
func (b *Backend) LoadPublicKey(_ context.Context, clientID string) ([]byte, bool, error) {
	path := filepath.Join(b.clientDir(clientID), publicKeyFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filesystem: reading public key: %w", err)
	}
	pk, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, false, fmt.Errorf("filesystem: decoding public key: %w", err)
	}
	return pk, true, nil
}

// LoadMerkleTree implements storage.Store.
func (b *Backend) LoadMerkleTree(_ context.Context, clientID, batchID string) (*merkle.Tree, bool, error) {
	path := filepath.Join(b.batchDir(clientID, batchID), treeFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filesystem: reading tree: %w", err)
	}
	var serialized merkle.SerializedTree
	if err := json.Unmarshal(data, &serialized); err != nil {
		return nil, false, fmt.Errorf("filesystem: parsing tree: %w", err)
	}
	tree, err := merkle.Deserialize(serialized)
	if err != nil {
		return nil, false, fmt.Errorf("filesystem: deserializing tree: %w", err)
	}
	return tree, true, nil
}

// StoreFileAndUpdateTree implements storage.Store. It holds an exclusive
// flock(2) on the batch's .lock file for the whole operation; every
// component write (file content, metadata, leaf hashes, tree) is synced to
// disk before the lock is released, so a reader racing this call observes
// either the fully old or fully new state.
func (b *Backend) StoreFileAndUpdateTree(_ context.Context, clientID, batchID, filename string, content []byte) error {
	dir := b.batchDir(clientID, batchID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("filesystem: creating batch dir: %w", err)
	}

	unlock, err := lockBatch(dir)
	if err != nil {
		return fmt.Errorf("filesystem: acquiring batch lock: %w", err)
	}
	defer unlock()

	if err := writeFileSynced(filepath.Join(dir, filename), content); err != nil {
		return fmt.Errorf("filesystem: writing file content: %w", err)
	}

	meta, err := b.readMetadataLocked(dir)
	if err != nil {
		return err
	}
	meta.Filenames = insertSorted(meta.Filenames, filename)

	leafHashes, err := b.readLeafHashesLocked(dir)
	if err != nil {
		return err
	}
	leaf := hashing.LeafHash(content)
	leafHashes[filename] = hex.EncodeToString(leaf[:])

	leaves := make([]merkle.Hash, len(meta.Filenames))
	for i, f := range meta.Filenames {
		h, err := hashing.HexDecode(leafHashes[f])
		if err != nil {
			return fmt.Errorf("filesystem: decoding leaf hash for %s: %w", f, err)
		}
		leaves[i] = h
	}
	tree, err := merkle.FromLeafHashes(leaves, pairHash)
	if err != nil {
		return fmt.Errorf("filesystem: building tree: %w", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("filesystem: marshaling metadata: %w", err)
	}
	if err := writeFileSynced(filepath.Join(dir, metadataFile), metaBytes); err != nil {
		return fmt.Errorf("filesystem: writing metadata: %w", err)
	}

	leafBytes, err := json.Marshal(leafHashes)
	if err != nil {
		return fmt.Errorf("filesystem: marshaling leaf hashes: %w", err)
	}
	if err := writeFileSynced(filepath.Join(dir, leafHashFile), leafBytes); err != nil {
		return fmt.Errorf("filesystem: writing leaf hashes: %w", err)
	}

	treeBytes, err := json.Marshal(merkle.Serialize(tree))
	if err != nil {
		return fmt.Errorf("filesystem: marshaling tree: %w", err)
	}
	if err := writeFileSynced(filepath.Join(dir, treeFile), treeBytes); err != nil {
		return fmt.Errorf("filesystem: writing tree: %w", err)
	}

	return nil
}

func (b *Backend) readMetadataLocked(dir string) (metadataDoc, error) {
	path := filepath.Join(dir, metadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return metadataDoc{}, nil
		}
		return metadataDoc{}, fmt.Errorf("filesystem: reading metadata: %w", err)
	}
	var meta metadataDoc
	if err := json.Unmarshal(data, &meta); err != nil {
		return metadataDoc{}, fmt.Errorf("filesystem: parsing metadata: %w", err)
	}
	return meta, nil
}

func (b *Backend) readLeafHashesLocked(dir string) (leafHashDoc, error) {
	path := filepath.Join(dir, leafHashFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return leafHashDoc{}, nil
		}
		return leafHashDoc{}, fmt.Errorf("filesystem: reading leaf hashes: %w", err)
	}
	doc := leafHashDoc{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return leafHashDoc{}, fmt.Errorf("filesystem: parsing leaf hashes: %w", err)
	}
	return doc, nil
}

// ListClientIDs implements storage.Store.
func (b *Backend) ListClientIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filesystem: listing clients: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Health implements storage.Store: the filesystem backend reports healthy
// whenever its data directory is present and writable.
func (b *Backend) Health(_ context.Context) error {
	probe := filepath.Join(b.dataDir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), filePerm); err != nil {
		return fmt.Errorf("filesystem: data dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// Close implements storage.Store; the filesystem backend holds no
// persistent handles to release.
func (b *Backend) Close() error { return nil }

func insertSorted(filenames []string, filename string) []string {
	idx := sort.SearchStrings(filenames, filename)
	if idx < len(filenames) && filenames[idx] == filename {
		return filenames
	}
	out := make([]string, len(filenames)+1)
	copy(out, filenames[:idx])
	out[idx] = filename
	copy(out[idx+1:], filenames[idx:])
	return out
}

func pairHash(a, b merkle.Hash) merkle.Hash {
	return hashing.PairHash(a, b)
}

// writeFileSynced writes data to a temporary file beside path, syncs it, and
// renames it over path, so a reader sees either the old file or the new one
// in full.
func writeFileSynced(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := f.Chmod(filePerm); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// lockBatch acquires an exclusive advisory flock(2) on dir/.lock, blocking
// until it is available. The returned func releases it.
func lockBatch(dir string) (func(), error) {
	path := filepath.Join(dir, lockFile)
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX); err != nil {
		fd.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return func() {
		unix.Flock(int(fd.Fd()), unix.LOCK_UN)
		fd.Close()
	}, nil
}
