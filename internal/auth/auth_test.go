package auth_test

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PanGan21/verifiable-storage/internal/auth"
	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/storage/filesystem"
)

func newService(t *testing.T) (*auth.Service, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	store, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return auth.NewService(store, 300*time.Second, 60*time.Second), pub, priv
}

func signUpload(priv ed25519.PrivateKey, filename, batchID, fileHashHex string, content []byte, ts uint64) []byte {
	msg := append([]byte{}, filename...)
	msg = append(msg, batchID...)
	msg = append(msg, fileHashHex...)
	msg = append(msg, content...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	return hashing.Sign(priv, msg)
}

func signDownload(priv ed25519.PrivateKey, filename, batchID string, ts uint64) []byte {
	msg := append([]byte{}, filename...)
	msg = append(msg, batchID...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	return hashing.Sign(priv, msg)
}

func TestVerifyUploadRegistersNewClient(t *testing.T) {
	ctx := context.Background()
	svc, pub, priv := newService(t)

	content := []byte("hello")
	leaf := hashing.LeafHash(content)
	fileHash := hashing.HexEncode(leaf)
	now := uint64(time.Now().UnixMilli())
	sig := signUpload(priv, "a.txt", "batch1", fileHash, content, now)

	clientID, err := svc.VerifyUpload(ctx, pub, sig, "a.txt", "batch1", fileHash, content, now)
	require.NoError(t, err)
	require.Equal(t, hashing.ClientID(pub), clientID)
}

func TestVerifyUploadRejectsTamperedSignature(t *testing.T) {
	ctx := context.Background()
	svc, pub, priv := newService(t)

	content := []byte("hello")
	fileHash := hashing.HexEncode(hashing.LeafHash(content))
	now := uint64(time.Now().UnixMilli())
	sig := signUpload(priv, "a.txt", "batch1", fileHash, content, now)
	sig[0] ^= 0xFF

	_, err := svc.VerifyUpload(ctx, pub, sig, "a.txt", "batch1", fileHash, content, now)
	require.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestVerifyUploadRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	svc, pub, priv := newService(t)

	content := []byte("hello")
	fileHash := hashing.HexEncode(hashing.LeafHash(content))
	stale := uint64(time.Now().Add(-400 * time.Second).UnixMilli())
	sig := signUpload(priv, "a.txt", "batch1", fileHash, content, stale)

	_, err := svc.VerifyUpload(ctx, pub, sig, "a.txt", "batch1", fileHash, content, stale)
	require.ErrorIs(t, err, auth.ErrReplay)
}

func TestVerifyDownloadUsesRegisteredKey(t *testing.T) {
	ctx := context.Background()
	svc, pub, priv := newService(t)

	content := []byte("hello")
	fileHash := hashing.HexEncode(hashing.LeafHash(content))
	now := uint64(time.Now().UnixMilli())
	uploadSig := signUpload(priv, "a.txt", "batch1", fileHash, content, now)
	clientID, err := svc.VerifyUpload(ctx, pub, uploadSig, "a.txt", "batch1", fileHash, content, now)
	require.NoError(t, err)

	downloadSig := signDownload(priv, "a.txt", "batch1", now)
	err = svc.VerifyDownload(ctx, clientID, downloadSig, "a.txt", "batch1", now)
	require.NoError(t, err)
}

func TestVerifyDownloadRejectsUnknownClient(t *testing.T) {
	ctx := context.Background()
	svc, _, priv := newService(t)

	now := uint64(time.Now().UnixMilli())
	sig := signDownload(priv, "a.txt", "batch1", now)

	err := svc.VerifyDownload(ctx, "nonexistent-client-id", sig, "a.txt", "batch1", now)
	require.ErrorIs(t, err, auth.ErrUnknownClient)
}
