// Package auth verifies Ed25519-signed upload and download requests and
// auto-registers a client's public key on its first successful upload.
//
// An upload carries its signer's public key and is verified directly; its
// client_id is the deterministic hash of that key (hashing.ClientID), so
// there is nothing to look up before verifying. A download carries only a
// client_id, so its public key is loaded from storage by that id — an O(1)
// lookup. The alternative of trying every registered key against the
// signature (an O(N) scan) is deliberately not implemented: it doesn't
// scale and an attacker who can't produce a valid client_id gains nothing
// by making the server try harder to find one.
package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/storage"
)

var (
	ErrInvalidSignature = errors.New("auth: signature verification failed")
	ErrUnknownClient    = errors.New("auth: unknown client_id")
	ErrReplay           = errors.New("auth: request timestamp outside replay window")
)

// Service verifies request signatures against registered (or, for uploads,
// freshly-registering) client public keys.
type Service struct {
	store     storage.Store
	maxAge    time.Duration
	clockSkew time.Duration
}

// NewService returns a Service that rejects requests whose timestamp is
// older than maxAge or further than clockSkew in the future.
func NewService(store storage.Store, maxAge, clockSkew time.Duration) *Service {
	return &Service{store: store, maxAge: maxAge, clockSkew: clockSkew}
}

// VerifyUpload checks the replay window and Ed25519 signature over the
// canonical upload message (filename || batch_id || file_hash_hex ||
// file_content || big-endian timestamp), and registers publicKey under its
// derived client_id if this is the client's first request.
func (s *Service) VerifyUpload(ctx context.Context, publicKey, signature []byte, filename, batchID, fileHashHex string, content []byte, timestampMillis uint64) (clientID string, err error) {
	if !s.withinWindow(timestampMillis) {
		return "", ErrReplay
	}

	pub, err := hashing.ParsePublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}

	message := uploadMessage(filename, batchID, fileHashHex, content, timestampMillis)
	if !hashing.Verify(pub, message, signature) {
		return "", ErrInvalidSignature
	}

	clientID = hashing.ClientID(pub)

	_, found, err := s.store.LoadPublicKey(ctx, clientID)
	if err != nil {
		return "", fmt.Errorf("auth: checking client registration: %w", err)
	}
	if !found {
		if err := s.store.StorePublicKey(ctx, clientID, pub); err != nil {
			return "", fmt.Errorf("auth: registering client: %w", err)
		}
	}

	return clientID, nil
}

// VerifyDownload checks the replay window and Ed25519 signature over the
// canonical download message (filename || batch_id || big-endian
// timestamp), using the public key already registered under clientID.
func (s *Service) VerifyDownload(ctx context.Context, clientID string, signature []byte, filename, batchID string, timestampMillis uint64) error {
	if !s.withinWindow(timestampMillis) {
		return ErrReplay
	}

	publicKey, found, err := s.store.LoadPublicKey(ctx, clientID)
	if err != nil {
		return fmt.Errorf("auth: loading client key: %w", err)
	}
	if !found {
		return ErrUnknownClient
	}

	pub, err := hashing.ParsePublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("auth: stored key for %s: %w", clientID, err)
	}

	message := downloadMessage(filename, batchID, timestampMillis)
	if !hashing.Verify(pub, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Service) withinWindow(timestampMillis uint64) bool {
	now := uint64(time.Now().UnixMilli())
	if timestampMillis > now {
		return timestampMillis-now <= uint64(s.clockSkew.Milliseconds())
	}
	return now-timestampMillis <= uint64(s.maxAge.Milliseconds())
}

func uploadMessage(filename, batchID, fileHashHex string, content []byte, timestampMillis uint64) []byte {
	msg := make([]byte, 0, len(filename)+len(batchID)+len(fileHashHex)+len(content)+8)
	msg = append(msg, filename...)
	msg = append(msg, batchID...)
	msg = append(msg, fileHashHex...)
	msg = append(msg, content...)
	msg = binary.BigEndian.AppendUint64(msg, timestampMillis)
	return msg
}

func downloadMessage(filename, batchID string, timestampMillis uint64) []byte {
	msg := make([]byte, 0, len(filename)+len(batchID)+8)
	msg = append(msg, filename...)
	msg = append(msg, batchID...)
	msg = binary.BigEndian.AppendUint64(msg, timestampMillis)
	return msg
}
