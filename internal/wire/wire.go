// Package wire defines the HTTP request/response shapes shared by the
// upload and download pipelines, and the filename/timestamp validation
// rules both sides of the protocol must agree on.
package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
)

const (
	// MaxFilenameLen is the maximum length of a filename or batch_id field.
	MaxFilenameLen = 255
	// MaxUploadBytes is the hard cap on a single uploaded file's size.
	MaxUploadBytes = 10 * 1024 * 1024

	// ReplayMaxAge is how far in the past a request timestamp may be.
	ReplayMaxAge = 300 * time.Second
	// ReplayClockSkew is how far in the future a request timestamp may be.
	ReplayClockSkew = 60 * time.Second
)

var (
	ErrFilenameEmpty       = errors.New("wire: filename must not be empty")
	ErrFilenameTooLong     = errors.New("wire: filename exceeds 255 characters")
	ErrFilenameNullByte    = errors.New("wire: filename must not contain a null byte")
	ErrFilenameSeparator   = errors.New("wire: filename must not contain a path separator")
	ErrFilenameDotOrDotDot = errors.New("wire: filename must not be '.' or '..'")
	ErrFilenameNotFlat     = errors.New("wire: filename must be a single path component")

	ErrFileHashLength  = errors.New("wire: file_hash must be exactly 64 hex characters")
	ErrSignatureLength = errors.New("wire: signature must be exactly 128 hex characters")
	ErrPublicKeyLength = errors.New("wire: public_key must be exactly 64 hex characters")
)

// ValidateFilename enforces: non-empty, <=255 chars, no NUL, no '/' or '\',
// not "." or "..", and its last path component must equal itself (i.e. it
// names exactly one flat component, not a nested path).
func ValidateFilename(name string) error {
	if name == "" {
		return ErrFilenameEmpty
	}
	if len(name) > MaxFilenameLen {
		return ErrFilenameTooLong
	}
	if strings.ContainsRune(name, 0) {
		return ErrFilenameNullByte
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrFilenameSeparator
	}
	if name == "." || name == ".." {
		return ErrFilenameDotOrDotDot
	}
	if filepath.Base(filepath.ToSlash(name)) != name {
		return ErrFilenameNotFlat
	}
	return nil
}

// ValidateBatchID applies the same non-empty/length bound the filename
// field uses; batch identifiers are caller-chosen opaque strings.
func ValidateBatchID(id string) error {
	if id == "" {
		return errors.New("wire: batch_id must not be empty")
	}
	if len(id) > MaxFilenameLen {
		return errors.New("wire: batch_id exceeds 255 characters")
	}
	return nil
}

// ValidateFileHash checks that s is exactly a 64-character hex string (the
// hex encoding of a 32-byte SHA-256 digest), rejecting a malformed-length
// field as a validation failure rather than letting it reach the integrity
// or signature checks downstream.
func ValidateFileHash(s string) error {
	if len(s) != hashing.HashSize*2 {
		return ErrFileHashLength
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("wire: invalid file_hash encoding: %w", err)
	}
	return nil
}

// ValidateSignatureHex checks that s is exactly a 128-character hex string
// decoding to a 64-byte Ed25519 signature, and returns the decoded bytes.
func ValidateSignatureHex(s string) ([]byte, error) {
	if len(s) != hashing.SignatureSize*2 {
		return nil, ErrSignatureLength
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid signature encoding: %w", err)
	}
	return hashing.ParseSignature(decoded)
}

// ValidatePublicKeyHex checks that s is exactly a 64-character hex string
// decoding to a 32-byte Ed25519 public key, and returns the decoded bytes.
func ValidatePublicKeyHex(s string) ([]byte, error) {
	if len(s) != hashing.PublicKeySize*2 {
		return nil, ErrPublicKeyLength
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid public_key encoding: %w", err)
	}
	pub, err := hashing.ParsePublicKey(decoded)
	if err != nil {
		return nil, err
	}
	return []byte(pub), nil
}

// NowMillis returns the current time as unsigned milliseconds since the
// Unix epoch.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// WithinReplayWindow checks a request timestamp (ms since epoch) against
// now using saturating arithmetic, so a timestamp older than the epoch
// never underflows into acceptance.
func WithinReplayWindow(reqMillis, nowMillis uint64) bool {
	if reqMillis > nowMillis {
		return reqMillis-nowMillis <= uint64(ReplayClockSkew.Milliseconds())
	}
	return nowMillis-reqMillis <= uint64(ReplayMaxAge.Milliseconds())
}

// UploadForm carries the parsed multipart fields of an upload request
// before any validation has run.
type UploadForm struct {
	Filename  string
	BatchID   string
	FileHash  string // 64 hex chars
	Signature string // 128 hex chars
	Timestamp uint64
	PublicKey string // 64 hex chars
	Content   []byte
}

// DownloadQuery carries the parsed query parameters of a download request.
type DownloadQuery struct {
	Filename  string
	BatchID   string
	Signature string
	Timestamp uint64
	ClientID  string
}

// DownloadResponse is the JSON body returned by GET /download.
type DownloadResponse struct {
	Filename    string          `json:"filename"`
	FileHash    string          `json:"file_hash"`
	FileContent string          `json:"file_content"`
	MerkleProof []ProofNodeJSON `json:"merkle_proof"`
}

// ProofNodeJSON is one sibling hash entry in a wire-format Merkle proof.
type ProofNodeJSON struct {
	Hash   string `json:"hash"`
	IsLeft bool   `json:"is_left"`
}

// HealthResponse is the JSON body returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
