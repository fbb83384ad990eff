// Package api wires the upload/download/health HTTP surface onto a
// storage.Store and auth.Service: gorilla/mux routing, a CORS middleware
// applied to every route, and a per-endpoint rate-limit middleware
// wrapping the mutating/expensive routes.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/PanGan21/verifiable-storage/internal/apierr"
	"github.com/PanGan21/verifiable-storage/internal/auth"
	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/merkle"
	"github.com/PanGan21/verifiable-storage/internal/ratelimit"
	"github.com/PanGan21/verifiable-storage/internal/storage"
	"github.com/PanGan21/verifiable-storage/internal/wire"
)

// Server holds the dependencies the HTTP handlers need.
type Server struct {
	store       storage.Store
	authService *auth.Service
	limiter     *ratelimit.Limiter
}

// NewServer returns a Server ready to have its router built with Router().
func NewServer(store storage.Store, authService *auth.Service, limiter *ratelimit.Limiter) *Server {
	return &Server{store: store, authService: authService, limiter: limiter}
}

// Router builds the gorilla/mux router exposing POST /upload, GET
// /download, and GET /health, with CORS applied to every route.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/upload", s.rateLimited("upload", s.handleUpload)).Methods("POST")
	router.HandleFunc("/download", s.rateLimited("download", s.handleDownload)).Methods("GET")

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Allow(r.Context(), endpoint, clientIP(r)); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter()))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		log.Printf("[API] health check failed: %v", err)
		http.Error(w, "storage unhealthy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, wire.HealthResponse{Status: "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, wire.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	form, file, err := parseUploadForm(r)
	if err != nil {
		writeAPIError(w, apierr.Validation("parsing upload form", err))
		return
	}
	defer file.Close()

	content, err := readLimited(file, wire.MaxUploadBytes)
	if err != nil {
		writeAPIError(w, apierr.Validation("reading file content", err))
		return
	}

	if err := wire.ValidateFilename(form.Filename); err != nil {
		writeAPIError(w, apierr.Validation("invalid filename", err))
		return
	}
	if err := wire.ValidateBatchID(form.BatchID); err != nil {
		writeAPIError(w, apierr.Validation("invalid batch_id", err))
		return
	}
	if err := wire.ValidateFileHash(form.FileHash); err != nil {
		writeAPIError(w, apierr.Validation("invalid file_hash", err))
		return
	}
	signature, err := wire.ValidateSignatureHex(form.Signature)
	if err != nil {
		writeAPIError(w, apierr.Validation("invalid signature", err))
		return
	}
	publicKey, err := wire.ValidatePublicKeyHex(form.PublicKey)
	if err != nil {
		writeAPIError(w, apierr.Validation("invalid public_key", err))
		return
	}

	leaf := hashing.LeafHash(content)
	computedHash := hashing.HexEncode(leaf)
	if computedHash != form.FileHash {
		writeAPIError(w, apierr.Integrity("file hash mismatch", nil))
		return
	}

	clientID, err := s.authService.VerifyUpload(r.Context(), publicKey, signature, form.Filename, form.BatchID, form.FileHash, content, form.Timestamp)
	if err != nil {
		writeAPIError(w, apierr.Auth("signature verification failed", err))
		return
	}

	if err := s.store.StoreFileAndUpdateTree(r.Context(), clientID, form.BatchID, form.Filename, content); err != nil {
		writeAPIError(w, apierr.Storage("storing file", err))
		return
	}

	log.Printf("[API] upload ok client=%s batch=%s file=%s", clientID, form.BatchID, form.Filename)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := wire.DownloadQuery{
		Filename:  query.Get("filename"),
		BatchID:   query.Get("batch_id"),
		Signature: query.Get("signature"),
		ClientID:  query.Get("client_id"),
	}

	ts, err := strconv.ParseUint(query.Get("timestamp"), 10, 64)
	if err != nil {
		writeAPIError(w, apierr.Validation("invalid timestamp", err))
		return
	}
	req.Timestamp = ts

	if err := wire.ValidateFilename(req.Filename); err != nil {
		writeAPIError(w, apierr.Validation("invalid filename", err))
		return
	}
	if err := wire.ValidateBatchID(req.BatchID); err != nil {
		writeAPIError(w, apierr.Validation("invalid batch_id", err))
		return
	}

	signature, err := wire.ValidateSignatureHex(req.Signature)
	if err != nil {
		writeAPIError(w, apierr.Validation("invalid signature", err))
		return
	}

	if err := s.authService.VerifyDownload(r.Context(), req.ClientID, signature, req.Filename, req.BatchID, req.Timestamp); err != nil {
		writeAPIError(w, apierr.Auth("signature verification failed", err))
		return
	}

	filenames, err := s.store.LoadBatchFilenames(r.Context(), req.ClientID, req.BatchID)
	if err != nil {
		writeAPIError(w, apierr.NotFound("batch not found", err))
		return
	}

	idx := sort.SearchStrings(filenames, req.Filename)
	if idx >= len(filenames) || filenames[idx] != req.Filename {
		writeAPIError(w, apierr.NotFound("file not found in batch", nil))
		return
	}

	exists, err := s.store.FileExists(r.Context(), req.ClientID, req.BatchID, req.Filename)
	if err != nil {
		writeAPIError(w, apierr.Storage("checking file existence", err))
		return
	}
	if !exists {
		writeAPIError(w, apierr.NotFound("file not found in storage", nil))
		return
	}

	content, err := s.store.ReadFile(r.Context(), req.ClientID, req.BatchID, req.Filename)
	if err != nil {
		writeAPIError(w, apierr.Storage("reading file", err))
		return
	}

	proof, err := s.generateProof(r.Context(), req.ClientID, req.BatchID, filenames, idx)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	leaf := hashing.LeafHash(content)
	resp := wire.DownloadResponse{
		Filename:    req.Filename,
		FileHash:    hashing.HexEncode(leaf),
		FileContent: base64.StdEncoding.EncodeToString(content),
		MerkleProof: proof,
	}
	writeJSON(w, http.StatusOK, resp)
}

// generateProof loads the cached tree for the batch and builds the
// inclusion proof for filenames[leafIndex]. It rejects a tree whose leaf
// count disagrees with the filename index (stale cache) rather than
// return a proof that wouldn't verify.
func (s *Server) generateProof(ctx context.Context, clientID, batchID string, filenames []string, leafIndex int) ([]wire.ProofNodeJSON, error) {
	tree, found, err := s.store.LoadMerkleTree(ctx, clientID, batchID)
	if err != nil {
		return nil, apierr.Storage("loading merkle tree", err)
	}
	if !found {
		return nil, apierr.Tree("no merkle tree recorded for batch", nil)
	}
	if tree.NumLeaves() != len(filenames) {
		return nil, apierr.Tree("merkle tree out of sync with batch filenames", nil)
	}

	proof, err := tree.GenerateProof(leafIndex)
	if err != nil {
		var invalidIdx *merkle.InvalidLeafIndexError
		if errors.As(err, &invalidIdx) {
			return nil, apierr.Tree("invalid leaf index", err)
		}
		return nil, apierr.Tree("generating proof", err)
	}

	out := make([]wire.ProofNodeJSON, len(proof.Path))
	for i, node := range proof.Path {
		out[i] = wire.ProofNodeJSON{Hash: hashing.HexEncode(node.Hash), IsLeft: node.IsLeft}
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] encoding response: %v", err)
	}
}

func writeAPIError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), apierr.StatusCode(err))
}
