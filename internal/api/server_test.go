package api_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PanGan21/verifiable-storage/internal/api"
	"github.com/PanGan21/verifiable-storage/internal/auth"
	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/ratelimit"
	"github.com/PanGan21/verifiable-storage/internal/storage/filesystem"
	"github.com/PanGan21/verifiable-storage/internal/wire"
)

type testClient struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newTestClient(t *testing.T) testClient {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return testClient{pub: pub, priv: priv}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	authService := auth.NewService(store, 300*time.Second, 60*time.Second)
	limiter := ratelimit.NewLimiter(nil, 1000, time.Minute)
	srv := api.NewServer(store, authService, limiter)
	return httptest.NewServer(srv.Router())
}

func (c testClient) upload(t *testing.T, server *httptest.Server, filename, batchID string, content []byte) *http.Response {
	t.Helper()
	leaf := hashing.LeafHash(content)
	fileHash := hashing.HexEncode(leaf)
	ts := uint64(time.Now().UnixMilli())

	msg := append([]byte{}, filename...)
	msg = append(msg, batchID...)
	msg = append(msg, fileHash...)
	msg = append(msg, content...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	sig := hashing.Sign(c.priv, msg)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("filename", filename)
	_ = w.WriteField("batch_id", batchID)
	_ = w.WriteField("file_hash", fileHash)
	_ = w.WriteField("signature", hex.EncodeToString(sig))
	_ = w.WriteField("timestamp", strconv.FormatUint(ts, 10))
	_ = w.WriteField("public_key", hex.EncodeToString(c.pub))
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, server.URL+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (c testClient) download(t *testing.T, server *httptest.Server, filename, batchID string) *http.Response {
	t.Helper()
	ts := uint64(time.Now().UnixMilli())
	msg := append([]byte{}, filename...)
	msg = append(msg, batchID...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	sig := hashing.Sign(c.priv, msg)
	clientID := hashing.ClientID(c.pub)

	q := url.Values{}
	q.Set("filename", filename)
	q.Set("batch_id", batchID)
	q.Set("signature", hex.EncodeToString(sig))
	q.Set("timestamp", strconv.FormatUint(ts, 10))
	q.Set("client_id", clientID)

	resp, err := server.Client().Get(server.URL + "/download?" + q.Encode())
	require.NoError(t, err)
	return resp
}

func TestHealthReportsOK(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body wire.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
}

// TestTwoFileBatchRoundTrip exercises the two-file scenario end to end:
// upload both files, then download one and verify its proof against the
// independently-computed root.
func TestTwoFileBatchRoundTrip(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	client := newTestClient(t)

	helloResp := client.upload(t, server, "hello.txt", "batch1", []byte("hello"))
	require.Equal(t, http.StatusOK, helloResp.StatusCode)
	helloResp.Body.Close()

	worldResp := client.upload(t, server, "world.txt", "batch1", []byte("world"))
	require.Equal(t, http.StatusOK, worldResp.StatusCode)
	worldResp.Body.Close()

	resp := client.download(t, server, "hello.txt", "batch1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body wire.DownloadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "hello.txt", body.Filename)
	require.Equal(t, hashing.HexEncode(hashing.LeafHash([]byte("hello"))), body.FileHash)
	require.Len(t, body.MerkleProof, 1)
	require.False(t, body.MerkleProof[0].IsLeft)
	require.Equal(t, hashing.HexEncode(hashing.LeafHash([]byte("world"))), body.MerkleProof[0].Hash)

	root := recomputeRoot(t, body.FileHash, body.MerkleProof)
	wantRoot := hashing.PairHash(hashing.LeafHash([]byte("hello")), hashing.LeafHash([]byte("world")))
	require.Equal(t, hashing.HexEncode(wantRoot), hex.EncodeToString(root[:]))
}

func TestUploadRejectsFileHashMismatch(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	client := newTestClient(t)

	content := []byte("hello")
	ts := uint64(time.Now().UnixMilli())
	wrongHash := hashing.HexEncode(hashing.LeafHash([]byte("not the content")))

	msg := append([]byte{}, "a.txt"...)
	msg = append(msg, "batch1"...)
	msg = append(msg, wrongHash...)
	msg = append(msg, content...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	sig := hashing.Sign(client.priv, msg)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("filename", "a.txt")
	_ = w.WriteField("batch_id", "batch1")
	_ = w.WriteField("file_hash", wrongHash)
	_ = w.WriteField("signature", hex.EncodeToString(sig))
	_ = w.WriteField("timestamp", strconv.FormatUint(ts, 10))
	_ = w.WriteField("public_key", hex.EncodeToString(client.pub))
	part, err := w.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, server.URL+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestUploadRejectsMalformedSignatureLength exercises a signature field
// that is well-formed hex but the wrong length: it must be classified as a
// validation failure (400) before ever reaching signature verification
// (which would otherwise surface it as an auth failure, 401).
func TestUploadRejectsMalformedSignatureLength(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	client := newTestClient(t)

	content := []byte("hello")
	fileHash := hashing.HexEncode(hashing.LeafHash(content))
	ts := uint64(time.Now().UnixMilli())

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("filename", "a.txt")
	_ = w.WriteField("batch_id", "batch1")
	_ = w.WriteField("file_hash", fileHash)
	_ = w.WriteField("signature", "deadbeef") // 8 hex chars, not 128
	_ = w.WriteField("timestamp", strconv.FormatUint(ts, 10))
	_ = w.WriteField("public_key", hex.EncodeToString(client.pub))
	part, err := w.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, server.URL+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestDownloadRejectsMalformedSignatureLength mirrors the upload case for
// the query-string download path.
func TestDownloadRejectsMalformedSignatureLength(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	q := url.Values{}
	q.Set("filename", "a.txt")
	q.Set("batch_id", "batch1")
	q.Set("signature", "deadbeef")
	q.Set("timestamp", strconv.FormatUint(uint64(time.Now().UnixMilli()), 10))
	q.Set("client_id", "0000000000000000000000000000000000000000000000000000000000000000")

	resp, err := http.Get(server.URL + "/download?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadRejectsUnregisteredClient(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	client := newTestClient(t)

	resp := client.download(t, server, "missing.txt", "batch1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func recomputeRoot(t *testing.T, leafHashHex string, proof []wire.ProofNodeJSON) [32]byte {
	t.Helper()
	leaf, err := hashing.HexDecode(leafHashHex)
	require.NoError(t, err)

	acc := leaf
	for _, node := range proof {
		sibling, err := hashing.HexDecode(node.Hash)
		require.NoError(t, err)
		if node.IsLeft {
			acc = hashing.PairHash(sibling, acc)
		} else {
			acc = hashing.PairHash(acc, sibling)
		}
	}
	return acc
}
