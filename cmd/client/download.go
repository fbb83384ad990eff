package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/wire"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func newDownloadCmd() *cobra.Command {
	var server, batchID, rootHash, outputDir string
	cmd := &cobra.Command{
		Use:   "download [filename]",
		Short: "Download and verify a file from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]
			priv, clientID, err := loadOrCreateKeypair(dataDir())
			if err != nil {
				return err
			}

			root := rootHash
			if root == "" {
				root, err = loadRootHash(batchID)
				if err != nil {
					return err
				}
			}

			return downloadAndVerify(serverURL(server), batchID, filename, clientID, root, outputDir, priv)
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server URL")
	cmd.Flags().StringVarP(&batchID, "batch-id", "b", "", "batch id the file belongs to")
	cmd.Flags().StringVarP(&rootHash, "root-hash", "r", "", "root hash to verify against (defaults to saved root_hash.txt)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory to save the downloaded file")
	cmd.MarkFlagRequired("batch-id")
	return cmd
}

func loadRootHash(batchID string) (string, error) {
	path := filepath.Join(dataDir(), batchID, "root_hash.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("root hash not found for batch %s; provide --root-hash or upload first: %w", batchID, err)
	}
	return string(data), nil
}

func downloadAndVerify(server, batchID, filename, clientID, rootHash, outputDir string, priv ed25519.PrivateKey) error {
	resp, err := requestFileProof(server, batchID, filename, clientID, priv)
	if err != nil {
		return err
	}
	if resp.Filename != filename {
		return fmt.Errorf("filename mismatch: expected %s, got %s", filename, resp.Filename)
	}

	if err := verifyMerkleProof(resp, rootHash); err != nil {
		return err
	}

	content, err := decodeBase64(resp.FileContent)
	if err != nil {
		return fmt.Errorf("decoding file content: %w", err)
	}

	downloadedHash := hashing.HexEncode(hashing.LeafHash(content))
	if downloadedHash != resp.FileHash {
		return fmt.Errorf("file hash mismatch: expected %s, got %s", resp.FileHash, downloadedHash)
	}

	if err := saveDownloadedFile(batchID, filename, content, outputDir); err != nil {
		return err
	}

	fmt.Println("Verification successful!")
	fmt.Printf("File: %s\n", filename)
	fmt.Printf("File hash: %s\n", resp.FileHash)
	fmt.Printf("Verified against root: %s\n", rootHash)
	return nil
}

func requestFileProof(server, batchID, filename, clientID string, priv ed25519.PrivateKey) (*wire.DownloadResponse, error) {
	ts := uint64(time.Now().UnixMilli())
	msg := append([]byte{}, filename...)
	msg = append(msg, batchID...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	sig := hashing.Sign(priv, msg)

	q := url.Values{}
	q.Set("filename", filename)
	q.Set("batch_id", batchID)
	q.Set("signature", hex.EncodeToString(sig))
	q.Set("timestamp", strconv.FormatUint(ts, 10))
	q.Set("client_id", clientID)

	resp, err := http.Get(server + "/download?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download failed: %s - %s", resp.Status, string(body))
	}

	var out wire.DownloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func verifyMerkleProof(resp *wire.DownloadResponse, rootHash string) error {
	leaf, err := hashing.HexDecode(resp.FileHash)
	if err != nil {
		return fmt.Errorf("decoding file hash: %w", err)
	}
	expectedRoot, err := hashing.HexDecode(rootHash)
	if err != nil {
		return fmt.Errorf("decoding root hash: %w", err)
	}

	computed := leaf
	for _, node := range resp.MerkleProof {
		sibling, err := hashing.HexDecode(node.Hash)
		if err != nil {
			return fmt.Errorf("decoding proof node: %w", err)
		}
		if node.IsLeft {
			computed = hashing.PairHash(sibling, computed)
		} else {
			computed = hashing.PairHash(computed, sibling)
		}
	}

	if !hashing.ConstantTimeEqual(computed, expectedRoot) {
		return fmt.Errorf("verification failed: root mismatch (computed %s, expected %s)", hashing.HexEncode(computed), rootHash)
	}
	return nil
}

func saveDownloadedFile(batchID, filename string, content []byte, outputDir string) error {
	dir := outputDir
	if dir == "" {
		dir = filepath.Join(dataDir(), batchID, "downloaded")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing downloaded file: %w", err)
	}
	fmt.Printf("File saved to: %s\n", path)
	return nil
}
