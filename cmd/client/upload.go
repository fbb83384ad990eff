package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
	"github.com/PanGan21/verifiable-storage/internal/merkle"
)

type localFile struct {
	name    string
	content []byte
}

func newUploadCmd() *cobra.Command {
	var dir, server, batchID string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload all files in a directory as a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, _, err := loadOrCreateKeypair(dataDir())
			if err != nil {
				return err
			}
			root, err := uploadDirectory(dir, serverURL(server), batchID, priv)
			if err != nil {
				return err
			}
			fmt.Printf("Upload complete! Batch ID: %s, Root hash: %s\n", batchID, root)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory containing files to upload")
	cmd.Flags().StringVarP(&server, "server", "s", "", "server URL")
	cmd.Flags().StringVarP(&batchID, "batch-id", "b", "", "batch id for this upload")
	cmd.MarkFlagRequired("dir")
	cmd.MarkFlagRequired("batch-id")
	return cmd
}

func uploadDirectory(dir, server, batchID string, priv ed25519.PrivateKey) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading directory: %w", err)
	}

	var files []localFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		files = append(files, localFile{name: e.Name(), content: content})
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no files found in directory: %s", dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	leaves := make([]merkle.Hash, len(files))
	for i, f := range files {
		leaves[i] = hashing.LeafHash(f.content)
	}
	tree, err := merkle.FromLeafHashes(leaves, hashing.PairHash)
	if err != nil {
		return "", fmt.Errorf("building local merkle tree: %w", err)
	}
	rootHex := hashing.HexEncode(tree.Root())

	for _, f := range files {
		if err := uploadOneFile(server, batchID, f.name, f.content, priv); err != nil {
			return "", fmt.Errorf("uploading %s: %w", f.name, err)
		}
		fmt.Printf("Uploaded file: %s\n", f.name)
	}

	if err := saveUploadMetadata(batchID, rootHex, files); err != nil {
		return "", err
	}
	return rootHex, nil
}

func saveUploadMetadata(batchID, rootHex string, files []localFile) error {
	batchDir := filepath.Join(dataDir(), batchID)
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return fmt.Errorf("creating batch directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(batchDir, "root_hash.txt"), []byte(rootHex), 0o644); err != nil {
		return fmt.Errorf("writing root_hash.txt: %w", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	encoded, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling filenames: %w", err)
	}
	return os.WriteFile(filepath.Join(batchDir, "filenames.json"), encoded, 0o644)
}

func uploadOneFile(server, batchID, filename string, content []byte, priv ed25519.PrivateKey) error {
	leaf := hashing.LeafHash(content)
	fileHash := hashing.HexEncode(leaf)
	ts := uint64(time.Now().UnixMilli())

	msg := make([]byte, 0, len(filename)+len(batchID)+len(fileHash)+len(content)+8)
	msg = append(msg, filename...)
	msg = append(msg, batchID...)
	msg = append(msg, fileHash...)
	msg = append(msg, content...)
	msg = binary.BigEndian.AppendUint64(msg, ts)
	sig := hashing.Sign(priv, msg)

	pubKey := priv.Public().(ed25519.PublicKey)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("filename", filename)
	_ = w.WriteField("batch_id", batchID)
	_ = w.WriteField("file_hash", fileHash)
	_ = w.WriteField("signature", hex.EncodeToString(sig))
	_ = w.WriteField("timestamp", strconv.FormatUint(ts, 10))
	_ = w.WriteField("public_key", hex.EncodeToString(pubKey))
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, server+"/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed: %s - %s", resp.Status, string(body))
	}
	return nil
}
