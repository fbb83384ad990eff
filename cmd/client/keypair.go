package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PanGan21/verifiable-storage/internal/hashing"
)

const keypairFile = "keypair.txt"

// loadOrCreateKeypair reads dir/keypair.txt (hex of 32-byte seed || 32-byte
// public key) if present, otherwise generates and persists a fresh one.
func loadOrCreateKeypair(dir string) (ed25519.PrivateKey, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating data dir: %w", err)
	}

	path := filepath.Join(dir, keypairFile)
	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil || len(raw) != ed25519.PrivateKeySize {
			return nil, "", fmt.Errorf("keypair.txt is corrupt")
		}
		priv := ed25519.PrivateKey(raw)
		clientID := hashing.ClientID(priv.Public().(ed25519.PublicKey))
		return priv, clientID, nil
	}
	if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("reading keypair: %w", err)
	}

	return generateAndSaveKeypair(dir, false)
}

func generateAndSaveKeypair(dir string, force bool) (ed25519.PrivateKey, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating data dir: %w", err)
	}

	path := filepath.Join(dir, keypairFile)
	if _, err := os.Stat(path); err == nil && !force {
		return nil, "", fmt.Errorf("keypair already exists at %s; use --force to overwrite", path)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, "", fmt.Errorf("generating keypair: %w", err)
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, "", fmt.Errorf("writing keypair: %w", err)
	}

	clientID := hashing.ClientID(pub)
	if err := os.WriteFile(filepath.Join(dir, "client_id.txt"), []byte(clientID), 0o644); err != nil {
		return nil, "", fmt.Errorf("writing client_id: %w", err)
	}

	return priv, clientID, nil
}

func newGenerateKeypairCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "generate-keypair",
		Short: "Generate a new Ed25519 keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, clientID, err := generateAndSaveKeypair(dataDir(), force)
			if err != nil {
				return err
			}
			fmt.Printf("Keypair generated successfully\nClient ID: %s\n", clientID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing keypair")
	return cmd
}
