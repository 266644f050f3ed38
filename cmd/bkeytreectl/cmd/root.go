/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/bkeytree/pkg/blockstore"
	"github.com/ssargent/bkeytree/pkg/crypter"
	"github.com/ssargent/bkeytree/pkg/di"
	"github.com/ssargent/bkeytree/pkg/keytree"
	"github.com/ssargent/bkeytree/pkg/objectstore"
	"github.com/ssargent/bkeytree/pkg/vault"
)

// vaultContextKey is the context key the root command stashes the opened
// vault under, for subcommands to retrieve.
type vaultContextKey struct{}

// container holds the dependency-injection container wired up by main(),
// consulted by commands that need a swappable server or system factory.
var container *di.Container

// SetContainer injects the dependency container built by main().
func SetContainer(c *di.Container) {
	container = c
}

// dataDir is the data directory shared across subcommands.
var dataDir string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bkeytreectl",
	Short: "bkeytreectl - a persistent, encrypted, key-rotating B-tree",
	Long: `bkeytreectl drives a vault: a B-tree mapping block ids to symmetric
keys, backed by an append-only encrypted block store, with epoch-based
key rotation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("data-dir")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		v, err := openVault(dir)
		if err != nil {
			return err
		}

		cmd.SetContext(context.WithValue(cmd.Context(), vaultContextKey{}, v))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Data directory for the vault")
}

// vaultFromContext retrieves the vault opened by the root command's
// PersistentPreRunE.
func vaultFromContext(cmd *cobra.Command) (*vault.Vault, error) {
	v, ok := cmd.Context().Value(vaultContextKey{}).(*vault.Vault)
	if !ok {
		return nil, fmt.Errorf("vault not found in context")
	}
	return v, nil
}

// openVault opens (or bootstraps) the key tree and block store rooted at
// dir, returning a ready-to-use Vault.
func openVault(dir string) (*vault.Vault, error) {
	rootKey, err := loadOrCreateRootKey(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load root key: %w", err)
	}

	keyStorePath := filepath.Join(dir, "keytree")
	if err := os.MkdirAll(keyStorePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create key tree dir: %w", err)
	}
	keyStore, err := objectstore.NewDirStore(keyStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open key tree store: %w", err)
	}

	crypt := crypter.New()

	tree, err := openOrCreateTree(dir, keyStore, crypt, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open key tree: %w", err)
	}

	blockDir := filepath.Join(dir, "blocks")
	blocks, err := blockstore.New(blockstore.Config{DataDir: blockDir})
	if err != nil {
		return nil, fmt.Errorf("failed to create block store: %w", err)
	}
	recovery, err := blocks.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}
	if recovery.RecordsTruncated > 0 {
		fmt.Printf("Recovered from corruption: %d records truncated\n", recovery.RecordsTruncated)
	}

	return vault.New(tree, blocks, crypt, rootKey), nil
}

// loadOrCreateRootKey reads the vault's root key from <dir>/root.key,
// generating and persisting a new one on first run.
func loadOrCreateRootKey(dir string) (keytree.Key, error) {
	path := filepath.Join(dir, "root.key")

	contents, err := os.ReadFile(path)
	if err == nil {
		key, decodeErr := hex.DecodeString(string(contents))
		if decodeErr != nil {
			return nil, fmt.Errorf("decode root key: %w", decodeErr)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, crypter.KeySize)
	if _, randErr := rand.Read(key); randErr != nil {
		return nil, fmt.Errorf("generate root key: %w", randErr)
	}
	if writeErr := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); writeErr != nil {
		return nil, fmt.Errorf("persist root key: %w", writeErr)
	}
	return key, nil
}

// openOrCreateTree loads the key tree from its persisted locator at
// <dir>/keytree.locator.json, or allocates a fresh tree and persists its
// locator on first run.
func openOrCreateTree(dir string, store objectstore.ObjectStore, crypt crypter.Crypter, rootKey keytree.Key) (*keytree.Tree, error) {
	locatorPath := filepath.Join(dir, "keytree.locator.json")

	contents, err := os.ReadFile(locatorPath)
	if err == nil {
		var loc keytree.Locator
		if jsonErr := json.Unmarshal(contents, &loc); jsonErr != nil {
			return nil, fmt.Errorf("decode key tree locator: %w", jsonErr)
		}
		return keytree.Load(store, crypt, rand.Reader, crypter.KeySize, loc, rootKey)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	tree, err := keytree.New(store, crypt, rand.Reader, crypter.KeySize)
	if err != nil {
		return nil, err
	}
	if persistErr := tree.Persist(rootKey); persistErr != nil {
		return nil, fmt.Errorf("persist new key tree: %w", persistErr)
	}

	encoded, err := json.Marshal(tree.Locator())
	if err != nil {
		return nil, fmt.Errorf("encode key tree locator: %w", err)
	}
	if writeErr := os.WriteFile(locatorPath, encoded, 0644); writeErr != nil {
		return nil, fmt.Errorf("persist key tree locator: %w", writeErr)
	}
	return tree, nil
}
