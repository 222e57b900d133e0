package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// checksumFile sits beside the manifest and pins its BLAKE3 hash. When
// present, Load refuses a manifest whose hash does not match; Lock
// regenerates it after intentional edits.
const checksumFile = ".checksums"

// ChecksumManifest is the on-disk format of the integrity file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"Hint: run 'wheelforge config lock' to authorize the current manifest",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// Lock writes a fresh checksum manifest for configPath, authorizing its
// current contents.
func Lock(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return err
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	path := filepath.Join(filepath.Dir(absPath), checksumFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}
	return nil
}

// verifyChecksums checks configPath against the sibling checksum manifest.
// A missing checksum file means integrity checking is not enabled.
func verifyChecksums(configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), checksumFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse checksums: %w", err)
	}

	expected, ok := manifest.Hashes[filepath.Base(configPath)]
	if !ok {
		// Manifest tracked but this file never locked; treat as unprotected.
		return nil
	}
	return VerifyFileHash(configPath, expected)
}
