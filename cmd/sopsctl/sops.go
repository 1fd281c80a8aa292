package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// secretsFileName is the conventional name of each environment's secrets file.
const secretsFileName = "secrets.enc.yaml"

// stateFileName records content hashes after a successful encrypt so that
// unchanged files are skipped on the next run.
const stateFileName = ".sopsctl-state.json"

// findSecretsFiles returns the secrets files under root/secrets, or the
// explicit paths when given.
func findSecretsFiles(root string, paths []string) ([]string, error) {
	if len(paths) > 0 {
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("secrets file not found: %s", p)
			}
		}
		return paths, nil
	}

	var found []string
	secretsDir := filepath.Join(root, "secrets")
	err := filepath.WalkDir(secretsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == secretsFileName {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", secretsDir, err)
	}
	sort.Strings(found)
	return found, nil
}

// runSops executes the sops binary with args, returning stdout.
func runSops(args ...string) ([]byte, error) {
	cmd := exec.Command("sops", args...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("sops %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// isEncrypted reports whether the file already carries sops metadata.
func isEncrypted(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	_, ok := doc["sops"]
	return ok, nil
}

// hashState maps file paths to the content hash recorded after the last
// successful encrypt.
type hashState map[string]string

func loadState(root string) (hashState, error) {
	data, err := os.ReadFile(filepath.Join(root, stateFileName))
	if os.IsNotExist(err) {
		return hashState{}, nil
	}
	if err != nil {
		return nil, err
	}
	state := hashState{}
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state file just means everything re-encrypts.
		return hashState{}, nil
	}
	return state, nil
}

func (s hashState) save(root string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, stateFileName), data, 0o644)
}

// changed reports whether path's content differs from the recorded hash.
func (s hashState) changed(path string) (bool, string, error) {
	sum, err := hashFile(path)
	if err != nil {
		return false, "", err
	}
	return s[path] != sum, sum, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
