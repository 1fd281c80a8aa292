// Package secrets loads the SOPS-encrypted per-environment secrets file
// that seeds the application secret in Secrets Manager.
package secrets

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the decrypted secrets mapping, nested as in the YAML file.
type Config map[string]interface{}

// requiredPaths must resolve to non-empty strings for LoadSecrets to succeed.
var requiredPaths = []string{
	"application.secret_key",
	"application.jwt_secret",
}

// Loader resolves secrets/<environment>/secrets.enc.yaml under the project
// root, shelling out to the sops binary for decryption.
type Loader struct {
	projectRoot string
	environment string
	logger      *log.Logger

	resolved Config
}

// NewLoader returns a Loader rooted at projectRoot for the given environment.
func NewLoader(projectRoot, environment string) *Loader {
	return &Loader{
		projectRoot: projectRoot,
		environment: environment,
		logger:      log.New(os.Stderr, "secrets: ", log.LstdFlags),
	}
}

// ProjectRoot locates the repository root relative to this source file.
func ProjectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		panic("unable to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// LoadSecrets decrypts and validates the secrets file for environment.
// When the sops binary is not installed the file is read as plaintext YAML
// and validated the same way.
func (l *Loader) LoadSecrets(environment string) (Config, error) {
	path := filepath.Join(l.projectRoot, "secrets", environment, "secrets.enc.yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("secrets file not found: %s", path)
	}

	data, err := l.decrypt(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}

	for _, required := range requiredPaths {
		if value, err := lookup(cfg, required); err != nil || value == "" {
			return nil, fmt.Errorf("required secret missing: %s", required)
		}
	}
	l.resolved = cfg
	return cfg, nil
}

func (l *Loader) decrypt(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %s: %w", path, err)
	}
	if !isSopsEncrypted(raw) {
		l.logger.Printf("no sops metadata in %s, reading as plaintext YAML", path)
		return raw, nil
	}

	cmd := exec.Command("sops", "--input-type", "yaml", "--output-type", "yaml", "-d", path)
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		l.logger.Printf("sops binary not found, reading %s as plaintext YAML", path)
		return raw, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, fmt.Errorf("sops decryption failed for %s: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return nil, fmt.Errorf("sops decryption failed for %s: %w", path, err)
}

// isSopsEncrypted reports whether the document carries sops metadata.
func isSopsEncrypted(data []byte) bool {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	_, ok := doc["sops"]
	return ok
}

// LoadSecretsWithFallback loads the secrets file for environment and, on any
// failure, substitutes a fixed-shape config populated from environment
// variables. It never fails.
func (l *Loader) LoadSecretsWithFallback(environment string) Config {
	cfg, err := l.LoadSecrets(environment)
	if err != nil {
		l.logger.Printf("WARNING: %v, falling back to environment variables", err)
		cfg = fallbackConfig()
	}
	l.resolved = cfg
	return cfg
}

// GetSecret looks up a dot-separated path in the fallback-resolved config.
// The resolved value must be a string.
func (l *Loader) GetSecret(path string) (string, error) {
	if l.resolved == nil {
		l.LoadSecretsWithFallback(l.environment)
	}
	return lookup(l.resolved, path)
}

// GetSection returns the nested mapping at a dot-separated path in the
// fallback-resolved config.
func (l *Loader) GetSection(path string) (map[string]interface{}, error) {
	if l.resolved == nil {
		l.LoadSecretsWithFallback(l.environment)
	}
	var node interface{} = map[string]interface{}(l.resolved)
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("section not found: %s", path)
		}
		node, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("section not found: %s", path)
		}
	}
	section, ok := node.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s is not a section", path)
	}
	return section, nil
}

// ExportAsEnvVars flattens the resolved config into upper-cased,
// underscore-joined keys, e.g. application.secret_key becomes
// APPLICATION_SECRET_KEY.
func (l *Loader) ExportAsEnvVars() map[string]string {
	if l.resolved == nil {
		l.LoadSecretsWithFallback(l.environment)
	}
	return Flatten("", l.resolved)
}

// Flatten converts a nested mapping into upper-cased, underscore-joined
// keys under the given prefix.
func Flatten(prefix string, node map[string]interface{}) map[string]string {
	flat := map[string]string{}
	flatten(prefix, node, flat)
	return flat
}

// SortedKeys returns the flattened env var names in deterministic order,
// which keeps synthesized templates diff-stable.
func SortedKeys(flat map[string]string) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for key, value := range node {
		name := strings.ToUpper(key)
		if prefix != "" {
			name = prefix + "_" + name
		}
		switch v := value.(type) {
		case map[string]interface{}:
			flatten(name, v, out)
		case Config:
			flatten(name, v, out)
		default:
			out[name] = fmt.Sprintf("%v", v)
		}
	}
}

func lookup(cfg Config, path string) (string, error) {
	parts := strings.Split(path, ".")
	var node interface{} = map[string]interface{}(cfg)
	for _, part := range parts {
		m, ok := node.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("secret not found: %s", path)
		}
		node, ok = m[part]
		if !ok {
			return "", fmt.Errorf("secret not found: %s", path)
		}
	}
	s, ok := node.(string)
	if !ok {
		return "", fmt.Errorf("secret %s is not a string", path)
	}
	return s, nil
}

func fallbackConfig() Config {
	return Config{
		"application": map[string]interface{}{
			"secret_key":       envOrDefault("APPLICATION_SECRET_KEY", "default-secret"),
			"jwt_secret":       envOrDefault("JWT_SECRET", "default-jwt-secret"),
			"required_setting": envOrDefault("REQUIRED_SETTING", "default-value"),
		},
		"external_services": map[string]interface{}{
			"api_key":        envOrDefault("EXTERNAL_API_KEY", "default-api-key"),
			"webhook_secret": envOrDefault("WEBHOOK_SECRET", "default-webhook-secret"),
		},
		"monitoring": map[string]interface{}{
			"datadog_api_key": envOrDefault("DATADOG_API_KEY", ""),
			"sentry_dsn":      envOrDefault("SENTRY_DSN", ""),
		},
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
