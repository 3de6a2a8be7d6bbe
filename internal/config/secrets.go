package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tokenAccount = "api_token"

func secretsFilePath(dataDir string) string {
	return filepath.Join(dataDir, "secrets.json")
}

// APIToken returns the bearer token for the control API. An explicit
// server.api_token (BAMBU_API_TOKEN) wins; otherwise the token persisted in the
// data directory is used, and one is generated on first call.
func APIToken(cfg Config) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	path := secretsFilePath(cfg.Storage.DataDir)
	if tok, err := secretGet(path, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := secretSet(path, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

func secretGet(path, account string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("account %q not found", account)
	}
	return val, nil
}

func secretSet(path, account, value string) error {
	var secrets map[string]string

	data, err := os.ReadFile(path)
	if err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
