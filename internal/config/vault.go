package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// resolveVault reads a key from a Vault secret. Format: secret/data/path#key.
// VAULT_ADDR and VAULT_TOKEN come from the environment.
func resolveVault(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid vault reference %q: expected path#key", ref)
	}

	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return "", fmt.Errorf("VAULT_ADDR environment variable not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("VAULT_TOKEN environment variable not set")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return "", fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(token)

	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading vault secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret found at %s", path)
	}

	// KV v2 nests the payload under "data"
	data := secret.Data
	if inner, ok := data["data"].(map[string]interface{}); ok {
		data = inner
	}

	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in vault secret at %s", key, path)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault value for key %q is not a string", key)
	}
	return str, nil
}
