package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
)

// SecretSource resolves named secrets.
type SecretSource interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// EnvSource reads secrets from environment variables.
type EnvSource struct{}

func (EnvSource) Name() string {
	return "env"
}

func (EnvSource) Get(ctx context.Context, key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("env %s not set", key)
	}
	return val, nil
}

// VaultSource fetches secrets from a HashiCorp Vault KV v2 mount. Every
// key is a secret path whose "value" field holds the secret.
type VaultSource struct {
	kv *vault.KVv2
}

// NewVaultSource connects to the Vault server at addr.
func NewVaultSource(addr, token, mount string) (*VaultSource, error) {
	if addr == "" || token == "" {
		return nil, fmt.Errorf("vault config requires VAULT_ADDR and VAULT_TOKEN")
	}
	if mount == "" {
		mount = "secret"
	}

	client, err := vault.NewClient(&vault.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("vault client init error: %w", err)
	}
	client.SetToken(token)
	return &VaultSource{kv: client.KVv2(mount)}, nil
}

func (v *VaultSource) Name() string {
	return "vault"
}

func (v *VaultSource) Get(ctx context.Context, key string) (string, error) {
	secret, err := v.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("vault read error: %w", err)
	}
	if val, ok := secret.Data["value"].(string); ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("no 'value' field found in vault secret: %s", key)
}

// NewSecretSource builds the source named by provider. The vault source
// is configured from VAULT_ADDR, VAULT_TOKEN and VAULT_PATH.
func NewSecretSource(provider string) (SecretSource, error) {
	switch provider {
	case "", "env":
		return EnvSource{}, nil
	case "vault":
		return NewVaultSource(os.Getenv("VAULT_ADDR"), os.Getenv("VAULT_TOKEN"), os.Getenv("VAULT_PATH"))
	default:
		return nil, fmt.Errorf("unknown config provider %q", provider)
	}
}

// ResolveSecrets fills the signing secrets from src. A secret set
// directly in the environment wins over src.
func (s *Service) ResolveSecrets(ctx context.Context, src SecretSource) error {
	targets := []struct {
		key  string
		dest *string
	}{
		{"JWT_SECRET", &s.JWTSecret},
		{"SESSION_TOKEN_SECRET", &s.SessionTokenSecret},
	}
	for _, target := range targets {
		if os.Getenv(target.key) != "" {
			continue
		}
		val, err := src.Get(ctx, target.key)
		if err != nil {
			return fmt.Errorf("resolve %s from %s: %w", target.key, src.Name(), err)
		}
		*target.dest = val
	}
	return nil
}
