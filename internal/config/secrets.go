package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   // Enable Vault integration
	Address    string // Vault server address
	Token      string // Vault authentication token
	MountPath  string // Secrets mount path (default: "secret")
	SecretPath string // Base path for Auric secrets (e.g., "auric/production")
}

// GetVaultConfigFromEnv builds a VaultConfig from environment variables.
// Vault is enabled when AURIC_VAULT_ADDR is set.
func GetVaultConfigFromEnv() VaultConfig {
	addr := os.Getenv("AURIC_VAULT_ADDR")
	return VaultConfig{
		Enabled:    addr != "",
		Address:    addr,
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnvOrDefault("AURIC_VAULT_MOUNT", "secret"),
		SecretPath: getEnvOrDefault("AURIC_VAULT_PATH", "auric"),
	}
}

// VaultClient wraps the HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret retrieves a secret from Vault. path is relative to SecretPath.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests secrets under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault
func (vc *VaultClient) GetSecretString(ctx context.Context, path string, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key %q not found or not a string at path: %s", key, path)
	}
	return value, nil
}

// LoadSecretsFromVault overlays Vault-held secrets onto the configuration:
// database credentials and the DXY provider API key. Missing paths are
// logged and skipped so environment-variable deployments keep working.
func LoadSecretsFromVault(ctx context.Context, cfg *Config, vaultCfg VaultConfig) error {
	if !vaultCfg.Enabled {
		log.Debug().Msg("Vault integration disabled - using environment variables for secrets")
		return nil
	}

	vc, err := NewVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	if secrets, err := vc.GetSecret(ctx, "database"); err != nil {
		log.Warn().Err(err).Msg("Failed to load database secrets from Vault")
	} else {
		if password, ok := secrets["password"].(string); ok && password != "" {
			cfg.Database.Password = password
		}
		if user, ok := secrets["user"].(string); ok && user != "" {
			cfg.Database.User = user
		}
	}

	if secrets, err := vc.GetSecret(ctx, "redis"); err != nil {
		log.Warn().Err(err).Msg("Failed to load redis secrets from Vault")
	} else {
		if password, ok := secrets["password"].(string); ok && password != "" {
			cfg.Redis.Password = password
		}
	}

	if key, err := vc.GetSecretString(ctx, "dxy", "api_key"); err != nil {
		log.Warn().Err(err).Msg("Failed to load DXY provider key from Vault")
	} else if key != "" {
		cfg.DXY.APIKey = key
	}

	log.Info().Msg("Secrets loaded from Vault")
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
