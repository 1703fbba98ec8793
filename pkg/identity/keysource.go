package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AdalynJs/nucypher/config"
)

// Key source names accepted in configuration.
const (
	KeySourceGenerate = "generate"
	KeySourceFile     = "file"
	KeySourceEnv      = "env"
	KeySourceAWS      = "aws"
)

// Loader builds the local character from configuration.
type Loader struct {
	Fetcher SecretFetcher
	Getenv  func(string) string
}

// NewLoader returns a Loader backed by AWS Secrets Manager and the process environment.
func NewLoader() *Loader {
	return &Loader{Fetcher: NewAWSSecretsManagerFetcher(), Getenv: os.Getenv}
}

// Load resolves the configured key source. Secrets are hex encoded scalars.
func (l *Loader) Load(ctx context.Context, cfg config.IdentityConfig) (*Character, error) {
	var (
		encoded string
		err     error
	)

	switch strings.ToLower(cfg.KeySource) {
	case "", KeySourceGenerate:
		return NewCharacter(cfg.Name), nil
	case KeySourceFile:
		encoded, err = readKeyFile(cfg.KeyFile)
	case KeySourceEnv:
		encoded = l.Getenv(cfg.KeyEnv)
		if encoded == "" {
			err = fmt.Errorf("environment variable %s is empty", cfg.KeyEnv)
		}
	case KeySourceAWS:
		encoded, err = l.fetchAWS(ctx, cfg.AWS)
	default:
		return nil, fmt.Errorf("unsupported key source: %s", cfg.KeySource)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s key: %w", cfg.KeySource, err)
	}

	secret, err := DecodeSecret(encoded)
	if err != nil {
		return nil, err
	}
	return CharacterFromSecret(cfg.Name, secret)
}

func (l *Loader) fetchAWS(ctx context.Context, cfg config.AWSSecretsManagerConfig) (string, error) {
	if l.Fetcher == nil {
		return "", fmt.Errorf("no secret fetcher configured")
	}
	payload, err := l.Fetcher.FetchSecret(ctx, cfg.Region, cfg.Endpoint, cfg.SecretID)
	if err != nil {
		return "", err
	}
	return extractField(payload, cfg.SecretKeyField)
}

func readKeyFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("key file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSecret parses a hex encoded secret key.
func DecodeSecret(encoded string) ([]byte, error) {
	secret, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("secret key is not valid hex: %w", err)
	}
	return secret, nil
}

// EncodeSecret renders the character's secret key for storage.
func EncodeSecret(c *Character) string {
	return hex.EncodeToString(c.SecretBytes())
}

// WriteKeyFile stores the character's secret key at path with owner-only permissions.
func WriteKeyFile(path string, c *Character) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(EncodeSecret(c)+"\n"), 0o600)
}
