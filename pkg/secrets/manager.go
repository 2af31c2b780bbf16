// Package secrets resolves API credentials from the environment or from a
// JSON secret bundle in AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/cloudcareercoach/api/pkg/logger"
)

// ErrNotFound is returned when a secret has no value in the backend
var ErrNotFound = errors.New("secret not found")

// Manager defines the interface for secrets management
type Manager interface {
	// GetSecret retrieves a secret by key, e.g. STRIPE_SECRET_KEY
	GetSecret(ctx context.Context, key string) (string, error)
}

// Config holds secrets manager configuration
type Config struct {
	Backend       string        // "env" or "aws"
	AWSRegion     string        // AWS region for Secrets Manager
	SecretID      string        // name or ARN of the JSON secret bundle
	CacheDuration time.Duration // how long a fetched bundle is reused
}

// NewManager creates a secrets manager for cfg.Backend
func NewManager(cfg Config, log logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	switch cfg.Backend {
	case "aws", "aws-secrets-manager":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		log.Info("using AWS Secrets Manager", "region", cfg.AWSRegion, "secret_id", cfg.SecretID)
		return NewAWSManager(secretsmanager.New(sess), cfg), nil
	case "", "env", "environment":
		return EnvManager{}, nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// EnvManager reads secrets from environment variables
type EnvManager struct{}

// GetSecret returns the environment variable named key
func (EnvManager) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// AWSManager reads keys out of one JSON secret bundle
type AWSManager struct {
	client secretsmanageriface.SecretsManagerAPI
	config Config
	now    func() time.Time

	mu        sync.Mutex
	values    map[string]string
	expiresAt time.Time
}

// NewAWSManager creates a manager over an existing Secrets Manager client
func NewAWSManager(client secretsmanageriface.SecretsManagerAPI, cfg Config) *AWSManager {
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = 5 * time.Minute
	}
	return &AWSManager{
		client: client,
		config: cfg,
		now:    time.Now,
	}
}

// GetSecret returns one key of the bundle, fetching it when the cached copy expired
func (m *AWSManager) GetSecret(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values == nil || m.now().After(m.expiresAt) {
		values, err := m.fetch(ctx)
		if err != nil {
			return "", err
		}
		m.values = values
		m.expiresAt = m.now().Add(m.config.CacheDuration)
	}

	value := m.values[key]
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Refresh drops the cached bundle
func (m *AWSManager) Refresh() {
	m.mu.Lock()
	m.values = nil
	m.mu.Unlock()
}

func (m *AWSManager) fetch(ctx context.Context) (map[string]string, error) {
	out, err := m.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(m.config.SecretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", m.config.SecretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", m.config.SecretID)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object of strings: %w", m.config.SecretID, err)
	}
	return values, nil
}
