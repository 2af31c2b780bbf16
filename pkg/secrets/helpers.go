package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudcareercoach/api/config"
)

// LoadString loads a secret, returning fallback when it is missing
func LoadString(ctx context.Context, m Manager, key, fallback string) (string, error) {
	value, err := m.GetSecret(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// LoadStringRequired loads a required secret (fails if not found)
func LoadStringRequired(ctx context.Context, m Manager, key string) (string, error) {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return "", fmt.Errorf("required secret %s: %w", key, err)
	}
	return value, nil
}

// ApplyToConfig overrides the credentials in cfg with values from m. The
// JWT secret is required in production; the others keep their env value
// when the backend has none.
func ApplyToConfig(ctx context.Context, m Manager, cfg *config.Config) error {
	var err error

	if cfg.IsProduction() {
		if cfg.JWTSecret, err = LoadStringRequired(ctx, m, "JWT_SECRET"); err != nil {
			return err
		}
	} else if cfg.JWTSecret, err = LoadString(ctx, m, "JWT_SECRET", cfg.JWTSecret); err != nil {
		return err
	}

	if cfg.StripeSecretKey, err = LoadString(ctx, m, "STRIPE_SECRET_KEY", cfg.StripeSecretKey); err != nil {
		return err
	}
	if cfg.SendGridAPIKey, err = LoadString(ctx, m, "SENDGRID_API_KEY", cfg.SendGridAPIKey); err != nil {
		return err
	}
	if cfg.DatabaseURL, err = LoadString(ctx, m, "DATABASE_URL", cfg.DatabaseURL); err != nil {
		return err
	}
	return nil
}
