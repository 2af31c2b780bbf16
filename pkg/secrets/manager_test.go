package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/cloudcareercoach/api/config"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	secretsmanageriface.SecretsManagerAPI
	value *string
	err   error
	calls int
	ids   []string
}

func (f *fakeSecretsManager) GetSecretValueWithContext(ctx aws.Context, in *secretsmanager.GetSecretValueInput, opts ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	f.ids = append(f.ids, aws.StringValue(in.SecretId))
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestNewManager_Backends(t *testing.T) {
	m, err := NewManager(Config{Backend: "env"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, EnvManager{}, m)

	_, err = NewManager(Config{Backend: "vault"}, logger.Nop())
	assert.Error(t, err)
}

func TestEnvManager(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")

	value, err := EnvManager{}.GetSecret(context.Background(), "STRIPE_SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_env", value)

	_, err = EnvManager{}.GetSecret(context.Background(), "COACH_UNSET_SECRET")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAWSManager_ReadsBundleOnce(t *testing.T) {
	fake := &fakeSecretsManager{value: aws.String(`{"STRIPE_SECRET_KEY":"sk_test_aws","JWT_SECRET":"jwt"}`)}
	m := NewAWSManager(fake, Config{SecretID: "coach/api", CacheDuration: time.Minute})
	ctx := context.Background()

	value, err := m.GetSecret(ctx, "STRIPE_SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_aws", value)

	value, err = m.GetSecret(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "jwt", value)

	_, err = m.GetSecret(ctx, "SENDGRID_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, []string{"coach/api"}, fake.ids)
}

func TestAWSManager_RefetchesAfterExpiry(t *testing.T) {
	fake := &fakeSecretsManager{value: aws.String(`{"JWT_SECRET":"jwt"}`)}
	m := NewAWSManager(fake, Config{SecretID: "coach/api", CacheDuration: time.Minute})
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.GetSecret(ctx, "JWT_SECRET")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = m.GetSecret(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)

	m.Refresh()
	_, err = m.GetSecret(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, 3, fake.calls)
}

func TestAWSManager_Errors(t *testing.T) {
	ctx := context.Background()

	m := NewAWSManager(&fakeSecretsManager{err: errors.New("AccessDeniedException")}, Config{SecretID: "coach/api"})
	_, err := m.GetSecret(ctx, "JWT_SECRET")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	m = NewAWSManager(&fakeSecretsManager{}, Config{SecretID: "coach/api"})
	_, err = m.GetSecret(ctx, "JWT_SECRET")
	assert.Error(t, err)

	m = NewAWSManager(&fakeSecretsManager{value: aws.String("sk_live_plain")}, Config{SecretID: "coach/api"})
	_, err = m.GetSecret(ctx, "JWT_SECRET")
	assert.Error(t, err)
}

func TestApplyToConfig(t *testing.T) {
	fake := &fakeSecretsManager{value: aws.String(`{"JWT_SECRET":"jwt-from-aws","STRIPE_SECRET_KEY":"sk_test_aws"}`)}
	m := NewAWSManager(fake, Config{SecretID: "coach/api"})
	cfg := &config.Config{
		APIEnvironment: "production",
		JWTSecret:      "change-this-in-production",
		SendGridAPIKey: "SG.env",
		DatabaseURL:    "postgres://localhost/coach",
	}

	require.NoError(t, ApplyToConfig(context.Background(), m, cfg))

	assert.Equal(t, "jwt-from-aws", cfg.JWTSecret)
	assert.Equal(t, "sk_test_aws", cfg.StripeSecretKey)
	assert.Equal(t, "SG.env", cfg.SendGridAPIKey, "missing keys keep the env value")
	assert.Equal(t, "postgres://localhost/coach", cfg.DatabaseURL)
}

func TestApplyToConfig_ProductionRequiresJWT(t *testing.T) {
	m := NewAWSManager(&fakeSecretsManager{value: aws.String(`{}`)}, Config{SecretID: "coach/api"})

	err := ApplyToConfig(context.Background(), m, &config.Config{APIEnvironment: "production"})
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &config.Config{APIEnvironment: "development", JWTSecret: "dev"}
	require.NoError(t, ApplyToConfig(context.Background(), m, cfg))
	assert.Equal(t, "dev", cfg.JWTSecret)
}
