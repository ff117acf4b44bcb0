package secrets

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/require"
)

func TestEnvName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ALPHA_VANTAGE_API_KEY", EnvName("alpha-vantage-api-key"))
	require.Equal(t, "MARKETUPDATE_STORAGE_EMAILS", EnvName("marketupdate-storage-emails"))
}

func TestEnvProviderPrefersEnvironment(t *testing.T) {
	t.Parallel()

	env := map[string]string{"RECAPTCHA_SECRET_KEY": "from-env"}
	p := &EnvProvider{
		static: map[string]string{"recaptcha-secret-key": "from-config", "alpha-vantage-api-key": "demo"},
		lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
	}

	v, err := p.Get(context.Background(), "recaptcha-secret-key")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)

	v, err = p.Get(context.Background(), "alpha-vantage-api-key")
	require.NoError(t, err)
	require.Equal(t, "demo", v)

	_, err = p.Get(context.Background(), "missing-secret")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorContains(t, err, "MISSING_SECRET")
}

func TestResolve(t *testing.T) {
	t.Parallel()

	p := &EnvProvider{
		static: map[string]string{"a": "1", "b": "2"},
		lookup: func(string) (string, bool) { return "", false },
	}
	bundle, err := Resolve(context.Background(), p, "a", "b", "", "a")
	require.NoError(t, err)
	require.Equal(t, Bundle{"a": "1", "b": "2"}, bundle)
	require.Equal(t, "2", bundle.Value("b"))
	require.Empty(t, bundle.Value("c"))

	_, err = Resolve(context.Background(), p, "a", "storage")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorContains(t, err, `"storage"`)
}

type fakeSecretClient struct {
	values map[string]string
	err    error
}

func (f fakeSecretClient) GetSecret(_ context.Context, name, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.err != nil {
		return azsecrets.GetSecretResponse{}, f.err
	}
	v, ok := f.values[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "SecretNotFound"}
	}
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &v}}, nil
}

func TestKeyVaultProvider(t *testing.T) {
	t.Parallel()

	p := &KeyVaultProvider{client: fakeSecretClient{values: map[string]string{
		"marketupdate-storage-emails": "DefaultEndpointsProtocol=https;AccountName=acct",
		"empty":                       "",
	}}}

	v, err := p.Get(context.Background(), "marketupdate-storage-emails")
	require.NoError(t, err)
	require.Contains(t, v, "AccountName=acct")

	_, err = p.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = p.Get(context.Background(), "empty")
	require.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("forbidden")
	_, err = (&KeyVaultProvider{client: fakeSecretClient{err: boom}}).Get(context.Background(), "x")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrNotFound)
}
