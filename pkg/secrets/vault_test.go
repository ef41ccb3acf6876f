package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVaultServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/eligibility" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApplyVaultSecrets_Disabled(t *testing.T) {
	res, err := ApplyVaultSecrets(context.Background(), VaultConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, res.Enabled)
}

func TestApplyVaultSecrets_Incomplete(t *testing.T) {
	_, err := ApplyVaultSecrets(context.Background(), VaultConfig{Enabled: true})
	require.Error(t, err)
}

func TestApplyVaultSecrets_LoadsAllowedKeys(t *testing.T) {
	srv := newVaultServer(t, `{"data":{"data":{"INSURER_CONSUMER_SECRET":"from-vault","INSURER_CONSUMER_ID":1234,"PATH":"/evil"}}}`)
	t.Setenv("INSURER_CONSUMER_SECRET", "")
	t.Setenv("INSURER_CONSUMER_ID", "")
	originalPath := os.Getenv("PATH")

	res, err := ApplyVaultSecrets(context.Background(), VaultConfig{
		Enabled:   true,
		Addr:      srv.URL,
		Token:     "root-token",
		Mount:     "secret",
		Path:      "eligibility",
		KVVersion: 2,
		Timeout:   time.Second,
		Keys:      DefaultKeys,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, "from-vault", os.Getenv("INSURER_CONSUMER_SECRET"))
	assert.Equal(t, "1234", os.Getenv("INSURER_CONSUMER_ID"))
	assert.Equal(t, originalPath, os.Getenv("PATH"))
}

func TestApplyVaultSecrets_DoesNotOverwriteByDefault(t *testing.T) {
	srv := newVaultServer(t, `{"data":{"data":{"INSURER_USER_KEY":"from-vault"}}}`)
	t.Setenv("INSURER_USER_KEY", "from-env")

	res, err := ApplyVaultSecrets(context.Background(), VaultConfig{
		Enabled:   true,
		Addr:      srv.URL,
		Token:     "root-token",
		Mount:     "secret",
		Path:      "eligibility",
		KVVersion: 2,
		Timeout:   time.Second,
		Keys:      DefaultKeys,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "from-env", os.Getenv("INSURER_USER_KEY"))
}

func TestApplyVaultSecrets_ErrorStatus(t *testing.T) {
	srv := newVaultServer(t, `{}`)

	_, err := ApplyVaultSecrets(context.Background(), VaultConfig{
		Enabled:   true,
		Addr:      srv.URL,
		Token:     "wrong",
		Mount:     "secret",
		Path:      "eligibility",
		KVVersion: 2,
		Timeout:   time.Second,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
