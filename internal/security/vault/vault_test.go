package vault

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESVaultRoundTrip(t *testing.T) {
	v, err := NewFactory(Config{Provider: "aes", AESKey: "unit-test-key"})
	require.NoError(t, err)

	encrypted, err := v.Encrypt([]byte(`{"api_key":"sk_test_123"}`))
	require.NoError(t, err)
	assert.True(t, json.Valid(encrypted))
	assert.NotContains(t, string(encrypted), "sk_test_123")

	decrypted, err := v.Decrypt(encrypted)
	require.NoError(t, err)
	assert.JSONEq(t, `{"api_key":"sk_test_123"}`, string(decrypted))
}

func TestAESVaultRejectsForeignKey(t *testing.T) {
	a, err := NewAESVault("key-a")
	require.NoError(t, err)
	b, err := NewAESVault("key-b")
	require.NoError(t, err)

	encrypted, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(encrypted)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = a.Decrypt([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestFactoryValidation(t *testing.T) {
	_, err := NewFactory(Config{Provider: "aes"})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFactory(Config{Provider: "hashicorp"})
	assert.ErrorIs(t, err, ErrMissingConfig)

	_, err = NewFactory(Config{Provider: "kms"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHashiCorpTransitRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/transit/encrypt/payhub":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"ciphertext": "vault:v1:" + body["plaintext"]},
			})
		case "/v1/transit/decrypt/payhub":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"plaintext": strings.TrimPrefix(body["ciphertext"], "vault:v1:")},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v, err := NewFactory(Config{
		Provider:   "hashicorp",
		VaultAddr:  srv.URL,
		VaultToken: "root-token",
		TransitKey: "payhub",
	})
	require.NoError(t, err)

	encrypted, err := v.Encrypt([]byte("client-secret"))
	require.NoError(t, err)
	assert.Contains(t, string(encrypted), "vault:v1:")

	decrypted, err := v.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "client-secret", string(decrypted))
}
