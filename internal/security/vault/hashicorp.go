package vault

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// HashiCorpVault delegates to the transit secrets engine so key material never
// leaves Vault.
type HashiCorpVault struct {
	client *api.Client
	path   string
	key    string
}

func newHashiCorpVault(cfg Config) (*HashiCorpVault, error) {
	if cfg.VaultAddr == "" || cfg.VaultToken == "" {
		return nil, fmt.Errorf("%w: vault addr and token required", ErrMissingConfig)
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.VaultAddr
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault: client: %w", err)
	}
	client.SetToken(cfg.VaultToken)

	path := strings.Trim(cfg.TransitPath, "/")
	if path == "" {
		path = "transit"
	}
	key := strings.TrimSpace(cfg.TransitKey)
	if key == "" {
		return nil, fmt.Errorf("%w: transit key required", ErrMissingConfig)
	}
	return &HashiCorpVault{client: client, path: path, key: key}, nil
}

func (v *HashiCorpVault) Encrypt(plaintext []byte) ([]byte, error) {
	secret, err := v.client.Logical().Write(v.path+"/encrypt/"+v.key, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: transit encrypt: %w", err)
	}
	if secret == nil {
		return nil, ErrInvalidPayload
	}
	ciphertext, _ := secret.Data["ciphertext"].(string)
	if ciphertext == "" {
		return nil, ErrInvalidPayload
	}
	return json.Marshal(EncryptedData{Version: versionTransit, Ciphertext: ciphertext})
}

func (v *HashiCorpVault) Decrypt(data []byte) ([]byte, error) {
	var payload EncryptedData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Version != versionTransit {
		return nil, ErrInvalidPayload
	}

	secret, err := v.client.Logical().Write(v.path+"/decrypt/"+v.key, map[string]any{
		"ciphertext": payload.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if secret == nil {
		return nil, ErrDecryption
	}
	encoded, _ := secret.Data["plaintext"].(string)
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
