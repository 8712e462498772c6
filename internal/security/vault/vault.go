package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidKey      = errors.New("vault: invalid encryption key")
	ErrInvalidPayload  = errors.New("vault: invalid encrypted payload")
	ErrDecryption      = errors.New("vault: decryption failed")
	ErrUnknownProvider = errors.New("vault: unknown provider")
	ErrMissingConfig   = errors.New("vault: missing configuration")
)

const (
	versionAES     = 1
	versionTransit = 2
)

// Provider encrypts provider credentials before they are persisted. Output is
// always a JSON document so it fits a JSON column.
type Provider interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

type Config struct {
	Provider    string // "aes" or "hashicorp"
	AESKey      string
	VaultAddr   string
	VaultToken  string
	TransitPath string
	TransitKey  string
}

func NewFactory(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "hashicorp":
		return newHashiCorpVault(cfg)
	case "aes", "":
		return NewAESVault(cfg.AESKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// AESVault implements Provider using AES-256-GCM.
type AESVault struct {
	key []byte
}

// NewAESVault hashes keyStr so any non-empty secret yields a 256-bit key.
func NewAESVault(keyStr string) (*AESVault, error) {
	if strings.TrimSpace(keyStr) == "" {
		return nil, ErrInvalidKey
	}
	sum := sha256.Sum256([]byte(keyStr))
	return &AESVault{key: sum[:]}, nil
}

type EncryptedData struct {
	Version    int    `json:"v"`
	Nonce      string `json:"n,omitempty"`
	Ciphertext string `json:"c"`
}

func (v *AESVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *AESVault) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return json.Marshal(EncryptedData{
		Version:    versionAES,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	})
}

func (v *AESVault) Decrypt(data []byte) ([]byte, error) {
	var payload EncryptedData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Version != versionAES {
		return nil, ErrInvalidPayload
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrInvalidPayload
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
