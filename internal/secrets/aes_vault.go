package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/rendis/flowforge/pkg/schema"
)

// VaultConfig configures the AES vault key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// AESVault encrypts credential bundles with AES-256-GCM before persisting.
// The reference is bound as additional data, so a ciphertext copied under
// another reference fails to open.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault with AES-256-GCM encryption.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "aes cipher").WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "gcm").WithCause(err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func (v *AESVault) seal(ref string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(ref)), nil
}

func (v *AESVault) open(ref string, ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "credential %q: ciphertext too short", ref)
	}
	plaintext, err := v.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(ref))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "credential %q: decrypt failed", ref)
	}
	return plaintext, nil
}

// Put encrypts and stores a credential bundle under ref, replacing any
// previous bundle.
func (v *AESVault) Put(ctx context.Context, ref string, bundle map[string]string) error {
	if ref == "" {
		return schema.NewError(schema.ErrCodeVault, "credential reference is empty")
	}
	if bundle == nil {
		bundle = map[string]string{}
	}
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return schema.NewError(schema.ErrCodeVault, "encode credential bundle").WithCause(err)
	}
	sealed, err := v.seal(ref, plaintext)
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, ref, sealed)
}

// Resolve decrypts the bundle stored under ref.
func (v *AESVault) Resolve(ctx context.Context, ref string) (map[string]string, error) {
	sealed, err := v.store.GetSecret(ctx, ref)
	if err != nil {
		return nil, err
	}
	plaintext, err := v.open(ref, sealed)
	if err != nil {
		return nil, err
	}
	var bundle map[string]string
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "credential %q: malformed bundle", ref)
	}
	return bundle, nil
}

// Delete removes the bundle stored under ref.
func (v *AESVault) Delete(ctx context.Context, ref string) error {
	return v.store.DeleteSecret(ctx, ref)
}

// List returns every stored reference.
func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}

var _ Vault = (*AESVault)(nil)
