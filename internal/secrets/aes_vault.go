package secrets

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/pkg/schema"
)

// VaultConfig configures the AES vault key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// AESVault encrypts credential bodies with AES-256-GCM before persisting.
type AESVault struct {
	store CredentialStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault with AES-256-GCM encryption.
func NewAESVault(s CredentialStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
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
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key([]byte(cfg.Passphrase), cfg.Salt, iterations, 32, sha256.New), nil
}

func (v *AESVault) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *AESVault) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

// Store encrypts and persists a credential body, returning the credential ID.
func (v *AESVault) Store(ctx context.Context, id, name string, body []byte) (string, error) {
	encrypted, err := v.encrypt(body)
	if err != nil {
		return "", err
	}
	cred := &store.Credential{ID: id, Name: name, Body: encrypted}
	if err := v.store.StoreCredential(ctx, cred); err != nil {
		return "", err
	}
	return cred.ID, nil
}

// Resolve loads and decrypts a credential body.
func (v *AESVault) Resolve(ctx context.Context, id string) ([]byte, error) {
	cred, err := v.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.decrypt(cred.Body)
}

func (v *AESVault) Delete(ctx context.Context, id string) error {
	return v.store.DeleteCredential(ctx, id)
}

// ScalarValues decrypts the credential body and collects its scalar leaves.
func (v *AESVault) ScalarValues(ctx context.Context, id string) ([]string, error) {
	body, err := v.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return ScalarLeaves(body)
}

// ScalarLeaves walks a JSON document and returns every string and numeric
// leaf value in its display form, depth-first in document order. Booleans and
// nulls are excluded: they are never maskable secrets.
func ScalarLeaves(body []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "credential body is not valid JSON: %s", err.Error())
	}

	var leaves []string
	collectLeaves(root, &leaves)
	return leaves, nil
}

func collectLeaves(node any, out *[]string) {
	switch v := node.(type) {
	case string:
		*out = append(*out, v)
	case json.Number:
		*out = append(*out, v.String())
	case map[string]any:
		// Map iteration order is randomized; sorting keys keeps the output
		// deterministic for callers that compare sets.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			collectLeaves(v[k], out)
		}
	case []any:
		for _, item := range v {
			collectLeaves(item, out)
		}
	}
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
