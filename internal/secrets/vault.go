package secrets

import (
	"context"

	"github.com/loomery/loom/internal/store"
)

// Vault stores credential bodies encrypted at rest (AES-256-GCM) and resolves
// them in-memory only. ScalarValues feeds the redaction engine.
type Vault interface {
	Store(ctx context.Context, id, name string, body []byte) (string, error)
	Resolve(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// ScalarValues returns every scalar leaf value found in the credential's
	// JSON body, rendered as display strings.
	ScalarValues(ctx context.Context, id string) ([]string, error)
}

// CredentialStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type CredentialStore interface {
	StoreCredential(ctx context.Context, cred *store.Credential) error
	GetCredential(ctx context.Context, id string) (*store.Credential, error)
	DeleteCredential(ctx context.Context, id string) error
}
