package secrets

import "context"

// CredentialResolver turns an opaque credential reference (a node's
// `credentialRef`) into its secret bundle. Bundles are fetched right before a
// step runs and must never be cached across nodes or logged.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (map[string]string, error)
}

// Vault stores credential bundles encrypted at rest and resolves them
// in-memory only.
type Vault interface {
	CredentialResolver
	Put(ctx context.Context, ref string, bundle map[string]string) error
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
