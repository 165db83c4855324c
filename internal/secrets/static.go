package secrets

import (
	"context"
	"maps"
	"strings"

	"github.com/rendis/flowforge/pkg/schema"
)

// StaticResolver serves bundles from memory. Each call returns a fresh copy
// so callers cannot alias the stored bundle.
type StaticResolver map[string]map[string]string

// Resolve implements CredentialResolver.
func (s StaticResolver) Resolve(_ context.Context, ref string) (map[string]string, error) {
	bundle, ok := s[ref]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", ref)
	}
	return maps.Clone(bundle), nil
}

// Redact replaces every value of bundle found in text with "***". Steps use
// it before echoing responses that may contain credentials.
func Redact(text string, bundle map[string]string) string {
	for _, v := range bundle {
		if len(v) < 4 {
			continue
		}
		text = strings.ReplaceAll(text, v, "***")
	}
	return text
}
