package sandbox

import (
	"context"
	"fmt"
	"regexp"
)

// Keys become part of a database name, so they are restricted to a safe
// identifier alphabet.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

var prefixPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,31}$`)

func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ValidatePrefix checks a namespace prefix. It is joined with keys into
// the database URI, so it may not carry URI syntax.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("invalid namespace prefix %q: want a letter followed by up to 31 letters, digits, '_' or '-'", prefix)
	}
	return nil
}

// KeyProvider resolves the sandbox key that applies to the current call.
type KeyProvider interface {
	SandboxKey(ctx context.Context) (string, bool)
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(ctx context.Context) (string, bool)

func (f KeyProviderFunc) SandboxKey(ctx context.Context) (string, bool) {
	return f(ctx)
}

type ctxKey struct{}

// WithKey binds a sandbox key to ctx.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKey{}, key)
}

func KeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(ctxKey{}).(string)
	return key, ok && key != ""
}

// ContextKeyProvider reads the key bound by WithKey.
type ContextKeyProvider struct{}

func (ContextKeyProvider) SandboxKey(ctx context.Context) (string, bool) {
	return KeyFromContext(ctx)
}
