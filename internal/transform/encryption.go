package transform

import "context"

// APIKeyDecryptor is the embedder-encryption seam (§4.G step 1, §9's
// redesign note: "encryption service is a seam, not a primitive"). A
// concrete implementation calls out to whatever key-management service
// guards embedder API keys at rest; the scanner depends only on this
// interface.
type APIKeyDecryptor interface {
	DecryptAPIKey(ctx context.Context, encrypted string) (string, error)
}

// APIKeyDecryptorFunc adapts a plain function to APIKeyDecryptor.
type APIKeyDecryptorFunc func(ctx context.Context, encrypted string) (string, error)

func (f APIKeyDecryptorFunc) DecryptAPIKey(ctx context.Context, encrypted string) (string, error) {
	return f(ctx, encrypted)
}
