package auth

import (
	"context"
	"errors"
	"strings"
)

// SignatureVerifier checks that signature was produced by the wallet behind
// handle over message. The cryptographic scheme lives outside this service.
type SignatureVerifier interface {
	Verify(ctx context.Context, handle, message, signature string) error
}

// VerifierFunc adapts a function to SignatureVerifier.
type VerifierFunc func(ctx context.Context, handle, message, signature string) error

// Verify implements SignatureVerifier.
func (f VerifierFunc) Verify(ctx context.Context, handle, message, signature string) error {
	return f(ctx, handle, message, signature)
}

// DevVerifier accepts any non-empty signature. Never enable it in production.
var DevVerifier = VerifierFunc(func(_ context.Context, handle, message, signature string) error {
	if strings.TrimSpace(handle) == "" || strings.TrimSpace(signature) == "" {
		return ErrInvalidSignature
	}
	return nil
})

// UnavailableVerifier rejects every signature; used when no verifier is wired.
var UnavailableVerifier = VerifierFunc(func(context.Context, string, string, string) error {
	return errors.Join(ErrInvalidSignature, errors.New("signature verification is not configured"))
})
