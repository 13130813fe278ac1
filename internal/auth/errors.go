package auth

import (
	"errors"
	"fmt"

	"disbursa.org/internal/models"
)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", models.ErrUnauthenticated)
	// ErrInvalidSignature indicates the wallet signature did not verify.
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", models.ErrUnauthenticated)

	errMissingSecret = errors.New("auth secret is not configured")
)
