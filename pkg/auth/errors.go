package auth

import "errors"

var (
	// ErrEmailTaken is returned by Register for an already registered email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidToken is returned for malformed, expired or foreign tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked is returned for tokens invalidated by logout.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrWeakPassword is returned when the password is shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too short")

	// ErrPasswordTooLong is returned when the password exceeds MaxPasswordLength bytes.
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")

	// ErrInvalidEmail is returned for addresses without a local part and domain.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrUserNotFound is returned by Store lookups.
	ErrUserNotFound = errors.New("user not found")
)
