package signedcookie

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Signer signs and verifies values with a set of versioned secrets.
// New values are always signed with the current key; previous keys only verify.
type Signer struct {
	secret     string
	keyVersion int
	previous   map[int]string
	clock      clockwork.Clock
	maxAge     time.Duration
}

type Option func(*Signer)

// WithMaxAge rejects tokens older than d. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(s *Signer) { s.maxAge = d }
}

// WithKeyVersion sets the version recorded in tokens signed with the current secret.
func WithKeyVersion(version int) Option {
	return func(s *Signer) { s.keyVersion = version }
}

// WithPreviousKey keeps accepting tokens signed under version with secret.
// The current key wins when both claim the same version.
func WithPreviousKey(version int, secret string) Option {
	return func(s *Signer) { s.previous[version] = secret }
}

// NewSigner returns a Signer whose current key is secret, at version 0 unless
// WithKeyVersion says otherwise.
func NewSigner(secret string, clock clockwork.Clock, opts ...Option) *Signer {
	s := &Signer{
		secret:   secret,
		previous: make(map[int]string),
		clock:    clock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeyVersion is the version new tokens are signed under.
func (s *Signer) KeyVersion() int { return s.keyVersion }

func (s *Signer) secretFor(version int) (string, bool) {
	if version == s.keyVersion {
		return s.secret, true
	}
	secret, ok := s.previous[version]
	return secret, ok
}

// Sign produces a version 2 token for name/value.
func (s *Signer) Sign(name, value string) string {
	return create(s.secret, s.keyVersion, s.clock.Now().Unix(), name, value)
}

// SignVersion is Sign with an explicit token format version.
func (s *Signer) SignVersion(name, value string, version int) (string, error) {
	if version != Version2 {
		return "", ErrUnsupportedVersion
	}
	return s.Sign(name, value), nil
}

// Verify checks token and returns its value. An empty name skips the name check.
func (s *Signer) Verify(name, token string) (string, error) {
	f, err := parse(token)
	if err != nil {
		return "", err
	}

	secret, ok := s.secretFor(f.keyVersion)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownKeyVersion, f.keyVersion)
	}
	if !f.validSignature(secret) {
		return "", ErrBadSignature
	}
	if name != "" && f.name != name {
		return "", ErrNameMismatch
	}

	now := s.clock.Now()
	if s.maxAge > 0 && f.issuedAt().Before(now.Add(-s.maxAge)) {
		return "", ErrExpired
	}
	if f.issuedAt().After(now.Add(maxFutureSkew)) {
		return "", ErrFromFuture
	}

	return f.decodedValue()
}

// IsAuthFailure reports whether err means the token must not be trusted,
// as opposed to an unexpected internal failure.
func IsAuthFailure(err error) bool {
	for _, target := range []error{
		ErrMalformed, ErrUnsupportedVersion, ErrBadSignature, ErrExpired,
		ErrFromFuture, ErrUnknownKeyVersion, ErrNameMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
