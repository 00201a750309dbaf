// Package signedcookie creates and verifies HMAC-signed, timestamped cookie values.
//
// A version 2 token has the layout
//
//	2|<n>:<key_version>|<n>:<timestamp>|<n>:<name>|<n>:<base64(value)>|<hex signature>
//
// where every <n> is the byte length of the field that follows it and the signature is
// HMAC-SHA256 over everything up to and including the last "|".
package signedcookie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Version2 is the only token format this package produces or accepts.
const Version2 = 2

// maxFutureSkew bounds how far ahead of the local clock a token timestamp may be.
const maxFutureSkew = 31 * 24 * time.Hour

var (
	ErrMalformed          = errors.New("malformed signed value")
	ErrUnsupportedVersion = errors.New("unsupported version of signed cookie")
	ErrBadSignature       = errors.New("invalid signature")
	ErrExpired            = errors.New("signed value expired")
	ErrFromFuture         = errors.New("signed value timestamp is in the future")
	ErrUnknownKeyVersion  = errors.New("unknown key version")
	ErrNameMismatch       = errors.New("signed value name mismatch")
)

// CreateSignedValue signs name/value with secret under key version 0 using the
// clock's current time.
func CreateSignedValue(secret, name, value string, clock clockwork.Clock) string {
	return create(secret, 0, clock.Now().Unix(), name, value)
}

// DecodeTokenFromCookie verifies token against secret and returns the embedded value.
// It does not check freshness; use a Signer for that.
func DecodeTokenFromCookie(secret, token string) (string, error) {
	f, err := parse(token)
	if err != nil {
		return "", err
	}
	if !f.validSignature(secret) {
		return "", ErrBadSignature
	}
	return f.decodedValue()
}

func create(secret string, keyVersion int, timestamp int64, name, value string) string {
	var b strings.Builder
	b.WriteString("2|")
	writeField(&b, strconv.Itoa(keyVersion))
	writeField(&b, strconv.FormatInt(timestamp, 10))
	writeField(&b, name)
	writeField(&b, base64.StdEncoding.EncodeToString([]byte(value)))

	toSign := b.String()
	return toSign + signature(secret, toSign)
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte('|')
}

func signature(secret, toSign string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	return hex.EncodeToString(mac.Sum(nil))
}

type fields struct {
	keyVersion int
	timestamp  int64
	name       string
	value      string
	signature  string
	signed     string
}

func (f fields) validSignature(secret string) bool {
	expected := signature(secret, f.signed)
	return hmac.Equal([]byte(expected), []byte(f.signature))
}

func (f fields) decodedValue() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(f.value)
	if err != nil {
		return "", fmt.Errorf("%w: value is not base64: %v", ErrMalformed, err)
	}
	return string(raw), nil
}

func (f fields) issuedAt() time.Time {
	return time.Unix(f.timestamp, 0)
}

func parse(token string) (fields, error) {
	version, rest, ok := strings.Cut(token, "|")
	if !ok {
		return fields{}, ErrMalformed
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return fields{}, ErrMalformed
	}
	if v != Version2 {
		return fields{}, ErrUnsupportedVersion
	}

	var parts [4]string
	for i := range parts {
		parts[i], rest, err = consumeField(rest)
		if err != nil {
			return fields{}, err
		}
	}

	keyVersion, err := strconv.Atoi(parts[0])
	if err != nil {
		return fields{}, fmt.Errorf("%w: key version %q", ErrMalformed, parts[0])
	}
	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fields{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, parts[1])
	}
	if rest == "" {
		return fields{}, fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	return fields{
		keyVersion: keyVersion,
		timestamp:  timestamp,
		name:       parts[2],
		value:      parts[3],
		signature:  rest,
		signed:     token[:len(token)-len(rest)],
	}, nil
}

// consumeField reads one "<n>:<field>|" from s and returns the field and the remainder.
func consumeField(s string) (string, string, error) {
	length, rest, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("%w: missing length prefix", ErrMalformed)
	}
	n, err := strconv.Atoi(length)
	if err != nil || n < 0 {
		return "", "", fmt.Errorf("%w: bad length %q", ErrMalformed, length)
	}
	if len(rest) < n+1 || rest[n] != '|' {
		return "", "", fmt.Errorf("%w: field shorter than declared length", ErrMalformed)
	}
	return rest[:n], rest[n+1:], nil
}
