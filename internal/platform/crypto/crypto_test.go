package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyA = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	keyB = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

func TestNewAESGCM_Validation(t *testing.T) {
	tests := []struct {
		name    string
		keys    map[string]string
		current string
		wantErr string
	}{
		{"empty keys", map[string]string{}, "v1", "at least one key required"},
		{"missing current", map[string]string{"v1": keyA}, "v2", "current version v2 not found"},
		{"invalid hex", map[string]string{"v1": "zzzz"}, "v1", "invalid key for version v1"},
		{"short key", map[string]string{"v1": keyA[:62]}, "v1", "invalid key for version v1"},
		{"separator in version", map[string]string{"v$1": keyA}, "v$1", "invalid key version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewAESGCM(tt.keys, tt.current)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAESGCM_Roundtrip(t *testing.T) {
	svc, err := NewAESGCM(map[string]string{"v1": keyA}, "v1")
	require.NoError(t, err)

	ct, err := svc.Encrypt("gho_oauth_token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "v1$"))
	assert.NotContains(t, ct, "gho_oauth_token")

	pt, err := svc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "gho_oauth_token", pt)
}

func TestAESGCM_UniqueNonces(t *testing.T) {
	svc, err := NewAESGCM(map[string]string{"v1": keyA}, "v1")
	require.NoError(t, err)

	ct1, _ := svc.Encrypt("same")
	ct2, _ := svc.Encrypt("same")
	assert.NotEqual(t, ct1, ct2)
}

func TestAESGCM_Rotation(t *testing.T) {
	old, err := NewAESGCM(map[string]string{"v1": keyA}, "v1")
	require.NoError(t, err)
	legacy, err := old.Encrypt("token")
	require.NoError(t, err)

	rotated, err := NewAESGCM(map[string]string{"v1": keyA, "v2": keyB}, "v2")
	require.NoError(t, err)

	pt, err := rotated.Decrypt(legacy)
	require.NoError(t, err)
	assert.Equal(t, "token", pt)
	assert.True(t, rotated.NeedsReencrypt(legacy))

	fresh, err := rotated.Encrypt("token")
	require.NoError(t, err)
	assert.False(t, rotated.NeedsReencrypt(fresh))

	_, err = old.Decrypt(fresh)
	assert.ErrorIs(t, err, ErrUnknownKeyVersion)
}

func TestAESGCM_VersionIsAuthenticated(t *testing.T) {
	svc, err := NewAESGCM(map[string]string{"v1": keyA, "v2": keyA}, "v1")
	require.NoError(t, err)

	ct, err := svc.Encrypt("token")
	require.NoError(t, err)

	relabelled := "v2" + strings.TrimPrefix(ct, "v1")
	_, err = svc.Decrypt(relabelled)
	assert.Error(t, err)
}

func TestAESGCM_DecryptErrors(t *testing.T) {
	svc, err := NewAESGCM(map[string]string{"v1": keyA}, "v1")
	require.NoError(t, err)

	for _, input := range []string{"no-version", "v1$not-hex", "v1$abcd", "v1$" + strings.Repeat("00", 40)} {
		_, err := svc.Decrypt(input)
		assert.Error(t, err, input)
	}
}

func TestNoopService(t *testing.T) {
	var svc Service = NoopService{}
	ct, err := svc.Encrypt("plain")
	require.NoError(t, err)
	pt, err := svc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "plain", pt)
}
