package secrets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	scryptN = 1 << 10
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := EncryptString("sk-ant-123", "hunter2")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "sk-ant-123")

	plain, decrypted, err := DecryptString(sealed, "hunter2")
	require.NoError(t, err)
	assert.True(t, decrypted)
	assert.Equal(t, "sk-ant-123", plain)
}

func TestDecryptWrongPassword(t *testing.T) {
	sealed, err := EncryptString("value", "right")
	require.NoError(t, err)

	_, _, err = DecryptString(sealed, "wrong")
	assert.True(t, errors.Is(err, ErrInvalidPassword))
}

func TestDecryptPlainValuePassesThrough(t *testing.T) {
	plain, decrypted, err := DecryptString("plain-key", "pw")
	require.NoError(t, err)
	assert.False(t, decrypted)
	assert.Equal(t, "plain-key", plain)
}

func TestDecryptMalformed(t *testing.T) {
	_, _, err := DecryptString(SecretPrefix+"!!!", "pw")
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, _, err = DecryptString(SecretPrefix+"AAAA", "pw")
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestEncryptEmpty(t *testing.T) {
	sealed, err := EncryptString("", "pw")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}
