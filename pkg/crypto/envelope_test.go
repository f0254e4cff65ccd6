package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c := NewCipher("super-secret-master-key")

	enc, err := c.Encrypt("hunter2")
	require.NoError(t, err)

	assert.True(t, IsEncrypted(enc))
	assert.Contains(t, enc, "ENC:v1:")

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", dec)
}

func TestDecryptLegacyPlaintextPassthrough(t *testing.T) {
	c := NewCipher("super-secret-master-key")

	dec, err := c.Decrypt("hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", dec)
	assert.False(t, IsEncrypted("hunter2"))
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	c := NewCipher("super-secret-master-key")

	a, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each encryption must use a fresh nonce")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := NewCipher("super-secret-master-key")

	enc, err := c.Encrypt("hunter2")
	require.NoError(t, err)

	tampered := enc[:len(enc)-2] + "zz"
	_, err = c.Decrypt(tampered)
	assert.Error(t, err)
}

func TestRefuseInsecureMasterKey(t *testing.T) {
	assert.ErrorIs(t, RefuseInsecureMasterKey("CHANGE_ME_IN_PRODUCTION"), ErrInsecureMasterKey)
	assert.NoError(t, RefuseInsecureMasterKey("a-real-master-key"))
}
