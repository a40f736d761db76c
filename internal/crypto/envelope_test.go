package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte { return []byte("01234567890123456789012345678901") }

func TestEnvelopeService_EncryptDecryptRoundTrips(t *testing.T) {
	svc, err := NewEnvelopeService(testKey())
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt("AB123456789")
	require.NoError(t, err)
	assert.NotEqual(t, "AB123456789", ciphertext)

	plaintext, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "AB123456789", plaintext)
}

func TestEnvelopeService_EncryptIsNonDeterministic(t *testing.T) {
	svc, err := NewEnvelopeService(testKey())
	require.NoError(t, err)

	a, err := svc.Encrypt("same-input")
	require.NoError(t, err)
	b, err := svc.Encrypt("same-input")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "nonce must differ between calls")
}

func TestEnvelopeService_HashIsStableAcrossInstances(t *testing.T) {
	svc1, err := NewEnvelopeService(testKey())
	require.NoError(t, err)
	svc2, err := NewEnvelopeService(testKey())
	require.NoError(t, err)

	assert.Equal(t, svc1.Hash("AB123456789"), svc2.Hash("AB123456789"))
}

func TestNewEnvelopeService_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewEnvelopeService([]byte("too-short"))
	assert.Error(t, err)
}
