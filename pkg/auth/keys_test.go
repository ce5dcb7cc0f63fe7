package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	pubKey, err := DecodePublicKey(pub)
	require.NoError(t, err)
	privKey, err := DecodePrivateKey(priv)
	require.NoError(t, err)

	assert.Equal(t, privKey.Public(), pubKey)
}

func TestSolveVerifies(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	chal, err := NewChallenge(16)
	require.NoError(t, err)

	sig, encodedPub, err := Solve(chal, priv)
	require.NoError(t, err)
	assert.Equal(t, pub, encodedPub)

	pubKey, err := DecodePublicKey(encodedPub)
	require.NoError(t, err)
	assert.True(t, IsValidSignature(chal, sig, pubKey))

	other, err := NewChallenge(16)
	require.NoError(t, err)
	assert.False(t, IsValidSignature(other, sig, pubKey))
}

func TestIsValidSignatureMalformed(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	assert.False(t, IsValidSignature([]byte("chal"), []byte{1, 2, 3}, pub))
	assert.False(t, IsValidSignature([]byte("chal"), make([]byte, ed25519.SignatureSize), ed25519.PublicKey{1, 2}))
}

func TestDecodePublicKeyRejectsGarbage(t *testing.T) {
	_, err := DecodePublicKey([]byte("definitely not DER"))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, _, err = ParsePublicKey("zz")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestParsePublicKeyHex(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	encoded, key, err := ParsePublicKey(FormatPublicKey(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, encoded)
	assert.Len(t, key, ed25519.PublicKeySize)
}

func TestNewChallenge(t *testing.T) {
	_, err := NewChallenge(MinChallengeSize - 1)
	assert.ErrorIs(t, err, ErrChallengeTooShort)

	a, err := NewChallenge(MinChallengeSize)
	require.NoError(t, err)
	b, err := NewChallenge(MinChallengeSize)
	require.NoError(t, err)
	assert.Len(t, a, MinChallengeSize)
	assert.Len(t, b, MinChallengeSize)
}
