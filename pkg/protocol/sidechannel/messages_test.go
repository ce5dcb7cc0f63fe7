package sidechannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol"
)

func TestChallengeEncoding(t *testing.T) {
	nonce := []byte{0xde, 0xad, 0xbe, 0xef}
	b := NewChallenge(nonce).Encode()
	assert.Equal(t, []byte{1, 4, 0xde, 0xad, 0xbe, 0xef}, b)

	c, err := DecodeChallenge(b)
	require.NoError(t, err)
	assert.Equal(t, nonce, c.Nonce)
}

func TestResponseDecoding(t *testing.T) {
	r, err := DecodeResponse(NewResponse([]byte{1, 2}, []byte{3}).Encode())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, r.Signature)
	assert.Equal(t, []byte{3}, r.EncodedPublicKey)
}

func TestVersionMismatch(t *testing.T) {
	_, err := DecodeResponse(protocol.New(2, []byte{1}, []byte{2}).Bytes())

	var verr *VersionError
	require.ErrorAs(t, err, &verr)
	assert.EqualValues(t, 1, verr.Server)
	assert.EqualValues(t, 2, verr.Client)
}

func TestMalformed(t *testing.T) {
	_, err := DecodeResponse([]byte{1, 2, 1})
	assert.ErrorIs(t, err, protocol.ErrEndOfPacket)

	_, err = DecodeResponse(append(NewResponse([]byte{1}, []byte{2}).Encode(), 0))
	assert.ErrorIs(t, err, ErrTrailingData)

	_, err = DecodeChallenge(nil)
	assert.ErrorIs(t, err, protocol.ErrEndOfPacket)
}

func TestAnswer(t *testing.T) {
	priv, pub, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	nonce := []byte("0123456789abcdef")

	b, err := Answer(NewChallenge(nonce).Encode(), priv)
	require.NoError(t, err)
	r, err := DecodeResponse(b)
	require.NoError(t, err)
	assert.Equal(t, pub, r.EncodedPublicKey)

	key, err := auth.DecodePublicKey(r.EncodedPublicKey)
	require.NoError(t, err)
	assert.True(t, auth.IsValidSignature(nonce, r.Signature, key))

	_, err = Answer([]byte{9}, priv)
	assert.Error(t, err)
}
