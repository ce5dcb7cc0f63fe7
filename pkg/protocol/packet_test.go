package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntEncodingWidths(t *testing.T) {
	tests := []struct {
		in   int32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{-126, []byte{0x82}},
		{-127, []byte{0x80, 0x81, 0xff}},
		{128, []byte{0x80, 0x80, 0x00}},
		{-0x8000, []byte{0x80, 0x00, 0x80}},
		{0x8000, []byte{0x81, 0x00, 0x80, 0x00, 0x00}},
		{-0x8001, []byte{0x81, 0xff, 0x7f, 0xff, 0xff}},
	}

	for _, tt := range tests {
		p := New(tt.in)
		assert.Equal(t, tt.want, p.Bytes(), "encoding %d", tt.in)

		got, err := p.GetInt32()
		require.NoError(t, err)
		assert.Equal(t, tt.in, got)
		assert.False(t, p.HasRemaining())
	}
}

func TestByteArrayAndString(t *testing.T) {
	p := New(1, []byte{1, 2, 3}, "Ünïcode", true)

	v, err := p.GetInt32()
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	b, err := p.GetByteArray()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	s, err := p.GetString()
	require.NoError(t, err)
	assert.Equal(t, "Ünïcode", s)

	ok, err := p.GetBool()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestByteArrayLimits(t *testing.T) {
	_, err := New(make([]byte, MaxByteArrayLen+1)).GetByteArray()
	assert.ErrorIs(t, err, ErrByteArrayLen)

	_, err = New(-1).GetByteArray()
	assert.ErrorIs(t, err, ErrNegativeLen)

	_, err = FromBytes([]byte{5, 1, 2}).GetByteArray()
	assert.ErrorIs(t, err, ErrEndOfPacket)

	_, err = FromBytes([]byte{0x81, 1}).GetInt32()
	assert.ErrorIs(t, err, ErrEndOfPacket)

	_, err = New(make([]byte, MaxByteArrayLen)).GetByteArray()
	assert.NoError(t, err)
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, New(7, "hello")))
	require.NoError(t, WriteFrame(&buf, New([]byte{9})))

	p, err := ReadFrame(&buf)
	require.NoError(t, err)
	v, err := p.GetInt32()
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)
	s, err := p.GetString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	p, err = ReadFrame(&buf)
	require.NoError(t, err)
	b, err := p.GetByteArray()
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, b)

	_, err = ReadFrame(&buf)
	assert.Error(t, err)

	assert.ErrorIs(t, WriteFrame(&buf, New(make([]byte, MaxFrameLen))), ErrFrameTooLong)
}
