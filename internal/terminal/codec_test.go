package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF8"} {
		c, err := NewCodec(name)
		require.NoError(t, err)
		assert.Equal(t, "utf-8", c.Name())
	}
	c, err := NewCodec("CP437")
	require.NoError(t, err)
	assert.Equal(t, "cp437", c.Name())

	_, err = NewCodec("ebcdic")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestUTF8DecodeIsChunkIndependent(t *testing.T) {
	input := []byte("héllo 界 wörld ✓")
	for split := 0; split <= len(input); split++ {
		c := &UTF8Codec{}
		a, err := c.Decode(input[:split])
		require.NoError(t, err)
		b, err := c.Decode(input[split:])
		require.NoError(t, err)
		assert.Equal(t, string(input), a+b, "split at %d", split)
	}
}

func TestUTF8DecodeByteAtATime(t *testing.T) {
	input := []byte("→界←")
	c := &UTF8Codec{}
	var out strings.Builder
	for i := range input {
		s, err := c.Decode(input[i : i+1])
		require.NoError(t, err)
		out.WriteString(s)
	}
	assert.Equal(t, string(input), out.String())
}

func TestUTF8DecodeInvalid(t *testing.T) {
	c := &UTF8Codec{}
	_, err := c.Decode([]byte{'a', 0xff, 'b'})
	assert.ErrorIs(t, err, ErrDecode)

	// The bad chunk is gone; decoding continues.
	s, err := c.Decode([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}

func TestCP437Decode(t *testing.T) {
	s, err := CP437Codec{}.Decode([]byte{'A', 0xb0, 0xdb, 0x82})
	require.NoError(t, err)
	assert.Equal(t, "A░█é", s)
}

func TestCP437AppendRune(t *testing.T) {
	b, ok := CP437Codec{}.AppendRune(nil, '█')
	assert.True(t, ok)
	assert.Equal(t, []byte{0xdb}, b)

	_, ok = CP437Codec{}.AppendRune(nil, '界')
	assert.False(t, ok)
}

func TestIncompleteUTF8Tail(t *testing.T) {
	assert.Equal(t, 0, incompleteUTF8Tail([]byte("abc")))
	assert.Equal(t, 0, incompleteUTF8Tail([]byte("界")))
	assert.Equal(t, 1, incompleteUTF8Tail([]byte("界")[:1]))
	assert.Equal(t, 2, incompleteUTF8Tail(append([]byte("a"), []byte("界")[:2]...)))
}
