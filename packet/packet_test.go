package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBinary(t *testing.T) {
	t.Run("PING frames with an 8 byte prefix", func(t *testing.T) {
		p := NewBinary([]byte("PING"))
		assert.Equal(t, Binary, p.Type())
		assert.Equal(t, []byte("\x00\x00\x00\x08PING"), p.Bytes())
		assert.Equal(t, 8, p.Size())
		assert.Equal(t, []byte("PING"), p.Data())
		assert.Equal(t, p.Bytes(), p.Wire())
	})

	t.Run("empty payload is a bare prefix", func(t *testing.T) {
		p := NewBinary(nil)
		assert.Equal(t, PrefixSize, p.Size())
		assert.Empty(t, p.Data())
	})

	t.Run("payload is copied", func(t *testing.T) {
		payload := []byte("abc")
		p := NewBinary(payload)
		payload[0] = 'x'
		assert.Equal(t, []byte("abc"), p.Data())
	})
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("PING"),
		bytes.Repeat([]byte{0xAB}, 1000),
		{0, 0, 0, 0, 1},
	}

	for _, payload := range payloads {
		framed := NewBinary(payload).Bytes()

		parsed, n, err := Extract(framed, ModeBinary, DefaultCapacity)
		require.NoError(t, err)
		require.NotNil(t, parsed)
		assert.Equal(t, len(framed), n)
		assert.Equal(t, len(payload)+PrefixSize, parsed.Size())
		assert.Equal(t, payload, parsed.Data())
	}
}

func TestNewText(t *testing.T) {
	p := NewText("hello")
	assert.Equal(t, Text, p.Type())
	assert.Equal(t, 9, p.Size())
	assert.Equal(t, "hello", p.Text())
	assert.Equal(t, "Text", p.Type().String())
}

func TestNewHTTP(t *testing.T) {
	text := "HTTP/1.1 200 OK\r\n\r\n"
	p := NewHTTP(text)

	assert.Equal(t, Http, p.Type())
	assert.Equal(t, len(text), p.Size())
	assert.Equal(t, []byte(text), p.Data())
	assert.Equal(t, []byte(text), p.Wire())
	assert.Equal(t, []byte{0, 0, 0, 0}, p.Bytes()[:PrefixSize])
}

func TestParse(t *testing.T) {
	t.Run("valid frame", func(t *testing.T) {
		p, err := Parse([]byte("\x00\x00\x00\x08PING"))
		require.NoError(t, err)
		assert.Equal(t, 8, p.Size())
		assert.Equal(t, "PING", p.Text())
	})

	t.Run("shorter than prefix", func(t *testing.T) {
		_, err := Parse([]byte{0, 0})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("declared length below prefix width", func(t *testing.T) {
		_, err := Parse([]byte{0, 0, 0, 2})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("declared length disagrees with buffer", func(t *testing.T) {
		_, err := Parse([]byte("\x00\x00\x00\x09PING"))
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestNewSizedAndPatch(t *testing.T) {
	p, err := NewSized(8)
	require.NoError(t, err)
	assert.Equal(t, 12, p.Size())
	assert.Equal(t, make([]byte, 8), p.Data())

	t.Run("in-bounds patch", func(t *testing.T) {
		require.NoError(t, p.Patch(2, []byte("ab")))
		assert.Equal(t, []byte{0, 0, 'a', 'b', 0, 0, 0, 0}, p.Data())
	})

	t.Run("patch ending exactly at payload end", func(t *testing.T) {
		require.NoError(t, p.Patch(4, []byte("wxyz")))
		assert.Equal(t, []byte("wxyz"), p.Data()[4:])
	})

	t.Run("patch past payload is rejected", func(t *testing.T) {
		err := p.Patch(6, []byte("abc"))
		assert.ErrorIs(t, err, ErrPatchOutOfBounds)
		assert.Equal(t, []byte("wxyz"), p.Data()[4:])
	})

	t.Run("negative offset is rejected", func(t *testing.T) {
		assert.ErrorIs(t, p.Patch(-1, []byte("a")), ErrPatchOutOfBounds)
	})

	t.Run("negative size is rejected", func(t *testing.T) {
		_, err := NewSized(-1)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}
