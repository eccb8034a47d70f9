package packet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMode(t *testing.T) {
	t.Run("request line selects http", func(t *testing.T) {
		mode, ok := DetectMode([]byte("GET / HTTP/1.1\r\n\r\n"))
		assert.True(t, ok)
		assert.Equal(t, ModeHTTP, mode)
	})

	t.Run("every known method selects http", func(t *testing.T) {
		for _, m := range []string{"POST", "PUT", "DELETE", "HEAD", "TRACE", "CONNECT", "OPTIONS", "PATCH"} {
			mode, ok := DetectMode([]byte(m + " /x HTTP/1.0\r\n"))
			assert.True(t, ok, m)
			assert.Equal(t, ModeHTTP, mode, m)
		}
	})

	t.Run("length prefix selects binary", func(t *testing.T) {
		mode, ok := DetectMode([]byte("\x00\x00\x00\x08PING"))
		assert.True(t, ok)
		assert.Equal(t, ModeBinary, mode)
	})

	t.Run("partial method defers the decision", func(t *testing.T) {
		mode, ok := DetectMode([]byte("GE"))
		assert.False(t, ok)
		assert.Equal(t, ModeUndetermined, mode)

		_, ok = DetectMode([]byte("OPTION"))
		assert.False(t, ok)
	})

	t.Run("method without space is binary", func(t *testing.T) {
		mode, ok := DetectMode([]byte("GETX"))
		assert.True(t, ok)
		assert.Equal(t, ModeBinary, mode)
	})

	t.Run("empty buffer is undecided", func(t *testing.T) {
		_, ok := DetectMode(nil)
		assert.False(t, ok)
	})

	t.Run("IsHTTPRequest", func(t *testing.T) {
		assert.True(t, IsHTTPRequest([]byte("HEAD / HTTP/1.1\r\n")))
		assert.False(t, IsHTTPRequest([]byte("GE")))
		assert.False(t, IsHTTPRequest([]byte{0, 0, 0, 4}))
	})
}

func TestExtractBinary(t *testing.T) {
	frame := NewBinary([]byte("PING")).Bytes()

	t.Run("incomplete prefix", func(t *testing.T) {
		p, n, err := Extract(frame[:3], ModeBinary, DefaultCapacity)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Zero(t, n)
	})

	t.Run("incomplete payload", func(t *testing.T) {
		p, n, err := Extract(frame[:6], ModeBinary, DefaultCapacity)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Zero(t, n)
	})

	t.Run("two frames yield the first", func(t *testing.T) {
		buf := append(append([]byte{}, frame...), NewBinary([]byte("PONG!")).Bytes()...)
		p, n, err := Extract(buf, ModeBinary, DefaultCapacity)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 8, n)
		assert.Equal(t, "PING", p.Text())

		p, n, err = Extract(buf[n:], ModeBinary, DefaultCapacity)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 9, n)
		assert.Equal(t, "PONG!", p.Text())
	})

	t.Run("declared length larger than capacity", func(t *testing.T) {
		_, _, err := Extract([]byte{0, 0, 1, 0}, ModeBinary, 128)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("declared length below prefix width", func(t *testing.T) {
		_, _, err := Extract([]byte{0, 0, 0, 3, 1}, ModeBinary, 128)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("undetermined mode never extracts", func(t *testing.T) {
		p, n, err := Extract(frame, ModeUndetermined, DefaultCapacity)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Zero(t, n)
	})
}

func TestExtractHTTP(t *testing.T) {
	t.Run("header terminator completes a bodiless request", func(t *testing.T) {
		req := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
		p, n, err := Extract([]byte(req+"GET"), ModeHTTP, DefaultCapacity)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, len(req), n)
		assert.Equal(t, Http, p.Type())
		assert.Equal(t, req, string(p.Data()))
		assert.Equal(t, len(req), p.Size())
	})

	t.Run("missing terminator is incomplete", func(t *testing.T) {
		p, n, err := Extract([]byte("GET / HTTP/1.1\r\nHost: x\r\n"), ModeHTTP, DefaultCapacity)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Zero(t, n)
	})

	t.Run("content-length waits for the body", func(t *testing.T) {
		head := "POST /e HTTP/1.1\r\ncontent-LENGTH: 5\r\n\r\n"
		p, _, err := Extract([]byte(head+"abc"), ModeHTTP, DefaultCapacity)
		require.NoError(t, err)
		assert.Nil(t, p)

		p, n, err := Extract([]byte(head+"abcde"), ModeHTTP, DefaultCapacity)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, len(head)+5, n)
	})

	t.Run("malformed content-length", func(t *testing.T) {
		_, _, err := Extract([]byte("POST / HTTP/1.1\r\nContent-Length: x\r\n\r\n"), ModeHTTP, DefaultCapacity)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("body larger than capacity", func(t *testing.T) {
		_, _, err := Extract([]byte("POST / HTTP/1.1\r\nContent-Length: 4096\r\n\r\n"), ModeHTTP, 256)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("content-length near the integer limit", func(t *testing.T) {
		for _, value := range []string{"9223372036854775807", "9223372036854775800", fmt.Sprint(DefaultCapacity)} {
			req := []byte("POST / HTTP/1.1\r\nContent-Length: " + value + "\r\n\r\n")
			var err error
			require.NotPanics(t, func() {
				_, _, err = Extract(req, ModeHTTP, DefaultCapacity)
			}, value)
			assert.ErrorIs(t, err, ErrFrameTooLarge, value)
		}
	})

	t.Run("body exactly filling capacity is accepted", func(t *testing.T) {
		head := "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n"
		req := head + "0123456789"
		p, n, err := Extract([]byte(req), ModeHTTP, len(req))
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, len(req), n)
	})
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "binary", ModeBinary.String())
	assert.Equal(t, "http", ModeHTTP.String())
	assert.Equal(t, "undetermined", ModeUndetermined.String())
}
