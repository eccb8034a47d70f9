package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	// MaxPacketSize is the nominal size of a game packet.
	MaxPacketSize = 256
	// DefaultCapacity is the default receive buffer capacity of a connection.
	DefaultCapacity = MaxPacketSize * 512
)

// Mode is the framing protocol of a connection.
type Mode int

const (
	ModeUndetermined Mode = iota // No bytes inspected yet
	ModeBinary                   // 4-byte length-prefixed frames
	ModeHTTP                     // HTTP text frames
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeUndetermined:
		return "undetermined"
	case ModeBinary:
		return "binary"
	case ModeHTTP:
		return "http"
	default:
		return "unknown"
	}
}

var (
	headerTerminator = []byte("\r\n\r\n")
	contentLength    = []byte("content-length:")
	requestMethods   = [][]byte{
		[]byte("GET "),
		[]byte("POST "),
		[]byte("PUT "),
		[]byte("DELETE "),
		[]byte("HEAD "),
		[]byte("TRACE "),
		[]byte("CONNECT "),
		[]byte("OPTIONS "),
		[]byte("PATCH "),
	}
)

// DetectMode inspects the first bytes ever received on a connection. A known
// request method followed by a space selects ModeHTTP; anything that cannot
// become such a request line selects ModeBinary. While buf is still a proper
// prefix of a method token the decision is deferred.
//
// Parameters:
//   - buf: The bytes received so far
//
// Returns:
//   - The detected mode and true, or ModeUndetermined and false when more bytes are needed
func DetectMode(buf []byte) (Mode, bool) {
	if len(buf) == 0 {
		return ModeUndetermined, false
	}

	undecided := false
	for _, method := range requestMethods {
		if bytes.HasPrefix(buf, method) {
			return ModeHTTP, true
		}

		if len(buf) < len(method) && bytes.HasPrefix(method, buf) {
			undecided = true
		}
	}

	if undecided {
		return ModeUndetermined, false
	}

	return ModeBinary, true
}

// IsHTTPRequest reports whether message starts with an HTTP request line.
func IsHTTPRequest(message []byte) bool {
	mode, decided := DetectMode(message)
	return decided && mode == ModeHTTP
}

// Extract takes one complete frame from the front of buf.
//
// Parameters:
//   - buf: Buffered, not yet consumed bytes
//   - mode: ModeBinary or ModeHTTP
//   - capacity: The receive buffer capacity; frames that cannot fit are rejected
//
// Returns:
//   - The extracted packet and the number of bytes it consumed, or (nil, 0, nil)
//     when buf does not yet hold a complete frame
//   - ErrMalformedFrame or ErrFrameTooLarge when buf can never yield a valid frame
func Extract(buf []byte, mode Mode, capacity int) (*Packet, int, error) {
	switch mode {
	case ModeBinary:
		return extractBinary(buf, capacity)
	case ModeHTTP:
		return extractHTTP(buf, capacity)
	default:
		return nil, 0, nil
	}
}

func extractBinary(buf []byte, capacity int) (*Packet, int, error) {
	if len(buf) < PrefixSize {
		return nil, 0, nil
	}

	declared := binary.BigEndian.Uint32(buf)
	if declared < PrefixSize {
		return nil, 0, fmt.Errorf("declared length %d: %w", declared, ErrMalformedFrame)
	}

	if uint64(declared) > uint64(capacity) {
		return nil, 0, fmt.Errorf("declared length %d, capacity %d: %w", declared, capacity, ErrFrameTooLarge)
	}

	size := int(declared)
	if len(buf) < size {
		return nil, 0, nil
	}

	data := make([]byte, size)
	copy(data, buf[:size])
	return &Packet{typ: Binary, data: data}, size, nil
}

func extractHTTP(buf []byte, capacity int) (*Packet, int, error) {
	end := bytes.Index(buf, headerTerminator)
	if end < 0 {
		return nil, 0, nil
	}

	total := end + len(headerTerminator)
	body, err := declaredBody(buf[:end])
	if err != nil {
		return nil, 0, err
	}

	if total > capacity || body > capacity-total {
		return nil, 0, fmt.Errorf("request body of %d bytes, capacity %d: %w", body, capacity, ErrFrameTooLarge)
	}

	total += body

	if len(buf) < total {
		return nil, 0, nil
	}

	return NewHTTP(string(buf[:total])), total, nil
}

// declaredBody returns the Content-Length of a header block, or 0 when absent.
func declaredBody(header []byte) (int, error) {
	for _, line := range bytes.Split(header, []byte("\r\n")) {
		if len(line) < len(contentLength) || !bytes.EqualFold(line[:len(contentLength)], contentLength) {
			continue
		}

		value := string(bytes.TrimSpace(line[len(contentLength):]))
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("content-length %q: %w", value, ErrMalformedFrame)
		}

		return n, nil
	}

	return 0, nil
}
