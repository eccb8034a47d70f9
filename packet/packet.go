// Package packet defines the framed byte buffers moved by the socket core and
// the rules that decide when a buffered byte stream holds a complete frame.
//
// Binary and Text packets are laid out on the wire as a 4-byte big-endian
// length that counts itself, followed by the payload. Http packets keep the
// same 4-byte slot as an unused placeholder and carry raw request or response
// text after it; only the text is written to the socket.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cyberinferno/gamenet/utils"
)

// PrefixSize is the width of the big-endian length prefix.
const PrefixSize = 4

// Errors returned by packet construction and framing.
var (
	// ErrMalformedFrame is returned when a frame header cannot describe a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge is returned when a declared frame can never fit the receive buffer.
	ErrFrameTooLarge = errors.New("frame exceeds receive buffer capacity")
	// ErrPatchOutOfBounds is returned when Patch would write past the declared payload.
	ErrPatchOutOfBounds = errors.New("patch out of bounds")
)

// Type is the discriminant of a Packet.
type Type int

const (
	Binary Type = iota // Length-prefixed binary frame
	Text               // Length-prefixed frame carrying text
	Http               // Raw HTTP text behind an unused placeholder prefix
)

// String returns a human-readable name for the packet type.
func (t Type) String() string {
	switch t {
	case Binary:
		return "Binary"
	case Text:
		return "Text"
	case Http:
		return "Http"
	default:
		return "Unknown"
	}
}

// Packet is a framed byte buffer tagged with its Type. The stored bytes always
// begin with the 4-byte prefix slot. A Packet is owned by whichever queue holds
// it and must not be modified after it has been handed to a connection.
type Packet struct {
	typ  Type
	data []byte
}

// NewBinary builds a Binary packet whose prefix declares len(payload)+4.
//
// Parameters:
//   - payload: The payload bytes; copied into the packet
//
// Returns:
//   - A new Binary packet
func NewBinary(payload []byte) *Packet {
	return &Packet{typ: Binary, data: utils.JoinBytes(prefix(len(payload)+PrefixSize), payload)}
}

// NewText builds a Text packet carrying text. It shares the Binary wire layout.
//
// Parameters:
//   - text: The text to carry
//
// Returns:
//   - A new Text packet
func NewText(text string) *Packet {
	return &Packet{typ: Text, data: utils.JoinBytes(prefix(len(text)+PrefixSize), []byte(text))}
}

// NewHTTP builds an Http packet carrying raw HTTP text. The placeholder prefix
// is left zeroed.
//
// Parameters:
//   - text: The HTTP request or response text
//
// Returns:
//   - A new Http packet
func NewHTTP(text string) *Packet {
	return &Packet{typ: Http, data: utils.JoinBytes(make([]byte, PrefixSize), []byte(text))}
}

// NewSized builds a Binary packet with a zero-filled payload of payloadSize
// bytes, meant to be filled in afterwards with Patch.
//
// Parameters:
//   - payloadSize: The payload size in bytes, excluding the prefix
//
// Returns:
//   - A new zero-filled Binary packet, or ErrMalformedFrame if payloadSize is negative
func NewSized(payloadSize int) (*Packet, error) {
	if payloadSize < 0 {
		return nil, fmt.Errorf("negative payload size %d: %w", payloadSize, ErrMalformedFrame)
	}

	data := make([]byte, payloadSize+PrefixSize)
	binary.BigEndian.PutUint32(data, uint32(payloadSize+PrefixSize))
	return &Packet{typ: Binary, data: data}, nil
}

// Parse builds a Binary packet from one complete raw frame. The frame must be
// at least PrefixSize bytes long and its prefix must declare exactly len(raw).
//
// Parameters:
//   - raw: The frame bytes including the prefix; copied into the packet
//
// Returns:
//   - The parsed packet, or an error wrapping ErrMalformedFrame
func Parse(raw []byte) (*Packet, error) {
	if len(raw) < PrefixSize {
		return nil, fmt.Errorf("frame of %d bytes is shorter than its prefix: %w", len(raw), ErrMalformedFrame)
	}

	declared := binary.BigEndian.Uint32(raw)
	if declared < PrefixSize || uint64(declared) != uint64(len(raw)) {
		return nil, fmt.Errorf("frame declares %d bytes but holds %d: %w", declared, len(raw), ErrMalformedFrame)
	}

	data := make([]byte, len(raw))
	copy(data, raw)
	return &Packet{typ: Binary, data: data}, nil
}

// Type returns the packet discriminant.
func (p *Packet) Type() Type {
	return p.typ
}

// Size returns the decoded length prefix for Binary and Text packets and the
// text length for Http packets.
func (p *Packet) Size() int {
	if p.typ == Http {
		return len(p.data) - PrefixSize
	}

	return int(binary.BigEndian.Uint32(p.data))
}

// Data returns the payload without the prefix slot. The returned slice aliases
// the packet and must not be modified.
func (p *Packet) Data() []byte {
	return p.data[PrefixSize:]
}

// Text returns the payload as a string, stopping at the first NUL byte.
func (p *Packet) Text() string {
	return utils.ReadStringFromBytes(p.Data())
}

// Bytes returns the stored bytes including the prefix slot.
func (p *Packet) Bytes() []byte {
	return p.data
}

// Wire returns the bytes a connection puts on the socket for this packet:
// the whole frame for Binary and Text, only the text for Http.
func (p *Packet) Wire() []byte {
	if p.typ == Http {
		return p.data[PrefixSize:]
	}

	return p.data
}

// Patch copies src into the payload at offset. The write is rejected when it
// would reach past the payload declared by the prefix.
//
// Parameters:
//   - offset: Payload offset to start writing at
//   - src: Bytes to copy
//
// Returns:
//   - nil on success, or an error wrapping ErrPatchOutOfBounds
func (p *Packet) Patch(offset int, src []byte) error {
	limit := len(p.data) - PrefixSize
	if p.typ != Http {
		limit = p.Size() - PrefixSize
	}

	if offset < 0 || offset+len(src) > limit {
		return fmt.Errorf("write of %d bytes at offset %d exceeds payload of %d: %w",
			len(src), offset, limit, ErrPatchOutOfBounds)
	}

	copy(p.data[PrefixSize+offset:], src)
	return nil
}

func prefix(size int) []byte {
	b := make([]byte, PrefixSize)
	binary.BigEndian.PutUint32(b, uint32(size))
	return b
}
