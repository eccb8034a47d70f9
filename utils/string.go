package utils

import "bytes"

// ReadStringFromBytes interprets the byte slice as a null-terminated string.
// It returns the string up to the first null byte (0x00), or the entire buffer
// if no null byte is present.
//
// Parameters:
//   - buffer: The byte slice to read from (e.g. a zero-padded packet payload)
//
// Returns:
//   - The string content before the first null byte, or the whole buffer as a string
func ReadStringFromBytes(buffer []byte) string {
	nullIndex := bytes.IndexByte(buffer, 0)
	if nullIndex == -1 {
		return string(buffer)
	}

	return string(buffer[:nullIndex])
}
