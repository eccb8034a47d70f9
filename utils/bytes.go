// Package utils provides small byte, string and time helpers shared by the
// packet codec and the HTTP response composer.
package utils

// JoinBytes concatenates the given byte slices into a single byte slice.
//
// Parameters:
//   - s: One or more byte slices to concatenate
//
// Returns:
//   - A new byte slice containing all input slices in order
func JoinBytes(s ...[]byte) []byte {
	n := 0
	for _, v := range s {
		n += len(v)
	}

	b, i := make([]byte, n), 0
	for _, v := range s {
		i += copy(b[i:], v)
	}

	return b
}

// Compact moves buf[begin:end] to the front of buf and returns the new end.
// It is used to discard consumed bytes from a fixed-capacity receive buffer.
//
// Parameters:
//   - buf: The backing buffer
//   - begin: Index of the first unconsumed byte
//   - end: Index one past the last buffered byte
//
// Returns:
//   - The number of unconsumed bytes, now stored at buf[:n]
func Compact(buf []byte, begin, end int) int {
	if begin == 0 {
		return end
	}

	return copy(buf, buf[begin:end])
}
