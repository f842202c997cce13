package tape

// streaming.go provides readers that clean up common tape file issues
// before CSV parsing:
//
//   - BOMSkippingReader: removes a UTF-8 BOM (0xEF 0xBB 0xBF)
//   - UTF8Sanitizer: replaces invalid UTF-8 sequences on the fly
//
// Use WrapReader to apply both in the correct order.

import (
	"io"
	"unicode/utf8"
)

// UTF8Sanitizer wraps an io.Reader and replaces invalid UTF-8 bytes with
// '?' as data streams through.
type UTF8Sanitizer struct {
	reader io.Reader

	// Leftover bytes from previous read that may form a multi-byte sequence
	pending []byte
}

// NewUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader. It reads from the underlying reader and
// sanitizes invalid UTF-8 sequences in place.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Prepend pending bytes from a previous incomplete sequence
	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset

	if n == 0 {
		return 0, err
	}

	// Most tape data is ASCII; skip the scan when possible
	if isAllASCII(p[:n]) {
		return n, err
	}

	sanitized := s.sanitizeUTF8(p[:n], err == io.EOF)
	return sanitized, err
}

func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// sanitizeUTF8 sanitizes the data in place, replacing invalid UTF-8
// sequences with '?'. Returns the number of valid bytes.
//
// If atEOF is false, incomplete sequences at the end are saved to
// pending for the next read call.
func (s *UTF8Sanitizer) sanitizeUTF8(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		if !atEOF {
			trailing := incompleteTrailingBytes(data)
			if trailing > 0 {
				s.pending = append(s.pending, data[len(data)-trailing:]...)
				return len(data) - trailing
			}
		}
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		// Incomplete sequence at the end, not at EOF: hold for next read
		if !atEOF && read+size >= len(data) && isIncompleteRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		if r == utf8.RuneError && size == 1 {
			// Replace with '?' rather than U+FFFD so the data never expands
			data[write] = '?'
			write++
			read++
		} else {
			copy(data[write:], data[read:read+size])
			write += size
			read += size
		}
	}

	return write
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			// Starts a sequence; check whether it is complete
			expectedLen := runeLen(b)
			if i < expectedLen {
				return i
			}
			return 0
		}
		// Continuation byte (10xxxxxx): keep checking
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with byte b.
func runeLen(b byte) int {
	if b < 0x80 {
		return 1
	}
	if b < 0xC0 {
		return 0 // continuation byte
	}
	if b < 0xE0 {
		return 2
	}
	if b < 0xF0 {
		return 3
	}
	return 4
}

func isIncompleteRune(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return runeLen(data[0]) > len(data)
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if
// present. Windows spreadsheet exports commonly start with one.
type BOMSkippingReader struct {
	reader     io.Reader
	bomChecked bool
	buf        [3]byte
	bufData    []byte
	bufOffset  int
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{
		reader: r,
	}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.bomChecked {
		r.bomChecked = true

		n, err := io.ReadFull(r.reader, r.buf[:])
		if n == 0 {
			return 0, err
		}

		if n >= 3 && r.buf[0] == 0xEF && r.buf[1] == 0xBB && r.buf[2] == 0xBF {
			r.bufData = nil
		} else {
			r.bufData = r.buf[:n]
			r.bufOffset = 0
		}

		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		if len(r.bufData) > 0 {
			copied := copy(p, r.bufData[r.bufOffset:])
			r.bufOffset += copied
			if r.bufOffset >= len(r.bufData) {
				r.bufData = nil
			}
			if copied < len(p) && err != io.EOF {
				n, err2 := r.reader.Read(p[copied:])
				return copied + n, err2
			}
			return copied, err
		}
	}

	if len(r.bufData) > r.bufOffset {
		copied := copy(p, r.bufData[r.bufOffset:])
		r.bufOffset += copied
		if r.bufOffset >= len(r.bufData) {
			r.bufData = nil
		}
		return copied, nil
	}

	return r.reader.Read(p)
}

// WrapReader wraps a tape file reader with BOM skipping and UTF-8
// sanitization. The BOM must be stripped before sanitization sees the
// stream.
func WrapReader(r io.Reader) io.Reader {
	return NewUTF8Sanitizer(NewBOMSkippingReader(r))
}
