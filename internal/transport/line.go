package transport

import (
	"bytes"
	"errors"
	"strings"
)

const maxLineLength = 4096

var errLineTooLong = errors.New("line exceeds maximum length")

// lineBuffer splits a byte stream into newline-terminated lines.
type lineBuffer struct {
	pending []byte
}

func (b *lineBuffer) feed(p []byte) {
	b.pending = append(b.pending, p...)
}

// next pops the oldest complete line. An overlong unterminated line is
// discarded and reported as errLineTooLong.
func (b *lineBuffer) next() (string, bool, error) {
	i := bytes.IndexByte(b.pending, '\n')
	if i < 0 {
		if len(b.pending) > maxLineLength {
			b.pending = b.pending[:0]
			return "", false, errLineTooLong
		}
		return "", false, nil
	}

	line := StripCR(string(b.pending[:i]))
	b.pending = append(b.pending[:0], b.pending[i+1:]...)

	return line, true, nil
}

// StripCR removes every carriage return from a received line.
func StripCR(line string) string {
	if !strings.Contains(line, "\r") {
		return line
	}

	return strings.ReplaceAll(line, "\r", "")
}

func encodeLine(line string) []byte {
	return []byte(line + "\n")
}
