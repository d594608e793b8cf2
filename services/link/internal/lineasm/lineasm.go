// Package lineasm accumulates raw bytes into terminator-delimited lines.
// The buffer is fixed at construction; one byte is reserved so a full
// buffer still has room to terminate, matching the wire contract that a
// line fits in size-1 bytes.
package lineasm

import (
	"linkcore-go/errcode"
	"linkcore-go/x/mathx"
)

type Assembler struct {
	buf []byte
	n   int
}

// New sizes the line buffer, clamped to [16, 256].
func New(size int) *Assembler {
	return &Assembler{buf: make([]byte, mathx.Clamp(size, 16, 256))}
}

// Feed consumes one byte. A non-empty return is a completed line (without
// its terminator). Bare or repeated terminators are ignored, so CRLF pairs
// yield a single line. When the buffer fills, the pending bytes are
// discarded and errcode.Overflow is returned once.
func (a *Assembler) Feed(c byte) (string, error) {
	if c == '\n' || c == '\r' {
		if a.n > 0 {
			line := string(a.buf[:a.n])
			a.n = 0
			return line, nil
		}
		return "", nil
	}
	if a.n < len(a.buf)-1 {
		a.buf[a.n] = c
		a.n++
		return "", nil
	}
	a.n = 0
	return "", errcode.Overflow
}

// Pending reports buffered bytes awaiting a terminator.
func (a *Assembler) Pending() int { return a.n }

// Cap reports the usable line capacity.
func (a *Assembler) Cap() int { return len(a.buf) - 1 }

// Reset discards any partial line.
func (a *Assembler) Reset() { a.n = 0 }
