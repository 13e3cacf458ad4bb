// Package buffer implements a growable byte buffer with a position/limit
// cursor. In write mode the window [position, limit) is free space; after
// Flip it holds the bytes still to be consumed.
package buffer

// Buffer is a fixed-capacity cursor buffer that can be enlarged.
type Buffer struct {
	buf []byte
	pos int
	lim int
}

// New allocates a buffer in write mode: position 0, limit = capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity), lim: capacity}
}

// Wrap returns a buffer in read mode over b. The slice is not copied.
func Wrap(b []byte) *Buffer {
	return &Buffer{buf: b, lim: len(b)}
}

func (b *Buffer) Position() int { return b.pos }
func (b *Buffer) Limit() int    { return b.lim }
func (b *Buffer) Capacity() int { return len(b.buf) }

// Remaining is the size of the window between position and limit.
func (b *Buffer) Remaining() int { return b.lim - b.pos }

func (b *Buffer) HasRemaining() bool { return b.pos < b.lim }

// SetPosition panics if pos is outside [0, limit].
func (b *Buffer) SetPosition(pos int) {
	if pos < 0 || pos > b.lim {
		panic("buffer: position out of range")
	}
	b.pos = pos
}

// SetLimit panics if lim is outside [0, capacity]. The position is clamped
// to the new limit.
func (b *Buffer) SetLimit(lim int) {
	if lim < 0 || lim > len(b.buf) {
		panic("buffer: limit out of range")
	}
	b.lim = lim
	if b.pos > lim {
		b.pos = lim
	}
}

// Bytes returns the window [position, limit). Writing into it and calling
// Advance fills the buffer; reading from it and calling Advance drains it.
func (b *Buffer) Bytes() []byte { return b.buf[b.pos:b.lim] }

// Filled returns everything before the position.
func (b *Buffer) Filled() []byte { return b.buf[:b.pos] }

// Advance moves the position forward by n.
func (b *Buffer) Advance(n int) {
	b.SetPosition(b.pos + n)
}

// Flip switches from filling to draining: limit = position, position = 0.
func (b *Buffer) Flip() {
	b.lim = b.pos
	b.pos = 0
}

// Clear resets to an empty buffer in write mode. Content is not zeroed.
func (b *Buffer) Clear() {
	b.pos = 0
	b.lim = len(b.buf)
}

// Compact moves the unconsumed window to the front and switches to write
// mode right after it.
func (b *Buffer) Compact() {
	n := copy(b.buf, b.buf[b.pos:b.lim])
	b.pos = n
	b.lim = len(b.buf)
}

// Put copies as much of src's window as fits into b's window, advancing
// both. It returns the number of bytes moved.
func (b *Buffer) Put(src *Buffer) int {
	n := copy(b.Bytes(), src.Bytes())
	b.pos += n
	src.pos += n
	return n
}

// Write copies as much of p as fits and advances the position.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.Bytes(), p)
	b.pos += n
	return n
}

// Enlarge reallocates the buffer with capacity+increment bytes (doubling when
// increment <= 0), copies the whole backing array and keeps the position.
// The limit becomes the new capacity unless keepLimit is set.
func (b *Buffer) Enlarge(increment int, keepLimit bool) {
	if increment <= 0 {
		increment = len(b.buf)
		if increment == 0 {
			increment = 1
		}
	}
	grown := make([]byte, len(b.buf)+increment)
	copy(grown, b.buf)
	b.buf = grown
	if !keepLimit {
		b.lim = len(grown)
	}
}

// Grow enlarges until at least n bytes fit in the window.
func (b *Buffer) Grow(n int) {
	for b.Remaining() < n {
		inc := len(b.buf)
		if need := n - b.Remaining(); inc < need {
			inc = need
		}
		b.Enlarge(inc, false)
	}
}

// String returns the window as a string without consuming it.
func (b *Buffer) String() string { return string(b.Bytes()) }
