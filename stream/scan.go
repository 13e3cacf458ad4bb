package stream

import (
	"context"
	"io"

	"github.com/nczempin/httpc-go-reactor/buffer"
)

// DefaultScanSize is the initial size of the scan buffer; it grows on demand.
const DefaultScanSize = 1025

// ReadUntil reads from in until delim has been seen and returns everything
// before it, plus the delimiter itself when include is set. Bytes read past
// the delimiter are pushed back into in.
//
// If the stream ends first, the bytes read so far are returned with
// io.ErrUnexpectedEOF, or io.EOF when nothing was read at all.
func ReadUntil(ctx context.Context, in Input, delim []byte, include bool) (string, error) {
	buf := buffer.New(DefaultScanSize)
	matched := 0
	scanned := 0
	for matched < len(delim) {
		if !buf.HasRemaining() {
			buf.Enlarge(0, false)
		}
		n, err := in.Read(ctx, buf.Bytes())
		buf.Advance(n)
		for scanned < buf.Position() && matched < len(delim) {
			c := buf.Filled()[scanned]
			scanned++
			if c == delim[matched] {
				matched++
				continue
			}
			// restart the candidate, the current byte may open a new one
			matched = 0
			if c == delim[0] {
				matched = 1
			}
		}
		if matched == len(delim) {
			break
		}
		if err == io.EOF {
			if buf.Position() == 0 {
				return "", io.EOF
			}
			return string(buf.Filled()), io.ErrUnexpectedEOF
		}
		if err != nil {
			return string(buf.Filled()), err
		}
	}
	end := scanned
	if !include {
		end -= len(delim)
	}
	result := string(buf.Filled()[:end])
	in.Pad(buf.Filled()[scanned:])
	return result, nil
}

// ReadLine reads up to the next CRLF and returns the line without it.
func ReadLine(ctx context.Context, in Input) (string, error) {
	return ReadUntil(ctx, in, crlf, false)
}

var crlf = []byte("\r\n")
