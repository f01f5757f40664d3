package server

import (
	"bufio"
	"io"
)

// lineReader frames an io.Reader on '\n' with a bounded internal buffer,
// so a client that never sends a terminator cannot force unbounded
// memory growth. Adapted from server/client.go's bare bufio.NewScanner
// framing, which had no way to reject an over-length line without
// aborting the whole scan.
type lineReader struct {
	br  *bufio.Reader
	max int
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, max+64), max: max}
}

// readLine returns the next line, without its trailing '\n'. If the line
// (including its terminator) would exceed max bytes, tooLong is true and
// the offending bytes up to and including the next '\n' are discarded so
// the stream resynchronizes — the connection is not torn down.
func (lr *lineReader) readLine() (line []byte, tooLong bool, err error) {
	chunk, err := lr.br.ReadSlice('\n')
	switch err {
	case nil:
		if len(chunk) > lr.max {
			return nil, true, nil
		}
		return chunk[:len(chunk)-1], false, nil

	case bufio.ErrBufferFull:
		// The first max+64 bytes alone already contain no '\n': this line
		// is over length. Discard until the next '\n' to resynchronize.
		if derr := lr.discardUntilNewline(chunk); derr != nil {
			return nil, false, derr
		}
		return nil, true, nil

	default:
		return nil, false, err
	}
}

func (lr *lineReader) discardUntilNewline(firstChunk []byte) error {
	if len(firstChunk) > 0 && firstChunk[len(firstChunk)-1] == '\n' {
		return nil
	}
	for {
		chunk, err := lr.br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if err != bufio.ErrBufferFull {
			return err
		}
		_ = chunk
	}
}
