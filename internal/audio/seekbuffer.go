package audio

import (
	"errors"
	"io"
)

// ErrSeekOutOfRange indicates a seek before the start of the buffer.
var ErrSeekOutOfRange = errors.New("seek position out of range")

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder needs to seek
// back over the header to patch chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if needed := b.pos + len(p); needed > len(b.data) {
		grown := make([]byte, needed)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[b.pos:], p)
	b.pos += len(p)

	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var target int64

	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(b.pos) + offset
	case io.SeekEnd:
		target = int64(len(b.data)) + offset
	default:
		return 0, ErrSeekOutOfRange
	}

	if target < 0 {
		return 0, ErrSeekOutOfRange
	}

	b.pos = int(target)

	return target, nil
}
