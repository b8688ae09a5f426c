package hoard

import (
	"context"
	"fmt"
	"io"

	"github.com/hoardlabs/hoard/retry"
)

// readBufferSize is the buffer used by buffered streams, matching the
// backend's per-request block limit.
const readBufferSize = maxBlockSize

// OpenOption configures a ReadStream.
type OpenOption func(*ReadStream)

// OpenUnbuffered disables the read buffer: every Read issues one ranged
// request for exactly the requested span. Suited to large sequential bulk
// reads; small or byte-at-a-time reads should keep the default buffering.
func OpenUnbuffered() OpenOption {
	return func(rs *ReadStream) {
		rs.unbuffered = true
	}
}

// ReadStream is a seekable, read-only stream over an immutable remote object
// of known length.
//
// In the default buffered mode it holds one buffer of up to 4MiB: small
// reads and ReadByte are served from it, a Seek landing inside it reuses it,
// and a single Read larger than the buffer bypasses buffering entirely. In
// unbuffered mode every Read maps to one exact ranged request.
//
// A failed read leaves the position unchanged, so the stream is resumable.
// ReadStream is not safe for concurrent use.
type ReadStream struct {
	c      Container
	name   string
	size   int64
	pos    int64
	ctx    context.Context
	policy retry.Policy

	unbuffered bool
	buf        []byte // current window, nil when dropped
	bufOff     int64  // object offset of buf[0]
}

var (
	_ io.ReadSeekCloser = (*ReadStream)(nil)
	_ io.ByteReader     = (*ReadStream)(nil)
)

func newReadStream(ctx context.Context, c Container, name string, size int64, policy retry.Policy, opts []OpenOption) *ReadStream {
	rs := &ReadStream{
		c:      c,
		name:   name,
		size:   size,
		ctx:    ctx,
		policy: policy,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(rs)
	}
	return rs
}

// WithStreamContext sets the context governing subsequent reads, overriding
// the Open context for streams that outlive the opening call.
func WithStreamContext(ctx context.Context) OpenOption {
	return func(rs *ReadStream) {
		rs.ctx = ctx
	}
}

// Size returns the object's total length in bytes.
func (rs *ReadStream) Size() int64 { return rs.size }

// Read implements io.Reader. Reads past end-of-object are truncated to the
// available bytes.
func (rs *ReadStream) Read(p []byte) (int, error) {
	if rs.pos >= rs.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if remaining := rs.size - rs.pos; want > remaining {
		want = remaining
	}
	if want == 0 {
		return 0, nil
	}

	if rs.unbuffered || want > readBufferSize {
		// One direct ranged request; any buffer is stale cost, drop it.
		rs.buf = nil
		if err := rs.fetch(rs.pos, p[:want]); err != nil {
			return 0, err
		}
		rs.pos += want
		return int(want), nil
	}

	if !rs.inBuffer(rs.pos) {
		if err := rs.fill(rs.pos); err != nil {
			return 0, err
		}
	}
	n := copy(p[:want], rs.buf[rs.pos-rs.bufOff:])
	rs.pos += int64(n)
	return n, nil
}

// ReadByte implements io.ByteReader. At exactly end-of-object it returns
// io.EOF.
func (rs *ReadStream) ReadByte() (byte, error) {
	if rs.pos >= rs.size {
		return 0, io.EOF
	}
	if rs.unbuffered {
		var one [1]byte
		if err := rs.fetch(rs.pos, one[:]); err != nil {
			return 0, err
		}
		rs.pos++
		return one[0], nil
	}
	if !rs.inBuffer(rs.pos) {
		if err := rs.fill(rs.pos); err != nil {
			return 0, err
		}
	}
	b := rs.buf[rs.pos-rs.bufOff]
	rs.pos++
	return b, nil
}

// Seek implements io.Seeker. Targets outside [0, Size] fail. A seek landing
// inside the current buffer keeps it; anything else drops it.
func (rs *ReadStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = rs.pos + offset
	case io.SeekEnd:
		target = rs.size + offset
	default:
		return 0, fmt.Errorf("hoard: seek %s: invalid whence %d", rs.name, whence)
	}
	if target < 0 || target > rs.size {
		return 0, fmt.Errorf("hoard: seek %s: offset %d outside [0, %d]", rs.name, target, rs.size)
	}
	if !rs.inBuffer(target) {
		rs.buf = nil
	}
	rs.pos = target
	return target, nil
}

// Close releases the buffer. The stream holds no remote resources.
func (rs *ReadStream) Close() error {
	rs.buf = nil
	return nil
}

func (rs *ReadStream) inBuffer(off int64) bool {
	return rs.buf != nil && off >= rs.bufOff && off < rs.bufOff+int64(len(rs.buf))
}

// fill loads the buffer window starting at off.
func (rs *ReadStream) fill(off int64) error {
	length := rs.size - off
	if length > readBufferSize {
		length = readBufferSize
	}
	buf := make([]byte, length)
	if err := rs.fetch(off, buf); err != nil {
		return err
	}
	rs.buf = buf
	rs.bufOff = off
	return nil
}

// fetch reads exactly len(dst) bytes starting at off, retry-wrapped. The
// stream position is untouched; callers advance it only after success.
func (rs *ReadStream) fetch(off int64, dst []byte) error {
	return rs.policy.Do(rs.ctx, "ranged read", func(ctx context.Context) error {
		rc, err := rs.c.OpenRange(ctx, rs.name, off, int64(len(dst)))
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.ReadFull(rc, dst)
		return err
	})
}
