package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (8 MiB).
	MaxFrameSize = 8 * 1024 * 1024
	// MaxBufferSize caps the unconsumed receive buffer (16 MiB).
	MaxBufferSize = 16 * 1024 * 1024

	frameHeaderSize = 4
)

// ErrProtocol is the class for unrecoverable stream corruption. Both
// oversize sentinels wrap it, so callers can match the class or the
// specific condition.
var ErrProtocol = errors.New("protocol: stream corrupt")

var (
	// ErrFrameTooLarge indicates a declared frame length exceeds MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds max size", ErrProtocol)
	// ErrBufferExceeded indicates the receive buffer filled without a complete frame.
	ErrBufferExceeded = fmt.Errorf("%w: receive buffer exceeded", ErrProtocol)
)

// WriteFrame writes one length-prefixed frame: 4-byte big-endian length
// followed by the payload bytes. Zero-length payloads are valid.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// Decoder reassembles length-prefixed frames from an arbitrarily chunked
// byte stream. It is not safe for concurrent use; the connection read
// path is its sole owner.
type Decoder struct {
	buf       []byte
	maxFrame  int
	maxBuffer int
	failed    error
}

// NewDecoder returns a decoder with the default frame and buffer caps.
func NewDecoder() *Decoder {
	return &Decoder{
		maxFrame:  MaxFrameSize,
		maxBuffer: MaxBufferSize,
	}
}

// NewDecoderWithLimits returns a decoder with explicit caps. Values <= 0
// fall back to the defaults.
func NewDecoderWithLimits(maxFrame, maxBuffer int) *Decoder {
	d := NewDecoder()
	if maxFrame > 0 {
		d.maxFrame = maxFrame
	}
	if maxBuffer > 0 {
		d.maxBuffer = maxBuffer
	}
	return d
}

// Feed consumes one chunk of received bytes and returns every complete
// frame payload it can assemble, retaining any partial remainder for the
// next call. A declared length over the frame cap, or a buffer growing
// past the buffer cap before a frame completes, is fatal: the buffer is
// cleared and every subsequent Feed returns the same error.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	if d.failed != nil {
		return nil, d.failed
	}

	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		if len(d.buf) < frameHeaderSize {
			break
		}

		length := binary.BigEndian.Uint32(d.buf[:frameHeaderSize])
		if length > uint32(d.maxFrame) {
			return frames, d.fail(ErrFrameTooLarge)
		}

		total := frameHeaderSize + int(length)
		if len(d.buf) < total {
			break
		}

		payload := make([]byte, length)
		copy(payload, d.buf[frameHeaderSize:total])
		frames = append(frames, payload)
		d.buf = d.buf[total:]
	}

	if len(d.buf) > d.maxBuffer {
		return frames, d.fail(ErrBufferExceeded)
	}

	// Release the backing array once fully drained so a burst of large
	// frames does not pin memory.
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return frames, nil
}

// Buffered reports the number of unconsumed bytes held by the decoder.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) fail(err error) error {
	d.failed = err
	d.buf = nil
	return err
}
