package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"io"
	"net"
	"strconv"
)

// Delimiter separates the length token from the serialized envelope
const Delimiter byte = ' '

// maxTokenLen is the longest accepted length token, 18 digits cannot overflow an int64
const maxTokenLen = 18

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// Framing failure reasons, usable with errors.Is
var (
	ErrMalformedLength = errors.New("malformed length")
	ErrTruncatedFrame  = errors.New("truncated frame")
	ErrCorruptPayload  = errors.New("corrupt payload")
	ErrFrameTooLarge   = errors.New("frame too large")
)

// FramingError is returned when a frame cannot be decoded. It is local to
// the stream it was read from; the stream is unusable afterwards.
type FramingError struct {
	// Reason is one of the Err* values above
	Reason error
	// Err is the underlying cause, may be nil
	Err error
}

func (e *FramingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("framing error: %v", e.Reason)
	}
	return fmt.Sprintf("framing error: %v: %v", e.Reason, e.Err)
}

// Unwrap returns both the reason and the cause so errors.Is matches either
func (e *FramingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func newFramingError(reason, err error) *FramingError {
	return &FramingError{Reason: reason, Err: err}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// header builds the length token for a body of n bytes
func header(n int) []byte {
	h := strconv.AppendInt(make([]byte, 0, maxTokenLen+1), int64(n), 10)
	return append(h, Delimiter)
}

// Encode serializes env and returns the complete frame
func Encode(env common.Envelope, s serializer.IIPCSerializer) ([]byte, error) {
	body, err := s.Serialize(env)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}

	h := header(len(body))
	result := make([]byte, len(h)+len(body))
	copy(result, h)
	copy(result[len(h):], body)
	return result, nil
}

// Write serializes env and writes the frame to w. Header and body are
// combined into a single vectored write to reduce syscalls.
// It returns the number of bytes written.
func Write(w io.Writer, env common.Envelope, s serializer.IIPCSerializer) (int, error) {
	body, err := s.Serialize(env)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize envelope: %w", err)
	}

	b := net.Buffers{header(len(body)), body}
	n, err := b.WriteTo(w)
	return int(n), err
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// DecodeNext reads exactly one frame from r. It returns the decoded envelope
// and the number of bytes consumed from the stream.
//
// A clean end of stream before the first byte of a frame yields io.EOF.
// Every other failure is a *FramingError. maxFrameSize <= 0 disables the
// size check.
func DecodeNext(r *bufio.Reader, s serializer.IIPCSerializer, maxFrameSize int) (common.Envelope, int, error) {
	env, n, _, err := decodeNext(r, s, maxFrameSize, nil)
	return env, n, err
}

// Decode reads the first frame from data, see DecodeNext
func Decode(data []byte, s serializer.IIPCSerializer, maxFrameSize int) (common.Envelope, int, error) {
	return DecodeNext(bufio.NewReader(bytes.NewReader(data)), s, maxFrameSize)
}

// decodeNext implements DecodeNext. buf is used for the body if it is large
// enough, the buffer actually used is returned.
func decodeNext(r *bufio.Reader, s serializer.IIPCSerializer, maxFrameSize int, buf []byte) (common.Envelope, int, []byte, error) {
	var env common.Envelope

	// Read the length token
	length, consumed, err := readLength(r)
	if err != nil {
		return env, consumed, buf, err
	}

	if maxFrameSize > 0 && length > maxFrameSize {
		return env, consumed, buf, newFramingError(ErrFrameTooLarge, fmt.Errorf("declared %d bytes, limit is %d", length, maxFrameSize))
	}

	// Read the body
	if cap(buf) < length {
		buf = make([]byte, length)
	}
	buf = buf[:length]

	n, err := io.ReadFull(r, buf)
	consumed += n
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return env, consumed, buf, newFramingError(ErrTruncatedFrame, fmt.Errorf("expected %d bytes, got %d", length, n))
	} else if err != nil {
		return env, consumed, buf, err
	}

	if err := s.Deserialize(buf, &env); err != nil {
		return common.Envelope{}, consumed, buf, newFramingError(ErrCorruptPayload, err)
	}

	return env, consumed, buf, nil
}

// readLength reads the decimal length token including its delimiter.
// Bytes are validated as they arrive, so garbage fails without waiting
// for a delimiter that may never come.
func readLength(r *bufio.Reader) (int, int, error) {
	var length int64
	consumed := 0

	for {
		c, err := r.ReadByte()
		if err == io.EOF && consumed == 0 {
			return 0, 0, io.EOF
		} else if err == io.EOF {
			return 0, consumed, newFramingError(ErrTruncatedFrame, io.ErrUnexpectedEOF)
		} else if err != nil {
			return 0, consumed, err
		}
		consumed++

		if c == Delimiter {
			if consumed == 1 {
				return 0, consumed, newFramingError(ErrMalformedLength, errors.New("empty length token"))
			}
			if int64(int(length)) != length {
				return 0, consumed, newFramingError(ErrMalformedLength, fmt.Errorf("length %d out of range", length))
			}
			return int(length), consumed, nil
		}

		if c < '0' || c > '9' {
			return 0, consumed, newFramingError(ErrMalformedLength, fmt.Errorf("invalid character %q in length token", c))
		}
		if consumed > maxTokenLen {
			return 0, consumed, newFramingError(ErrMalformedLength, fmt.Errorf("length token longer than %d digits", maxTokenLen))
		}
		length = length*10 + int64(c-'0')
	}
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// Reader decodes consecutive frames from a stream. The body buffer is reused
// between frames, so decoded envelopes must not alias it (all serializers
// copy their output).
//
// Thread Safety: a Reader must only be used by one goroutine.
type Reader struct {
	r            *bufio.Reader
	serializer   serializer.IIPCSerializer
	maxFrameSize int
	buf          []byte
}

// NewReader creates a frame reader over r with a read buffer of bufferSize bytes
func NewReader(r io.Reader, s serializer.IIPCSerializer, maxFrameSize int, bufferSize int) *Reader {
	return &Reader{
		r:            bufio.NewReaderSize(r, bufferSize),
		serializer:   s,
		maxFrameSize: maxFrameSize,
		buf:          make([]byte, 0, bufferSize),
	}
}

// Reset discards buffered data and switches the reader to r
func (fr *Reader) Reset(r io.Reader) {
	fr.r.Reset(r)
}

// Next decodes the next frame, see DecodeNext
func (fr *Reader) Next() (common.Envelope, int, error) {
	env, n, buf, err := decodeNext(fr.r, fr.serializer, fr.maxFrameSize, fr.buf)

	// Keep a grown buffer only up to 16 times the read buffer size to bound
	// the memory held by idle connections
	if cap(buf) <= 16*fr.r.Size() {
		fr.buf = buf[:0]
	}
	return env, n, err
}
