package frame

import (
	"bufio"
	"bytes"
	"errors"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"io"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() serializer.IIPCSerializer{
	"JSON":    serializer.NewJSONSerializer,
	"Msgpack": serializer.NewMsgpackSerializer,
}

// TestEncodeDecodeRoundTrip tests that a decoded frame equals the encoded envelope
// and that the whole frame is consumed
func TestEncodeDecodeRoundTrip(t *testing.T) {
	envelopes := []common.Envelope{
		{},
		common.NewEnvelope("test_basic_send"),
		common.NewEnvelope(map[string]interface{}{"foo": "bar"}),
		common.NewTaggedEnvelope("app/auth", map[string]interface{}{"id": "minion", "ok": true}),
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			for i, env := range envelopes {
				data, err := Encode(env, s)
				if err != nil {
					t.Fatalf("Failed to encode envelope %d: %v", i, err)
				}

				result, consumed, err := Decode(data, s, 0)
				if err != nil {
					t.Fatalf("Failed to decode envelope %d: %v", i, err)
				}
				if consumed != len(data) {
					t.Errorf("Envelope %d: expected %d consumed bytes, got %d", i, len(data), consumed)
				}
				if !reflect.DeepEqual(env, result) {
					t.Errorf("Envelope %d doesn't match after round trip:\nOriginal: %#v\nResult: %#v", i, env, result)
				}
			}
		})
	}
}

// TestWireFormat tests the exact bytes of a frame
func TestWireFormat(t *testing.T) {
	s := serializer.NewJSONSerializer()
	env := common.NewEnvelope("x")

	body, err := s.Serialize(env)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	data, err := Encode(env, s)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	expected := strconv.Itoa(len(body)) + " " + string(body)
	if string(data) != expected {
		t.Errorf("Expected frame %q, got %q", expected, string(data))
	}

	// Write must produce the same bytes
	var buf bytes.Buffer
	n, err := Write(&buf, env, s)
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if n != len(data) || !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("Write produced %q (%d bytes), expected %q", buf.String(), n, string(data))
	}
}

// TestConsecutiveFrames tests decoding several frames from one stream followed by a clean EOF
func TestConsecutiveFrames(t *testing.T) {
	s := serializer.NewMsgpackSerializer()

	var stream bytes.Buffer
	var sizes []int
	for i := 0; i < 10; i++ {
		n, err := Write(&stream, common.NewEnvelope("msg-"+strconv.Itoa(i)), s)
		if err != nil {
			t.Fatalf("Failed to write frame %d: %v", i, err)
		}
		sizes = append(sizes, n)
	}

	r := bufio.NewReader(&stream)
	for i := 0; i < 10; i++ {
		env, consumed, err := DecodeNext(r, s, common.DefaultMaxFrameSize)
		if err != nil {
			t.Fatalf("Failed to decode frame %d: %v", i, err)
		}
		if consumed != sizes[i] {
			t.Errorf("Frame %d: expected %d consumed bytes, got %d", i, sizes[i], consumed)
		}
		if env.Body != "msg-"+strconv.Itoa(i) {
			t.Errorf("Frame %d: unexpected body %v", i, env.Body)
		}
	}

	if _, _, err := DecodeNext(r, s, common.DefaultMaxFrameSize); err != io.EOF {
		t.Errorf("Expected io.EOF after the last frame, got %v", err)
	}
}

// TestLargePayload tests a 500,000 byte payload delivered in small chunks
func TestLargePayload(t *testing.T) {
	var sb strings.Builder
	for n := 0; sb.Len() < 500_000; n++ {
		sb.WriteString(strconv.Itoa(n))
	}
	long := sb.String()[:500_000]

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			pr, pw := io.Pipe()
			go func() {
				data, err := Encode(common.NewEnvelope(long), s)
				if err != nil {
					pw.CloseWithError(err)
					return
				}
				// Write in chunks so the reader sees partial frames
				for len(data) > 0 {
					n := 4096
					if n > len(data) {
						n = len(data)
					}
					if _, err := pw.Write(data[:n]); err != nil {
						return
					}
					data = data[n:]
				}
				pw.Close()
			}()

			fr := NewReader(pr, s, common.DefaultMaxFrameSize, 1024)
			env, _, err := fr.Next()
			if err != nil {
				t.Fatalf("Failed to read frame: %v", err)
			}
			if env.Body != long {
				t.Errorf("Body mismatch, got %d bytes", len(env.Body.(string)))
			}

			if _, _, err := fr.Next(); err != io.EOF {
				t.Errorf("Expected io.EOF, got %v", err)
			}
		})
	}
}

// TestReaderBufferReuse tests that decoded envelopes stay intact when the buffer is reused
func TestReaderBufferReuse(t *testing.T) {
	s := serializer.NewMsgpackSerializer()

	var stream bytes.Buffer
	for _, body := range []string{"first-body", "second", "3"} {
		if _, err := Write(&stream, common.NewEnvelope(body), s); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	fr := NewReader(&stream, s, 0, 16)
	var results []common.Envelope
	for {
		env, _, err := fr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		results = append(results, env)
	}

	expected := []interface{}{"first-body", "second", "3"}
	for i, env := range results {
		if env.Body != expected[i] {
			t.Errorf("Frame %d: expected %v, got %v", i, expected[i], env.Body)
		}
	}
	if len(results) != len(expected) {
		t.Errorf("Expected %d frames, got %d", len(expected), len(results))
	}
}

// TestFramingErrors tests every failure reason of the decoder
func TestFramingErrors(t *testing.T) {
	s := serializer.NewMsgpackSerializer()

	valid, err := Encode(common.NewEnvelope(map[string]interface{}{"foo": "bar"}), s)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	testCases := []struct {
		name         string
		data         []byte
		maxFrameSize int
		reason       error
	}{
		{
			name:   "Non numeric length",
			data:   []byte("abc {}"),
			reason: ErrMalformedLength,
		},
		{
			name:   "Empty length token",
			data:   []byte(" 12"),
			reason: ErrMalformedLength,
		},
		{
			name:   "Length token too long",
			data:   []byte(strings.Repeat("9", 30) + " x"),
			reason: ErrMalformedLength,
		},
		{
			name:   "Missing delimiter",
			data:   []byte("12"),
			reason: ErrTruncatedFrame,
		},
		{
			name:   "Short body",
			data:   valid[:len(valid)-2],
			reason: ErrTruncatedFrame,
		},
		{
			name:   "Corrupt payload",
			data:   []byte("2 \xc1\xc1"), // 0xc1 is never used in msgpack
			reason: ErrCorruptPayload,
		},
		{
			name:         "Frame too large",
			data:         valid,
			maxFrameSize: 4,
			reason:       ErrFrameTooLarge,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(tc.data, s, tc.maxFrameSize)
			if err == nil {
				t.Fatalf("Expected error but got none")
			}

			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("Expected *FramingError, got %T: %v", err, err)
			}
			if !errors.Is(err, tc.reason) {
				t.Errorf("Expected reason %v, got %v", tc.reason, err)
			}
		})
	}
}

// TestMalformedLengthDoesNotBlock tests that garbage is rejected before a delimiter arrives
func TestMalformedLengthDoesNotBlock(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	go func() {
		// No delimiter and the writer never closes
		_, _ = pw.Write([]byte("GET /"))
	}()

	fr := NewReader(pr, serializer.NewMsgpackSerializer(), 0, 64)
	_, _, err := fr.Next()
	if !errors.Is(err, ErrMalformedLength) {
		t.Errorf("Expected malformed length, got %v", err)
	}
}
