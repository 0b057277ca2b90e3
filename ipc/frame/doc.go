// Package frame implements the wire framing of the dIPC transport.
//
// Every message on a stream is one frame:
//
//	<decimal ASCII length><' '><serialized envelope>
//
// The length counts the bytes of the serialized envelope only. Frames are read
// strictly one after the other, there is no resynchronisation: once a stream
// produced a FramingError its position is undefined and it must be closed.
//
// Failure reasons (usable with errors.Is on the returned error):
//   - ErrMalformedLength: the length token is empty, too long or not a decimal number
//   - ErrTruncatedFrame: the stream ended in the middle of a frame
//   - ErrCorruptPayload: the payload could not be deserialized
//   - ErrFrameTooLarge: the declared length exceeds the configured limit
//
// A clean end of stream before the first byte of a new frame is reported as io.EOF.
//
// Usage:
//
//	s := serializer.NewMsgpackSerializer()
//	_, err := frame.Write(conn, common.NewEnvelope("hello"), s)
//
//	r := frame.NewReader(conn, s, common.DefaultMaxFrameSize, common.DefaultReadBufferSize)
//	for {
//		env, _, err := r.Next()
//		if err != nil {
//			break
//		}
//		// ... handle env ...
//	}
package frame
