// Package serializer provides envelope serialization for the dIPC transport.
// It defines a common interface and the implementations used to turn an
// Envelope into the payload bytes of a frame and back.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - A compact binary map/array encoding as the default wire format
//   - Structural round trips of arbitrary payloads (maps, slices, strings, numbers)
//
// Key Components:
//
//   - IIPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - msgpackSerializerImpl: MessagePack encoding (vmihailenco/msgpack). Integers are
//     decoded as int64/uint64 and floats as float64, maps with string keys as
//     map[string]interface{}. This is the default and recommended format.
//
//   - jsonSerializerImpl: JSON encoding (bytedance/sonic), useful for debugging with
//     standard tools. Numbers are decoded as float64, so payloads containing integers
//     do not round trip to the same Go types.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewMsgpackSerializer()
//	data, err := s.Serialize(common.NewEnvelope(map[string]interface{}{"foo": "bar"}))
//	// ... send data ...
//	var env common.Envelope
//	err = s.Deserialize(data, &env)
package serializer
