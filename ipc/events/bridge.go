package events

import (
	"context"
	"fmt"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/bytedance/sonic"
	"os"
)

// DefaultTopic is used for envelopes without a tag
const DefaultTopic = "ipc"

// Origin identifies this process in fired events (hostname:pid)
var Origin = defaultOrigin()

func defaultOrigin() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// --------------------------------------------------------------------------
// Bridge
// --------------------------------------------------------------------------

// Bridge publishes received envelopes to a watermill publisher, so collaborators
// (reactors, returners) can subscribe by tag instead of talking to the socket.
type Bridge struct {
	publisher message.Publisher
}

// NewBridge creates a bridge publishing to publisher
func NewBridge(publisher message.Publisher) *Bridge {
	return &Bridge{publisher: publisher}
}

// the bridge can be used directly as a server handler
var _ transport.HandleFunc = (*Bridge)(nil).Handle

// Handle publishes env, failures are logged. It implements transport.HandleFunc.
func (b *Bridge) Handle(ctx context.Context, env common.Envelope) {
	if err := b.Publish(ctx, env); err != nil {
		Logger.Errorf("Failed to publish %s: %v", env, err)
	}
}

// Publish publishes env to the topic named by its tag (DefaultTopic if untagged).
// The payload is the JSON encoded body, the metadata is copied to the message.
func (b *Bridge) Publish(ctx context.Context, env common.Envelope) error {
	msg, err := EncodeMessage(env)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	topic := env.Tag()
	if topic == "" {
		topic = DefaultTopic
	}

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Message Conversion
// --------------------------------------------------------------------------

// EncodeMessage converts env to a watermill message. The message UUID is the
// envelope id, or a new ULID if the envelope has none.
func EncodeMessage(env common.Envelope) (*message.Message, error) {
	payload, err := sonic.ConfigStd.Marshal(env.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	id := env.ID()
	if id == "" {
		id = NewID()
	}

	msg := message.NewMessage(id, payload)
	for k, v := range env.Meta {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}

// DecodeMessage converts a message published by a Bridge back to an envelope.
// JSON numbers decode as float64.
func DecodeMessage(msg *message.Message) (common.Envelope, error) {
	var env common.Envelope
	if err := sonic.ConfigStd.Unmarshal(msg.Payload, &env.Body); err != nil {
		return env, fmt.Errorf("failed to decode body of %s: %w", msg.UUID, err)
	}

	if len(msg.Metadata) > 0 {
		env.Meta = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			env.Meta[k] = v
		}
	}
	return env, nil
}

// --------------------------------------------------------------------------
// In-Process Pub/Sub
// --------------------------------------------------------------------------

// NewGoChannel creates an in-process pub/sub for collaborators in the same process
func NewGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, newWatermillLogger())
}

// --------------------------------------------------------------------------
// Fire Event
// --------------------------------------------------------------------------

// Sender is anything that can send an envelope: a client transport or a cache handle
type Sender interface {
	Send(ctx context.Context, env common.Envelope) error
}

// FireEvent sends data as an event with the given tag. The envelope carries the
// tag, a new ULID and the Origin of this process. It returns the event id.
func FireEvent(ctx context.Context, sender Sender, tag string, data interface{}) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("event tag must not be empty")
	}

	id := NewID()
	env := common.NewTaggedEnvelope(tag, data).
		WithMeta(common.MetaID, id).
		WithMeta(common.MetaOrigin, Origin)

	if err := sender.Send(ctx, env); err != nil {
		return "", fmt.Errorf("failed to fire event %s: %w", tag, err)
	}
	return id, nil
}
