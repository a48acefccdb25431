// Package codec translates between topics and wire frames.
//
// Each backend speaks its own JSON dialect, so the protocol is pluggable:
//   - "channel": {"type":"subscribe","channel":"price","token":"0x..."}
//   - "keyed":   {"type":"subscribe","topic":"price:0x..."}
//
// Codecs are pure. Encoding never fails for a valid topic, and decoding never
// panics: frames that carry no topic data (pong, acks) return ErrNotTopicFrame,
// malformed frames return a wrapped ErrMalformedFrame. Callers drop both.
package codec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rickgao/memestream/internal/topic"
)

// Errors
var (
	ErrNotTopicFrame  = errors.New("not a topic frame")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownCodec   = errors.New("unknown codec")
)

// Inbound is a decoded data frame.
type Inbound struct {
	Key     topic.Key
	Payload topic.Payload
}

// Codec encodes outbound frames and decodes inbound frames for one backend.
type Codec interface {
	// Name returns the protocol name used in configuration.
	Name() string

	// EncodeSubscribe returns the frame that starts a topic on the wire.
	EncodeSubscribe(t topic.Topic) []byte

	// EncodeUnsubscribe returns the frame that stops a topic on the wire.
	EncodeUnsubscribe(t topic.Topic) []byte

	// EncodePing returns the keepalive frame.
	EncodePing() []byte

	// Decode maps an inbound frame to a topic key and payload.
	Decode(frame []byte) (Inbound, error)
}

var registry = map[string]func() Codec{
	ChannelName: func() Codec { return NewChannel() },
	KeyedName:   func() Codec { return NewKeyed() },
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return ctor(), nil
}

// Names returns the registered codec names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
