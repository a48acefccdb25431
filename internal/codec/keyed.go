package codec

import (
	gojson "github.com/goccy/go-json"

	"github.com/rickgao/memestream/internal/topic"
)

// KeyedName is the configuration name of the keyed protocol.
const KeyedName = "keyed"

type keyedCommand struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type keyedEnvelope struct {
	Type  string            `json:"type"` // "event" carries data, anything else is control
	Topic string            `json:"topic"`
	Data  gojson.RawMessage `json:"data"`
}

// Keyed speaks a protocol that addresses topics by their canonical key.
type Keyed struct{}

// NewKeyed returns the keyed protocol codec.
func NewKeyed() *Keyed {
	return &Keyed{}
}

// Name implements Codec.
func (*Keyed) Name() string { return KeyedName }

// EncodeSubscribe implements Codec.
func (*Keyed) EncodeSubscribe(t topic.Topic) []byte {
	return mustMarshal(keyedCommand{Type: "subscribe", Topic: string(t.Key())})
}

// EncodeUnsubscribe implements Codec.
func (*Keyed) EncodeUnsubscribe(t topic.Topic) []byte {
	return mustMarshal(keyedCommand{Type: "unsubscribe", Topic: string(t.Key())})
}

// EncodePing implements Codec.
func (*Keyed) EncodePing() []byte {
	return pingFrame
}

// Decode implements Codec.
func (*Keyed) Decode(frame []byte) (Inbound, error) {
	var env keyedEnvelope
	if err := gojson.Unmarshal(frame, &env); err != nil {
		return Inbound{}, malformed("envelope: %v", err)
	}
	if env.Type == "" {
		return Inbound{}, malformed("envelope without type")
	}
	if env.Type != "event" {
		return Inbound{}, ErrNotTopicFrame
	}

	t, err := topic.ParseKey(env.Topic)
	if err != nil {
		return Inbound{}, malformed("event topic: %v", err)
	}

	payload, err := decodeBody(t, env.Data)
	if err != nil {
		return Inbound{}, err
	}

	return Inbound{Key: t.Key(), Payload: payload}, nil
}
