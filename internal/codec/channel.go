package codec

import (
	gojson "github.com/goccy/go-json"

	"github.com/rickgao/memestream/internal/topic"
)

// ChannelName is the configuration name of the channel protocol.
const ChannelName = "channel"

// channelCommand is an outbound frame of the channel protocol.
type channelCommand struct {
	Type    string `json:"type"`    // "subscribe" or "unsubscribe"
	Channel string `json:"channel"` // "price" or "trades"
	Token   string `json:"token"`
}

// channelEnvelope is an inbound frame of the channel protocol.
type channelEnvelope struct {
	Type  string            `json:"type"` // "price", "trade", "pong", "subscribed", ...
	Token string            `json:"token"`
	Data  gojson.RawMessage `json:"data"`
}

// Channel speaks the per-channel protocol: one channel per kind, addressed by
// token.
type Channel struct{}

// NewChannel returns the channel protocol codec.
func NewChannel() *Channel {
	return &Channel{}
}

// Name implements Codec.
func (*Channel) Name() string { return ChannelName }

// EncodeSubscribe implements Codec.
func (*Channel) EncodeSubscribe(t topic.Topic) []byte {
	return mustMarshal(channelCommand{Type: "subscribe", Channel: string(t.Kind), Token: t.ID})
}

// EncodeUnsubscribe implements Codec.
func (*Channel) EncodeUnsubscribe(t topic.Topic) []byte {
	return mustMarshal(channelCommand{Type: "unsubscribe", Channel: string(t.Kind), Token: t.ID})
}

// EncodePing implements Codec.
func (*Channel) EncodePing() []byte {
	return pingFrame
}

// Decode implements Codec.
func (*Channel) Decode(frame []byte) (Inbound, error) {
	var env channelEnvelope
	if err := gojson.Unmarshal(frame, &env); err != nil {
		return Inbound{}, malformed("envelope: %v", err)
	}

	var kind topic.Kind
	switch env.Type {
	case "price":
		kind = topic.KindPrice
	case "trade", "trades":
		kind = topic.KindTrades
	case "":
		return Inbound{}, malformed("envelope without type")
	default:
		// pong, subscribed, unsubscribed, error
		return Inbound{}, ErrNotTopicFrame
	}

	t, err := topic.New(kind, env.Token)
	if err != nil {
		return Inbound{}, malformed("%s frame: %v", env.Type, err)
	}

	payload, err := decodeBody(t, env.Data)
	if err != nil {
		return Inbound{}, err
	}

	return Inbound{Key: t.Key(), Payload: payload}, nil
}
