package mux

import "github.com/rickgao/memestream/internal/connection"

// Stats provides statistics about one multiplexer.
type Stats struct {
	Name             string
	Codec            string
	Closed           bool
	Failed           bool
	ActiveTopics     int
	Callbacks        int
	FramesDispatched int64 // Frames delivered to at least one callback
	FramesIgnored    int64 // Control frames (pong, acks)
	FramesUnrouted   int64 // Data frames for topics with no callbacks
	DecodeErrors     int64
	CallbackPanics   int64
	Connection       connection.Stats
}
