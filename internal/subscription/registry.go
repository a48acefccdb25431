// Package subscription implements the reference-counted Subscription Registry.
//
// The registry maps a topic key to the set of callbacks interested in it. A
// key is present if and only if its set is non-empty; the 0->1 and 1->0
// transitions are reported to the caller so it can start or stop the topic on
// the wire.
//
// Registry is not safe for concurrent use. The multiplexer serialises every
// call under its own lock so that a ref-count transition and its wire effect
// happen as one step.
package subscription

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rickgao/memestream/internal/topic"
)

// Callback receives payloads for one topic.
type Callback func(topic.Payload)

// Handle identifies one registered callback. The zero Handle is invalid.
type Handle struct {
	key topic.Key
	id  uuid.UUID
}

// Key returns the topic key the handle is registered under.
func (h Handle) Key() topic.Key { return h.key }

// Valid reports whether h was returned by Add.
func (h Handle) Valid() bool { return h.id != uuid.Nil }

// String implements fmt.Stringer.
func (h Handle) String() string { return string(h.key) + "#" + h.id.String() }

// entry holds the callbacks for one topic.
type entry struct {
	topic     topic.Topic
	callbacks map[uuid.UUID]registered
}

type registered struct {
	seq uint64 // Registration order, for stable fan-out
	cb  Callback
}

// Registry is the topic key -> callbacks table.
type Registry struct {
	entries map[topic.Key]*entry
	seq     uint64
	count   int // Total callbacks across all topics
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[topic.Key]*entry),
	}
}

// Add registers cb for t. first is true when t had no callbacks before.
func (r *Registry) Add(t topic.Topic, cb Callback) (h Handle, first bool) {
	key := t.Key()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{
			topic:     t,
			callbacks: make(map[uuid.UUID]registered),
		}
		r.entries[key] = e
	}

	r.seq++
	id := uuid.New()
	e.callbacks[id] = registered{seq: r.seq, cb: cb}
	r.count++

	return Handle{key: key, id: id}, !ok
}

// Remove unregisters the callback behind h. removed is false for unknown or
// already-removed handles. last is true when h was the topic's final
// callback; the topic entry is deleted in that case.
func (r *Registry) Remove(h Handle) (removed, last bool) {
	e, ok := r.entries[h.key]
	if !ok {
		return false, false
	}
	if _, ok := e.callbacks[h.id]; !ok {
		return false, false
	}

	delete(e.callbacks, h.id)
	r.count--

	if len(e.callbacks) == 0 {
		delete(r.entries, h.key)
		return true, true
	}
	return true, false
}

// Topic returns the topic registered under key.
func (r *Registry) Topic(key topic.Key) (topic.Topic, bool) {
	e, ok := r.entries[key]
	if !ok {
		return topic.Topic{}, false
	}
	return e.topic, true
}

// CallbacksFor returns a snapshot of the callbacks for key in registration
// order. Unknown keys yield nil; servers may still emit frames for a topic
// that was just unsubscribed.
func (r *Registry) CallbacksFor(key topic.Key) []Callback {
	e, ok := r.entries[key]
	if !ok {
		return nil
	}

	regs := make([]registered, 0, len(e.callbacks))
	for _, reg := range e.callbacks {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	cbs := make([]Callback, len(regs))
	for i, reg := range regs {
		cbs[i] = reg.cb
	}
	return cbs
}

// ActiveTopics returns a snapshot of every topic with at least one callback,
// ordered by key.
func (r *Registry) ActiveTopics() []topic.Topic {
	topics := make([]topic.Topic, 0, len(r.entries))
	for _, e := range r.entries {
		topics = append(topics, e.topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Key() < topics[j].Key() })
	return topics
}

// Len returns the number of active topics.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Callbacks returns the number of registered callbacks across all topics.
func (r *Registry) Callbacks() int {
	return r.count
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.entries = make(map[topic.Key]*entry)
	r.count = 0
}
