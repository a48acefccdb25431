package topic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Errors
var (
	ErrUnknownKind     = errors.New("unknown topic kind")
	ErrEmptyIdentifier = errors.New("empty topic identifier")
	ErrMalformedKey    = errors.New("malformed topic key")
)

// Kind identifies the kind of data a topic carries.
type Kind string

const (
	KindPrice  Kind = "price"
	KindTrades Kind = "trades"
)

// Kinds returns every kind this package understands.
func Kinds() []Kind {
	return []Kind{KindPrice, KindTrades}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPrice, KindTrades:
		return true
	}
	return false
}

// Key is the canonical string form of a Topic.
type Key string

// Topic is an immutable (kind, identifier) pair.
type Topic struct {
	Kind Kind
	ID   string // Token/pool address or symbol
}

// New validates kind and id and returns the canonical Topic.
func New(kind Kind, id string) (Topic, error) {
	if !kind.Valid() {
		return Topic{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Topic{}, ErrEmptyIdentifier
	}
	return Topic{Kind: kind, ID: NormalizeID(id)}, nil
}

// MustNew is New for static topics. It panics on invalid input.
func MustNew(kind Kind, id string) Topic {
	t, err := New(kind, id)
	if err != nil {
		panic(err)
	}
	return t
}

// Price returns the live price topic for id.
func Price(id string) (Topic, error) {
	return New(KindPrice, id)
}

// Trades returns the live trade feed topic for id.
func Trades(id string) (Topic, error) {
	return New(KindTrades, id)
}

// Key returns "{kind}:{id}".
//
// Kinds never contain ':', so splitting a key at its first ':' recovers the
// pair even when the identifier itself contains one.
func (t Topic) Key() Key {
	return Key(string(t.Kind) + ":" + t.ID)
}

// String implements fmt.Stringer.
func (t Topic) String() string {
	return string(t.Key())
}

// ParseKey is the inverse of Topic.Key.
func ParseKey(s string) (Topic, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Topic{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	return New(Kind(kind), id)
}

// NormalizeID returns the canonical form of an identifier. 20-byte hex
// addresses become EIP-55 checksummed; anything else is returned unchanged.
func NormalizeID(id string) string {
	if common.IsHexAddress(id) && strings.HasPrefix(strings.ToLower(id), "0x") {
		return common.HexToAddress(id).Hex()
	}
	return id
}
