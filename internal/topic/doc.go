// Package topic defines what a feed subscription observes.
//
// A Topic is a (kind, identifier) pair such as the live price of a token or
// its live trade feed. Topics compare by their canonical Key, "{kind}:{id}".
// Identifiers that are EVM addresses are normalised to checksum form so that
// case variants of the same address share a single wire subscription.
package topic
