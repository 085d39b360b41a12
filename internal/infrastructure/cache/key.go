// Package cache implements the two-tier cache the read paths are built on:
// an ephemeral TTL tier (Redis) in front of a durable perpetual tier
// (Postgres), with a caller-supplied cold fetch against the ledger behind
// both.
package cache

// Key is the composite addressing scheme for cached entities.
// Primary is always set; Secondary is empty for entities with a single
// identity dimension (e.g. listings keyed by sequence number alone).
type Key struct {
	Primary   string
	Secondary string
}

// NewKey builds a Key from a primary identifier and an optional secondary one.
func NewKey(primary string, secondary ...string) Key {
	k := Key{Primary: primary}
	if len(secondary) > 0 {
		k.Secondary = secondary[0]
	}
	return k
}

// String renders the key for use in the ephemeral tier keyspace.
func (k Key) String() string {
	if k.Secondary == "" {
		return k.Primary
	}
	return k.Primary + "/" + k.Secondary
}
