package protocol

import "errors"

// ErrNotSupported is returned by backend methods that a given storage
// implementation deliberately does not implement, matching
// HashMapTokens.search_signature's panic-on-unsupported behaviour in the
// reference implementation (translated here to an error instead of a
// panic, since that is idiomatic Go for an optional interface method).
var ErrNotSupported = errors.New("protocol: operation not supported by this backend")

// TokenStorageBackend is the storage contract the core consumes for the
// token → block mapping. Implementations range from an in-memory map to a
// persistent, replicated key-value store; the core never assumes which.
type TokenStorageBackend interface {
	// Lookup returns the block currently holding token, and the time it was
	// recorded, or ok=false if the token has never been set.
	Lookup(token TokenID) (block BlockID, at Time, ok bool)

	// Set records that token is now held by block as of time.
	Set(token TokenID, block BlockID, at Time)

	// SearchSignature finds the token nearest to key whose low bytes match
	// key's low bytes, subject to a recency threshold. Backends that do not
	// support this query return ErrNotSupported.
	SearchSignature(token TokenID, key PeerID) (*Message, error)
}

// BlockStore is the storage contract for committed blocks.
type BlockStore interface {
	Lookup(block BlockID) (Block, bool)
	Exists(block BlockID) bool
	Save(block Block)
	Remove(block BlockID)
}

// Batch is an atomic write buffer used by genesis bootstrap and any other
// bulk-loading caller; none of its writes are visible until Commit
// succeeds.
type Batch interface {
	SaveBlock(block Block)
	UpdateToken(token TokenID, block BlockID, parent BlockID, at Time)
	Commit() error
}

// BatchedBackend is implemented by storage backends that can hand out an
// atomic Batch, used by genesis generation to load a large initial token
// set as a single commit.
type BatchedBackend interface {
	BeginBatch() Batch
}
