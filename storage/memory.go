// Package storage provides the concrete TokenStorageBackend/BlockStore
// implementations the core consumes: an in-memory map for tests and small
// deployments, and a LevelDB-backed store for anything persistent.
package storage

import (
	"sort"
	"sync"

	"github.com/echonode/echoconsent/protocol"
)

type tokenEntry struct {
	block protocol.BlockID
	at    protocol.Time
}

// MemoryTokens is an in-memory protocol.TokenStorageBackend. It does not
// implement signature search; SearchSignature always returns
// protocol.ErrNotSupported, matching HashMapTokens in the reference
// implementation.
type MemoryTokens struct {
	mu   sync.RWMutex
	data map[protocol.TokenID]tokenEntry
}

// NewMemoryTokens creates an empty MemoryTokens backend.
func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{data: make(map[protocol.TokenID]tokenEntry)}
}

// Lookup implements protocol.TokenStorageBackend.
func (m *MemoryTokens) Lookup(token protocol.TokenID) (protocol.BlockID, protocol.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[token]
	return e.block, e.at, ok
}

// Set implements protocol.TokenStorageBackend.
func (m *MemoryTokens) Set(token protocol.TokenID, block protocol.BlockID, at protocol.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[token] = tokenEntry{block: block, at: at}
}

// SearchSignature is not implemented by the in-memory backend.
func (m *MemoryTokens) SearchSignature(protocol.TokenID, protocol.PeerID) (*protocol.Message, error) {
	return nil, protocol.ErrNotSupported
}

// Len returns the number of tokens currently tracked.
func (m *MemoryTokens) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// MemoryBlocks is an in-memory protocol.BlockStore.
type MemoryBlocks struct {
	mu   sync.RWMutex
	data map[protocol.BlockID]protocol.Block
}

// NewMemoryBlocks creates an empty MemoryBlocks backend.
func NewMemoryBlocks() *MemoryBlocks {
	return &MemoryBlocks{data: make(map[protocol.BlockID]protocol.Block)}
}

// Lookup implements protocol.BlockStore.
func (m *MemoryBlocks) Lookup(block protocol.BlockID) (protocol.Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[block]
	return b, ok
}

// Exists implements protocol.BlockStore.
func (m *MemoryBlocks) Exists(block protocol.BlockID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[block]
	return ok
}

// Save implements protocol.BlockStore.
func (m *MemoryBlocks) Save(block protocol.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[block.ID] = block
}

// Remove implements protocol.BlockStore.
func (m *MemoryBlocks) Remove(block protocol.BlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, block)
}

// Len returns the number of blocks currently stored.
func (m *MemoryBlocks) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// memoryBatch buffers writes for an atomic commit against MemoryTokens and
// MemoryBlocks, used by genesis bootstrap.
type memoryBatch struct {
	tokens *MemoryTokens
	blocks *MemoryBlocks

	blockWrites []protocol.Block
	tokenWrites []tokenWrite
}

type tokenWrite struct {
	token  protocol.TokenID
	block  protocol.BlockID
	parent protocol.BlockID
	at     protocol.Time
}

// MemoryBackend pairs MemoryTokens and MemoryBlocks behind the
// protocol.BatchedBackend contract genesis generation targets.
type MemoryBackend struct {
	Tokens *MemoryTokens
	Blocks *MemoryBlocks
}

// NewMemoryBackend creates an empty paired in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{Tokens: NewMemoryTokens(), Blocks: NewMemoryBlocks()}
}

// BeginBatch implements protocol.BatchedBackend.
func (b *MemoryBackend) BeginBatch() protocol.Batch {
	return &memoryBatch{tokens: b.Tokens, blocks: b.Blocks}
}

func (b *memoryBatch) SaveBlock(block protocol.Block) {
	b.blockWrites = append(b.blockWrites, block)
}

func (b *memoryBatch) UpdateToken(token protocol.TokenID, block protocol.BlockID, parent protocol.BlockID, at protocol.Time) {
	b.tokenWrites = append(b.tokenWrites, tokenWrite{token: token, block: block, parent: parent, at: at})
}

// Commit applies every buffered write. The in-memory backend has no
// partial-failure mode, so this always succeeds once called.
func (b *memoryBatch) Commit() error {
	for _, blk := range b.blockWrites {
		b.blocks.Save(blk)
	}
	for _, tw := range b.tokenWrites {
		b.tokens.Set(tw.token, tw.block, tw.at)
	}
	return nil
}

// SortedTokenIDs returns every token ID currently stored, in ascending
// order — used by ring-distance style queries that need a stable walk of
// the key space.
func (m *MemoryTokens) SortedTokenIDs() []protocol.TokenID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]protocol.TokenID, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
