// Package mempool tracks the voting state of blocks that have not yet
// committed: which peers have voted what, whether the block's parent
// references check out, and whether enough of the ring agrees to commit.
package mempool

import (
	"sort"
	"sync"

	"github.com/echonode/echoconsent/protocol"
	"github.com/echonode/echoconsent/ring"
)

// maxPoolSize bounds the number of distinct blocks tracked at once, so a
// flood of unrelated block IDs cannot grow the pool without bound.
const maxPoolSize = 100

// expiryTicks is how many ticks after it was first tracked a block is
// evicted from the pool; later votes do not extend that deadline.
const expiryTicks protocol.Time = 20

// State is the lifecycle stage of a block in the pool.
type State int

const (
	StatePending State = iota
	StateCommit
	StateBlocked
)

type vote struct {
	at  protocol.Time
	bit uint8
}

type blockState struct {
	votes map[protocol.PeerID]vote
	state State
	block *protocol.Block
	time  protocol.Time

	updated bool

	// one bit per token slot (protocol.TokensPerBlock of them)
	validated uint8
	matching  uint8
	remaining uint8
}

func newBlockState(at protocol.Time) *blockState {
	return &blockState{votes: make(map[protocol.PeerID]vote), state: StatePending, time: at}
}

func (s *blockState) castVote(peer protocol.PeerID, bit uint8, at protocol.Time) {
	v, ok := s.votes[peer]
	if !ok || v.at < at {
		s.votes[peer] = vote{at: at, bit: bit}
		s.updated = true
	}
}

// validateSignature is a placeholder for real signature verification: it
// checks the claimed key matches the signature value. A production
// deployment would verify an actual cryptographic signature here.
func validateSignature(key protocol.PublicKeyRef, sig protocol.Signature) bool {
	return uint64(key) == uint64(sig)
}

// validChild reports whether block's slot i is a legitimate continuation
// of parent: parent must be strictly older, and either the slot carries a
// signature authorised by one of parent's keys, or the slot has no
// predecessor at all (Last == 0).
func validChild(parent protocol.Block, block protocol.Block, i int) bool {
	if parent.Time >= block.Time {
		return false
	}
	if sig := block.Signatures[i]; sig != nil {
		for j := 0; j < int(parent.Used); j++ {
			if parent.Parts[j].Token == block.Parts[i].Token && validateSignature(parent.Parts[j].Key, *sig) {
				return true
			}
		}
		return false
	}
	return block.Parts[i].Last == 0
}

// Pool tracks per-block vote state backed by token/block storage.
type Pool struct {
	mu     sync.Mutex
	pool   map[protocol.BlockID]*blockState
	tokens protocol.TokenStorageBackend
	blocks protocol.BlockStore
}

// New creates an empty Pool backed by tokens and blocks.
func New(tokens protocol.TokenStorageBackend, blocks protocol.BlockStore) *Pool {
	return &Pool{pool: make(map[protocol.BlockID]*blockState), tokens: tokens, blocks: blocks}
}

// Status reports a block's lifecycle state: in the pool if still pending
// or blocked, or Commit if already persisted to the block store.
func (p *Pool) Status(blockID protocol.BlockID) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.pool[blockID]; ok {
		return st.state, true
	}
	if p.blocks.Exists(blockID) {
		return StateCommit, true
	}
	return 0, false
}

// Vote records sender's vote bitmap for blockID, ignoring later votes that
// are not newer than one already recorded. Once the pool holds
// maxPoolSize distinct blocks, new blocks cannot begin voting — the only
// protection against an unbounded flood of unrelated block IDs.
func (p *Pool) Vote(blockID protocol.BlockID, voteBits uint8, sender protocol.PeerID, at protocol.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pool[blockID]
	if !ok {
		if len(p.pool) >= maxPoolSize {
			return
		}
		st = newBlockState(at)
		p.pool[blockID] = st
	}
	st.castVote(sender, voteBits, at)
}

// Query returns the block if known, pending or committed.
func (p *Pool) Query(blockID protocol.BlockID) (protocol.Block, bool) {
	if blockID == 0 {
		return protocol.Block{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryLocked(blockID)
}

func (p *Pool) queryLocked(blockID protocol.BlockID) (protocol.Block, bool) {
	if blockID == 0 {
		return protocol.Block{}, false
	}
	if st, ok := p.pool[blockID]; ok && st.block != nil {
		return *st.block, true
	}
	return p.blocks.Lookup(blockID)
}

// ValidateWith re-checks any of blockID's slots whose Last points at
// parent, marking them validated once parent is known to be a legitimate
// ancestor.
func (p *Pool) ValidateWith(parent protocol.Block, blockID protocol.BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pool[blockID]
	if !ok || st.block == nil || st.state != StatePending {
		return
	}
	block := *st.block
	for i := 0; i < int(block.Used); i++ {
		if block.Parts[i].Last == parent.ID && validChild(parent, block, i) {
			st.validated |= 1 << uint(i)
		}
	}
}

// Block admits a newly seen block into the pool. It returns true only the
// first time a given block ID is accepted; subsequent calls for the same
// ID (whether with the same or different content) are ignored, since the
// first accepted block already defines that ID's content for voting
// purposes. A structurally invalid block (out-of-range slot count, too far
// in the future, or an unverifiable parent reference) instead marks the
// ID Blocked so it is never voted on. A new ID is refused once the pool
// already holds maxPoolSize blocks.
func (p *Pool) Block(block protocol.Block, at protocol.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pool[block.ID]
	if !ok {
		if len(p.pool) >= maxPoolSize {
			return false
		}
		st = newBlockState(at)
		p.pool[block.ID] = st
	}
	if st.block != nil {
		return false
	}

	valid, voteBits, validated := p.checkIncoming(block, at)
	if !valid {
		st.state = StateBlocked
		return false
	}
	b := block
	st.updated = true
	st.block = &b
	st.matching = voteBits
	st.validated = validated
	return true
}

func (p *Pool) checkIncoming(block protocol.Block, at protocol.Time) (valid bool, voteBits uint8, validated uint8) {
	if block.Used >= protocol.TokensPerBlock || block.Time > at+protocol.StepsIntoFuture {
		return false, 0, 0
	}
	for i := 0; i < int(block.Used); i++ {
		if parent, ok := p.queryLocked(block.Parts[i].Last); ok {
			if validChild(parent, block, i) {
				validated |= 1 << uint(i)
			} else {
				return false, 0, 0
			}
		}
		if held, _, ok := p.tokens.Lookup(block.Parts[i].Token); ok && held == block.Parts[i].Last {
			voteBits |= 1 << uint(i)
		}
	}
	return true, voteBits, validated
}

// RequestKind labels what a tick-generated Request is asking for.
type RequestKind int

const (
	// RequestVote asks ring peers for a token to weigh in with their vote.
	RequestVote RequestKind = iota
	// RequestParent asks for a still-unknown parent block.
	RequestParent
	// RequestWitnessBlock asks the block's own witness ring to settle it.
	RequestWitnessBlock
)

// Request is an action NodeRouter must turn into outgoing messages once a
// tick's local bookkeeping is done.
type Request struct {
	Kind        RequestKind
	BlockID     protocol.BlockID
	TokenID     protocol.TokenID
	Vote        uint8
	Affirmative bool
	ParentID    protocol.BlockID
}

func (r Request) sortKey() (int, uint64) {
	switch r.Kind {
	case RequestVote:
		return 0, r.TokenID
	case RequestParent:
		return 1, uint64(r.ParentID)
	default:
		return 2, uint64(r.BlockID)
	}
}

// witnessBit is a sentinel bit beyond the per-token slots used to flag
// "the block's own witness ring has not yet decided".
const witnessBit = 1 << protocol.TokensPerBlock

// Tick re-tallies every pending block whose votes changed since the last
// tick, commits any that have settled, evicts stale entries, and returns
// the set of follow-up requests (more votes needed, parents missing,
// witness undecided) for NodeRouter to turn into outgoing messages.
func (p *Pool) Tick(peers *ring.Table, at protocol.Time, selfID protocol.PeerID, sink protocol.EventSink) []Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, st := range p.pool {
		if at-st.time >= expiryTicks {
			delete(p.pool, id)
		}
	}

	var requests []Request

	for blockID, st := range p.pool {
		if st.state != StatePending || st.block == nil {
			continue
		}
		block := *st.block

		if st.updated {
			p.tally(blockID, st, block, peers, at, selfID, sink)
		}

		if st.state == StatePending {
			requests = append(requests, p.followUps(blockID, st, block)...)
		}
	}

	sort.Slice(requests, func(i, j int) bool {
		ki, vi := requests[i].sortKey()
		kj, vj := requests[j].sortKey()
		if ki != kj {
			return ki < kj
		}
		return vi < vj
	})

	return requests
}

func (p *Pool) tally(blockID protocol.BlockID, st *blockState, block protocol.Block, peers *ring.Table, at protocol.Time, selfID protocol.PeerID, sink protocol.EventSink) {
	ranges := make([]ring.Range, block.Used)
	for i := 0; i < int(block.Used); i++ {
		ranges[i] = peers.PeerRange(block.Parts[i].Token)
	}
	witness := peers.PeerRange(blockID)

	var balance [protocol.TokensPerBlock]int64
	witnessBalance := 0

	for peerID, v := range st.votes {
		effect := false
		for i, r := range ranges {
			if r.InRange(peerID) {
				if v.bit&(1<<uint(i)) == 0 {
					balance[i]--
				} else {
					balance[i]++
				}
				effect = true
			}
		}
		if witness.InRange(peerID) {
			witnessBalance++
			effect = true
		}
		if !effect {
			delete(st.votes, peerID)
		}
	}

	if witnessBalance <= 2 {
		st.remaining = witnessBit
	} else {
		st.remaining = 0
	}
	for i := range ranges {
		if balance[i] <= 2 && balance[i] >= -2 {
			st.remaining |= 1 << uint(i)
		}
	}

	if st.remaining == 0 {
		for i := 0; i < int(block.Used); i++ {
			p.tokens.Set(block.Parts[i].Token, block.ID, block.Time)
		}
		p.blocks.Save(block)
		st.state = StateCommit
		sink.Log(at, selfID, protocol.Event{Kind: protocol.EventBlockCommitted, BlockID: blockID})
	}
	st.updated = false
}

func (p *Pool) followUps(blockID protocol.BlockID, st *blockState, block protocol.Block) []Request {
	var requests []Request
	for i := 0; i < int(block.Used); i++ {
		if st.validated&(1<<uint(i)) == 0 && block.Parts[i].Last != 0 {
			requests = append(requests, Request{Kind: RequestParent, BlockID: blockID, ParentID: block.Parts[i].Last})
		}
		if st.remaining&(1<<uint(i)) != 0 {
			requests = append(requests, Request{
				Kind:        RequestVote,
				BlockID:     blockID,
				TokenID:     block.Parts[i].Token,
				Vote:        st.matching,
				Affirmative: st.matching&(1<<uint(i)) != 0,
			})
		}
	}
	if st.remaining&witnessBit != 0 {
		requests = append(requests, Request{Kind: RequestWitnessBlock, BlockID: blockID})
	}
	return requests
}
