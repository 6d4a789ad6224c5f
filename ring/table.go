// Package ring maintains the sorted peer set each node uses to decide who
// witnesses which token or block, without any central membership
// authority: a peer's position in the sorted-by-ID ring determines what it
// is responsible for.
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/echonode/echoconsent/protocol"
)

// halfWidth is how many peers on either side of a key form its witness
// range once the ring is large enough to matter. At or below minRingSize
// peers the whole ring is in range (there's no one to exclude).
const (
	halfWidth  = 6
	minRingSize = 10
)

type peerEntry struct {
	id protocol.PeerID
	at protocol.Time
}

// Table is a node's view of the peer ring: its own ID plus every other
// peer it has heard from, kept sorted by ID for binary search.
type Table struct {
	mu     sync.RWMutex
	selfID protocol.PeerID
	active []peerEntry
}

// New creates a Table for a node identified by selfID. selfID is never
// inserted into the active set by UpdatePeer.
func New(selfID protocol.PeerID) *Table {
	return &Table{selfID: selfID}
}

// NumPeers returns how many peers are currently tracked, excluding self.
func (t *Table) NumPeers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// UpdatePeer records that id was heard from at time at, refreshing its
// timestamp if already known. Self is never stored.
func (t *Table) UpdatePeer(id protocol.PeerID, at protocol.Time) {
	if id == t.selfID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := sort.Search(len(t.active), func(i int) bool { return t.active[i].id >= id })
	if idx < len(t.active) && t.active[idx].id == id {
		t.active[idx].at = at
		return
	}
	t.active = append(t.active, peerEntry{})
	copy(t.active[idx+1:], t.active[idx:])
	t.active[idx] = peerEntry{id: id, at: at}
}

// ForIndex returns the peer at position idx in ring order.
func (t *Table) ForIndex(idx int) (protocol.PeerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.active) {
		return 0, false
	}
	return t.active[idx].id, true
}

// TrustedPeer reports whether id is a known ring member and its index.
func (t *Table) TrustedPeer(id protocol.PeerID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := sort.Search(len(t.active), func(i int) bool { return t.active[i].id >= id })
	if idx < len(t.active) && t.active[idx].id == id {
		return idx, true
	}
	return 0, false
}

// rawSearchIdx returns the sorted position of key: its exact index if
// present, or the insertion index otherwise.
func (t *Table) rawSearchIdx(key protocol.TokenID) int {
	return sort.Search(len(t.active), func(i int) bool { return t.active[i].id >= key })
}

// searchIdx returns the ring insertion point for key: one past an exact
// match, or the sorted insertion index otherwise. This mirrors the
// reference implementation's binary_search_by semantics where an exact hit
// is nudged forward by one before the rotation offset is applied, used by
// PeerFor/PeersFor so a key never witnesses itself.
func (t *Table) searchIdx(key protocol.TokenID) int {
	idx := t.rawSearchIdx(key)
	if idx < len(t.active) && t.active[idx].id == key {
		return idx + 1
	}
	return idx
}

// idxAdj walks adj steps from idx around the ring, wrapping modulo the
// active set's length. It panics if the ring is empty, matching the
// reference implementation's invariant that callers never invoke it on an
// empty ring (PeerFor/PeersFor/PeerRange all guard that case first).
func (t *Table) idxAdj(idx int, adj int) int {
	n := len(t.active)
	if n == 0 {
		panic(fmt.Sprintf("ring: idxAdj(%d, %d) on an empty ring", idx, adj))
	}
	res := (idx + adj) % n
	if res < 0 {
		res += n
	}
	return res
}

// rotation picks the +/- offset used to rotate which two ring neighbours
// witness key at time at, so repeated lookups for the same key spread
// across nearby peers as time advances rather than always hitting the
// same two.
func rotation(selfID protocol.PeerID, key protocol.TokenID, at protocol.Time) int {
	return int(((key^selfID)+at)&0x3) + 1
}

// PeerFor returns the single ring neighbour responsible for key at time at.
func (t *Table) PeerFor(key protocol.TokenID, at protocol.Time) (protocol.PeerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.active) == 0 {
		return 0, false
	}
	idx := t.searchIdx(key)
	adj := rotation(t.selfID, key, at)
	return t.active[t.idxAdj(idx, -adj)].id, true
}

// PeersFor returns the two ring neighbours (one on each side) responsible
// for witnessing key at time at.
func (t *Table) PeersFor(key protocol.TokenID, at protocol.Time) ([2]protocol.PeerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.active) == 0 {
		return [2]protocol.PeerID{}, false
	}
	idx := t.searchIdx(key)
	adj := rotation(t.selfID, key, at)
	return [2]protocol.PeerID{
		t.active[t.idxAdj(idx, -adj)].id,
		t.active[t.idxAdj(idx, adj)].id,
	}, true
}

// Range is a (possibly wrapping) inclusive span of the key space used to
// decide which votes count toward a given token or block.
type Range struct {
	Low, High protocol.PeerID
}

// InRange reports whether key falls within r, accounting for wrap-around
// when Low > High.
func (r Range) InRange(key protocol.TokenID) bool {
	if r.Low < r.High {
		return key >= r.Low && key <= r.High
	}
	return key <= r.High || key >= r.Low
}

// PeerRange returns the span of ring-adjacent peers that witness key. At or
// below minRingSize peers the whole key space is in range, since there aren't enough
// peers to meaningfully exclude anyone.
func (t *Table) PeerRange(key protocol.PeerID) Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.active) <= minRingSize {
		return Range{Low: 0, High: ^protocol.PeerID(0)}
	}
	idx := t.rawSearchIdx(key)
	return Range{
		Low:  t.active[t.idxAdj(idx, -halfWidth)].id,
		High: t.active[t.idxAdj(idx, halfWidth)].id,
	}
}
