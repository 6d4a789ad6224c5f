package mempool

import (
	"testing"

	"github.com/echonode/echoconsent/protocol"
	"github.com/echonode/echoconsent/ring"
	"github.com/echonode/echoconsent/storage"
)

func newTestPool() (*Pool, *storage.MemoryTokens, *storage.MemoryBlocks) {
	tokens := storage.NewMemoryTokens()
	blocks := storage.NewMemoryBlocks()
	return New(tokens, blocks), tokens, blocks
}

func simpleBlock(id protocol.BlockID, at protocol.Time, token protocol.TokenID) protocol.Block {
	var b protocol.Block
	b.ID = id
	b.Time = at
	b.Used = 1
	b.Parts[0] = protocol.TokenBlock{Token: token, Last: 0, Key: 0}
	return b
}

func TestBlockAcceptsOnceThenIgnoresDuplicates(t *testing.T) {
	p, _, _ := newTestPool()
	b := simpleBlock(1, 5, 100)

	if !p.Block(b, 5) {
		t.Fatal("expected first submission to be accepted")
	}
	if p.Block(b, 5) {
		t.Fatal("expected a second submission of the same ID to be ignored")
	}
}

func TestBlockRejectsFarFuture(t *testing.T) {
	p, _, _ := newTestPool()
	b := simpleBlock(1, 1000, 100)
	if p.Block(b, 0) {
		t.Fatal("expected a far-future block to be rejected")
	}
	state, ok := p.Status(1)
	if !ok || state != StateBlocked {
		t.Fatalf("expected Blocked state, got %v ok=%v", state, ok)
	}
}

func TestQueryFallsBackToBlockStore(t *testing.T) {
	p, _, blocks := newTestPool()
	b := simpleBlock(42, 1, 7)
	blocks.Save(b)

	got, ok := p.Query(42)
	if !ok || got.ID != 42 {
		t.Fatalf("expected to find committed block 42, got %+v ok=%v", got, ok)
	}
}

func TestQueryZeroIDIsAlwaysMiss(t *testing.T) {
	p, _, _ := newTestPool()
	if _, ok := p.Query(0); ok {
		t.Fatal("expected block ID 0 to never resolve")
	}
}

func TestTickCommitsOnWitnessAndSlotAgreement(t *testing.T) {
	p, tokens, blocks := newTestPool()
	peers := ring.New(1)

	// Build enough of a ring that PeerRange actually narrows (> minRingSize).
	for i := protocol.PeerID(2); i < 30; i++ {
		peers.UpdatePeer(i, 1)
	}

	b := simpleBlock(1000, 1, 55)
	p.Block(b, 1)

	witness := peers.PeerRange(1000)
	tokenRange := peers.PeerRange(55)

	// Cast enough affirmative votes, from peers inside both ranges, to push
	// the per-slot and witness balances outside [-2, 2].
	cast := 0
	for i := protocol.PeerID(2); i < 30 && cast < 6; i++ {
		if witness.InRange(i) && tokenRange.InRange(i) {
			p.Vote(1000, 0x1, i, 1)
			cast++
		}
	}
	if cast == 0 {
		t.Skip("no peer fell inside both ranges for this ring shape")
	}

	p.Tick(peers, 2, 1, protocol.NoOpSink{})

	if cast >= 3 {
		state, ok := p.Status(1000)
		if !ok {
			t.Fatal("expected block 1000 to have a known status")
		}
		if state != StateCommit {
			t.Fatalf("expected block 1000 to commit after %d agreeing votes, got state %v", cast, state)
		}
		if _, _, ok := tokens.Lookup(55); !ok {
			t.Fatal("expected token 55 to be recorded once the block committed")
		}
		if !blocks.Exists(1000) {
			t.Fatal("expected the committed block to be saved")
		}
	}
}

func TestVoteRespectsPoolCap(t *testing.T) {
	p, _, _ := newTestPool()
	for i := protocol.BlockID(1); i <= maxPoolSize+10; i++ {
		p.Vote(i, 1, 1, 1)
	}
	if len(p.pool) > maxPoolSize {
		t.Fatalf("expected pool size to stay at or below %d, got %d", maxPoolSize, len(p.pool))
	}
}
