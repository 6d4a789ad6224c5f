package ring

import (
	"testing"

	"github.com/echonode/echoconsent/protocol"
)

func TestPeerForEmptyRing(t *testing.T) {
	tbl := New(1)
	if _, ok := tbl.PeerFor(2, 0); ok {
		t.Fatal("expected no peer in an empty ring")
	}
}

func TestPeerForSinglePeer(t *testing.T) {
	tbl := New(1)
	tbl.UpdatePeer(2, 10)

	peer, ok := tbl.PeerFor(1, 0)
	if !ok || peer != 2 {
		t.Fatalf("expected peer 2, got %d ok=%v", peer, ok)
	}
}

func TestSelfNeverStored(t *testing.T) {
	tbl := New(1)
	tbl.UpdatePeer(1, 10)
	if tbl.NumPeers() != 0 {
		t.Fatalf("expected self to be excluded, got %d peers", tbl.NumPeers())
	}
}

func TestUpdatePeerRefreshesTime(t *testing.T) {
	tbl := New(1)
	tbl.UpdatePeer(5, 1)
	tbl.UpdatePeer(5, 2)
	if tbl.NumPeers() != 1 {
		t.Fatalf("expected a single deduplicated peer, got %d", tbl.NumPeers())
	}
}

func TestPeerRangeSmallRingIsUnbounded(t *testing.T) {
	tbl := New(1)
	for i := protocol.PeerID(2); i < 8; i++ {
		tbl.UpdatePeer(i, 1)
	}
	r := tbl.PeerRange(3)
	if !r.InRange(0) || !r.InRange(^protocol.TokenID(0)) {
		t.Fatal("expected unbounded range below minRingSize")
	}
}

func TestPeerRangeWrap(t *testing.T) {
	r := Range{Low: 250, High: 10}
	if !r.InRange(255) || !r.InRange(5) {
		t.Fatal("expected wrap-around range to include both ends")
	}
	if r.InRange(100) {
		t.Fatal("expected 100 to be outside the wrapped range")
	}
}
