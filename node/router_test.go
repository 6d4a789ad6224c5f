package node

import (
	"testing"

	"github.com/echonode/echoconsent/protocol"
	"github.com/echonode/echoconsent/storage"
)

func newTestRouter(selfID protocol.PeerID) (*Router, *storage.MemoryTokens, *storage.MemoryBlocks) {
	tokens := storage.NewMemoryTokens()
	blocks := storage.NewMemoryBlocks()
	return New(tokens, blocks, selfID, 0), tokens, blocks
}

func TestTickRoutesVoteRequestsToWitnesses(t *testing.T) {
	r, tokens, _ := newTestRouter(1)
	tokens.Set(500, 777, 0)
	for i := protocol.PeerID(2); i < 20; i++ {
		r.SeedPeer(i)
	}

	block := protocol.Block{ID: 1000, Time: 0, Used: 1}
	block.Parts[0] = protocol.TokenBlock{Token: 500, Last: 777}
	r.SubmitBlock(block)

	out := r.Tick()

	found := false
	for _, env := range out {
		if env.Message.Type == protocol.KindVote {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one outgoing vote request")
	}
}

func TestConflictingAffirmativeClaimsForceVoteToZero(t *testing.T) {
	r, tokens, _ := newTestRouter(1)
	tokens.Set(500, 777, 0)
	for i := protocol.PeerID(2); i < 20; i++ {
		r.SeedPeer(i)
	}

	a := protocol.Block{ID: 1, Time: 0, Used: 1}
	a.Parts[0] = protocol.TokenBlock{Token: 500, Last: 777}
	b := protocol.Block{ID: 2, Time: 0, Used: 1}
	b.Parts[0] = protocol.TokenBlock{Token: 500, Last: 777}

	r.SubmitBlock(a)
	r.SubmitBlock(b)

	out := r.Tick()

	sawZero := false
	for _, env := range out {
		if env.Message.Type == protocol.KindVote && env.Message.Vote.Vote == 0 {
			sawZero = true
		}
	}
	if !sawZero {
		t.Fatal("expected the conflicting second claim on token 500 to have its vote forced to zero")
	}
}

func TestHandleQueryRespondsWithKnownBlock(t *testing.T) {
	r, _, blocks := newTestRouter(1)
	blocks.Save(protocol.Block{ID: 5, Time: 1})

	q := protocol.Envelope{
		Sender: 2, Receiver: 1, Time: 0,
		Message: protocol.Message{Type: protocol.KindQuery, Query: &protocol.QueryMessage{Token: 5, Target: 0, Ticket: 77}},
	}

	out := r.HandleMessage(q)
	if len(out) != 1 || out[0].Message.Type != protocol.KindBlock || out[0].Message.Block.ID != 5 {
		t.Fatalf("expected a block reply for a known query, got %+v", out)
	}
	if out[0].Ticket != 77 {
		t.Fatal("expected the reply to echo the query's ticket")
	}
}

func TestHandleVoteFromUnknownTrustedPeerRequestsTheBlock(t *testing.T) {
	r, _, _ := newTestRouter(1)
	r.SeedPeer(2)

	msg := protocol.Envelope{
		Sender: 2, Receiver: 1, Time: 0,
		Message: protocol.Message{Type: protocol.KindVote, Vote: &protocol.VoteMessage{BlockID: 77, Vote: 0x1, Reply: true}},
	}

	out := r.HandleMessage(msg)
	if len(out) != 1 || out[0].Message.Type != protocol.KindQuery {
		t.Fatalf("expected a single block-request query, got %+v", out)
	}
}

func TestHandleVoteFromUntrustedPeerWithTicketRequestsBlockAndAddsPeer(t *testing.T) {
	r, _, _ := newTestRouter(1)

	msg := protocol.Envelope{
		Sender: 99, Receiver: 1, Ticket: 5, Time: 0,
		Message: protocol.Message{Type: protocol.KindVote, Vote: &protocol.VoteMessage{BlockID: 88, Vote: 0x1, Reply: false}},
	}

	out := r.HandleMessage(msg)
	if len(out) != 1 || out[0].Message.Type != protocol.KindQuery {
		t.Fatalf("expected a single block-request query, got %+v", out)
	}
	if r.NumPeers() != 1 {
		t.Fatalf("expected the untrusted sender to be added to the ring, got %d peers", r.NumPeers())
	}
}

func TestHandleVoteFromUntrustedPeerWithNoTicketOnlyUpdatesRing(t *testing.T) {
	r, _, _ := newTestRouter(1)

	msg := protocol.Envelope{
		Sender: 123, Receiver: 1, Ticket: 0, Time: 0,
		Message: protocol.Message{Type: protocol.KindVote, Vote: &protocol.VoteMessage{BlockID: 89, Vote: 0x1, Reply: false}},
	}

	out := r.HandleMessage(msg)
	if out != nil {
		t.Fatalf("expected no response for an unsolicited zero-ticket vote, got %v", out)
	}
	if r.NumPeers() != 1 {
		t.Fatalf("expected the sender to still be recorded in the ring, got %d peers", r.NumPeers())
	}
}

func TestHandleBlockAcceptsOnlyWithAMatchingTicket(t *testing.T) {
	r, _, _ := newTestRouter(1)

	good := protocol.Block{ID: 42, Time: 1}
	req := r.requestBlock(2, 42, protocol.UseCaseParentBlock)

	reply := protocol.Envelope{
		Sender: 2, Receiver: 1, Ticket: req.Message.Query.Ticket, Time: 1,
		Message: protocol.Message{Type: protocol.KindBlock, Block: &good},
	}
	if out := r.HandleMessage(reply); out != nil {
		t.Fatalf("expected no response envelopes for a block reply, got %v", out)
	}
	if r.SubmitBlock(good) {
		t.Fatal("expected block 42 to already be present in the pool after a valid ticketed reply")
	}

	bogus := protocol.Block{ID: 99, Time: 1}
	bogusReply := protocol.Envelope{
		Sender: 2, Receiver: 1, Ticket: 0, Time: 1,
		Message: protocol.Message{Type: protocol.KindBlock, Block: &bogus},
	}
	r.HandleMessage(bogusReply)
	if !r.SubmitBlock(bogus) {
		t.Fatal("expected block 99 to not have been accepted through a mismatched ticket")
	}
}

func TestHandleAnswerRecordsSender(t *testing.T) {
	r, _, _ := newTestRouter(1)
	msg := protocol.Envelope{
		Sender: 7, Receiver: 1, Time: 0,
		Message: protocol.Message{Type: protocol.KindAnswer, Answer: &protocol.AnswerMessage{}},
	}
	r.HandleMessage(msg)
	if r.NumPeers() != 1 {
		t.Fatalf("expected the answering peer to be added to the ring, got %d peers", r.NumPeers())
	}
}
