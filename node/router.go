// Package node ties the ring, mempool and ticket manager together into the
// two entry points a transport loop drives a peer through: Tick, run on a
// timer, and HandleMessage, run for every inbound envelope.
package node

import (
	"github.com/echonode/echoconsent/mempool"
	"github.com/echonode/echoconsent/protocol"
	"github.com/echonode/echoconsent/ring"
	"github.com/echonode/echoconsent/ticket"
)

// defaultTicketRotation is how many ticks a ticket.Manager's secret stays
// current before rotating, chosen to comfortably outlast one round trip to
// a ring-distance-6 peer and back under typical tick rates.
const defaultTicketRotation = 100

// Router is a single peer's consensus state: its view of the ring, its
// pending-block pool, and the ticket manager binding its outstanding
// requests to their replies.
type Router struct {
	peers  *ring.Table
	pool   *mempool.Pool
	blocks protocol.BlockStore

	tickets *ticket.Manager

	selfID protocol.PeerID
	time   protocol.Time
	sink   protocol.EventSink
}

// New creates a Router backed by tokens/blocks with no event
// instrumentation.
func New(tokens protocol.TokenStorageBackend, blocks protocol.BlockStore, selfID protocol.PeerID, at protocol.Time) *Router {
	return NewWithSink(tokens, blocks, selfID, at, protocol.NoOpSink{})
}

// NewWithSink creates a Router with a custom event sink for observability.
func NewWithSink(tokens protocol.TokenStorageBackend, blocks protocol.BlockStore, selfID protocol.PeerID, at protocol.Time, sink protocol.EventSink) *Router {
	return &Router{
		peers:   ring.New(selfID),
		pool:    mempool.New(tokens, blocks),
		blocks:  blocks,
		tickets: ticket.New(defaultTicketRotation),
		selfID:  selfID,
		time:    at,
		sink:    sink,
	}
}

// PeerID returns this router's own ring identity.
func (r *Router) PeerID() protocol.PeerID { return r.selfID }

// SeedPeer introduces a peer into the ring as of the current tick.
func (r *Router) SeedPeer(peer protocol.PeerID) { r.peers.UpdatePeer(peer, r.time) }

// NumPeers reports the current ring size, excluding self.
func (r *Router) NumPeers() int { return r.peers.NumPeers() }

// SubmitBlock hands a locally originated or externally discovered block to
// the pool for voting.
func (r *Router) SubmitBlock(block protocol.Block) bool { return r.pool.Block(block, r.time) }

// CommittedBlock looks up a block that has already been persisted.
func (r *Router) CommittedBlock(id protocol.BlockID) (protocol.Block, bool) { return r.blocks.Lookup(id) }

// Tick advances the clock by one step, re-tallies the pool, rotates ticket
// secrets, and turns whatever follow-up requests fall out into outgoing
// envelopes.
//
// Vote cases:
//
//	Two affirmative claims on the same token within this tick's requests
//	are a conflict: both claiming blocks get this tick's outgoing votes
//	forced to 0 and a pending-to-blocked state-change event is logged for
//	each, since no ring vote can ever resolve a token moving to two places
//	at once. The pool's own state for those blocks is not changed, so the
//	check is repeated on every tick in which the conflict recurs.
func (r *Router) Tick() []protocol.Envelope {
	r.time++
	r.tickets.Tick(r.time)

	requests := r.pool.Tick(r.peers, r.time, r.selfID, r.sink)
	blocked := r.detectConflicts(requests)

	var out []protocol.Envelope
	for _, req := range requests {
		switch req.Kind {
		case mempool.RequestVote:
			out = append(out, r.voteEnvelopes(req, blocked)...)
		case mempool.RequestParent:
			out = append(out, r.parentEnvelopes(req)...)
		case mempool.RequestWitnessBlock:
			if peerID, ok := r.peers.PeerFor(req.BlockID, r.time); ok {
				out = append(out, r.requestBlock(peerID, req.BlockID, protocol.UseCaseValidateWith))
			}
		}
	}
	return out
}

// detectConflicts scans vote requests (already sorted by token ID) for
// adjacent affirmative claims on the same token and marks every block
// making such a claim, including a block that claims one token in two slots.
func (r *Router) detectConflicts(requests []mempool.Request) map[protocol.BlockID]bool {
	blocked := make(map[protocol.BlockID]bool)
	var lastToken protocol.TokenID
	var lastBlock protocol.BlockID
	seen := false
	for _, req := range requests {
		if req.Kind != mempool.RequestVote || !req.Affirmative {
			continue
		}
		if seen && lastToken == req.TokenID {
			for _, id := range []protocol.BlockID{lastBlock, req.BlockID} {
				if blocked[id] {
					continue
				}
				blocked[id] = true
				r.sink.Log(r.time, r.selfID, protocol.Event{
					Kind: protocol.EventBlockStateChange, BlockID: id,
					FromState: "pending", ToState: "blocked",
				})
			}
		}
		lastToken = req.TokenID
		lastBlock = req.BlockID
		seen = true
	}
	return blocked
}

func (r *Router) voteEnvelopes(req mempool.Request, blocked map[protocol.BlockID]bool) []protocol.Envelope {
	voteBits := req.Vote
	if blocked[req.BlockID] {
		voteBits = 0
	}
	peersFor, ok := r.peers.PeersFor(req.TokenID, r.time)
	if !ok {
		return nil
	}
	var out []protocol.Envelope
	for _, pid := range peersFor {
		out = append(out, protocol.Envelope{
			Sender: r.selfID, Receiver: pid, Ticket: 0, Time: r.time,
			Message: protocol.Message{Type: protocol.KindVote, Vote: &protocol.VoteMessage{
				BlockID: req.BlockID, Vote: voteBits, Reply: true,
			}},
		})
		r.sink.Log(r.time, r.selfID, protocol.Event{Kind: protocol.EventVoteCast, BlockID: req.BlockID, Peer: pid})
	}
	return out
}

func (r *Router) parentEnvelopes(req mempool.Request) []protocol.Envelope {
	if parent, ok := r.pool.Query(req.ParentID); ok {
		r.pool.ValidateWith(parent, req.BlockID)
		return nil
	}
	peerID, ok := r.peers.PeerFor(req.ParentID, r.time)
	if !ok {
		return nil
	}
	return []protocol.Envelope{r.requestBlock(peerID, req.ParentID, protocol.UseCaseParentBlock)}
}

func (r *Router) requestBlock(receiver protocol.PeerID, block protocol.BlockID, useCase protocol.BlockUseCase) protocol.Envelope {
	return protocol.Envelope{
		Sender: r.selfID, Receiver: receiver, Ticket: 0, Time: r.time,
		Message: protocol.Message{Type: protocol.KindQuery, Query: &protocol.QueryMessage{
			Token: block, Target: 0, Ticket: r.tickets.Generate(block, useCase),
		}},
	}
}

func (r *Router) replyDirect(target protocol.PeerID, block protocol.BlockID, blocked bool) protocol.Envelope {
	v := uint8(0xFF)
	if blocked {
		v = 0
	}
	return protocol.Envelope{
		Sender: r.selfID, Receiver: target, Ticket: 0, Time: r.time,
		Message: protocol.Message{Type: protocol.KindVote, Vote: &protocol.VoteMessage{
			BlockID: block, Vote: v, Reply: false,
		}},
	}
}

// HandleMessage processes one inbound envelope and returns whatever
// envelopes must be sent in response.
func (r *Router) HandleMessage(msg protocol.Envelope) []protocol.Envelope {
	switch msg.Message.Type {
	case protocol.KindVote:
		return r.handleVote(msg)
	case protocol.KindQuery:
		return r.handleQuery(msg)
	case protocol.KindAnswer:
		r.handleAnswer(msg)
		return nil
	case protocol.KindBlock:
		return r.handleBlock(msg)
	default:
		return nil
	}
}

func (r *Router) handleVote(msg protocol.Envelope) []protocol.Envelope {
	v := msg.Message.Vote
	r.sink.Log(r.time, r.selfID, protocol.Event{Kind: protocol.EventVoteReceived, BlockID: v.BlockID, FromPeer: msg.Sender})

	state, known := r.pool.Status(v.BlockID)
	_, trusted := r.peers.TrustedPeer(msg.Sender)

	switch {
	case known && state == mempool.StatePending && trusted:
		r.pool.Vote(v.BlockID, v.Vote, msg.Sender, msg.Time)
	case known && state == mempool.StateCommit:
		if v.Reply {
			return []protocol.Envelope{r.replyDirect(msg.Sender, v.BlockID, false)}
		}
	case known && state == mempool.StateBlocked:
		if v.Reply {
			return []protocol.Envelope{r.replyDirect(msg.Sender, v.BlockID, true)}
		}
	case !known && trusted:
		r.pool.Vote(v.BlockID, v.Vote, msg.Sender, msg.Time)
		return []protocol.Envelope{r.requestBlock(msg.Sender, v.BlockID, protocol.UseCaseMempoolBlock)}
	case !known && !trusted:
		defer r.peers.UpdatePeer(msg.Sender, r.time)
		if msg.Ticket > 0 {
			return []protocol.Envelope{r.requestBlock(msg.Sender, v.BlockID, protocol.UseCaseMempoolBlock)}
		}
	}
	return nil
}

func (r *Router) handleQuery(msg protocol.Envelope) []protocol.Envelope {
	q := msg.Message.Query
	respondTo := msg.Sender
	if q.Target != 0 {
		respondTo = q.Target
	}

	if block, ok := r.pool.Query(q.Token); ok {
		return []protocol.Envelope{{
			Sender: r.selfID, Receiver: respondTo, Ticket: q.Ticket, Time: r.time,
			Message: protocol.Message{Type: protocol.KindBlock, Block: &block},
		}}
	}

	// Forward probabilistically rather than on every miss, so a popular
	// unknown token does not storm the ring.
	if (q.Token^r.time)&0x3 != 0 {
		return nil
	}
	peerID, ok := r.peers.PeerFor(q.Token, r.time)
	if !ok {
		return nil
	}
	r.sink.Log(r.time, r.selfID, protocol.Event{Kind: protocol.EventBlockNotFound, BlockID: q.Token, Peer: r.selfID, FromPeer: respondTo})
	return []protocol.Envelope{{
		Sender: r.selfID, Receiver: peerID, Ticket: 0, Time: r.time,
		Message: protocol.Message{Type: protocol.KindQuery, Query: &protocol.QueryMessage{
			Token: q.Token, Target: respondTo, Ticket: q.Ticket,
		}},
	}}
}

// handleAnswer records that the answering peer is alive. Routing an
// Answer's signature chain back into ring discovery belongs to the
// proof-of-storage/peer-election layer this core only reserves an
// interface for; see election.RingDistance.
func (r *Router) handleAnswer(msg protocol.Envelope) {
	r.peers.UpdatePeer(msg.Sender, r.time)
}

func (r *Router) handleBlock(msg protocol.Envelope) []protocol.Envelope {
	block := *msg.Message.Block
	useCase, ok := r.tickets.Validate(msg.Ticket, block.ID)
	if !ok {
		return nil
	}
	if r.pool.Block(block, r.time) {
		r.sink.Log(r.time, r.selfID, protocol.Event{Kind: protocol.EventBlockReceived, BlockID: block.ID, Peer: msg.Sender, Size: block.Used})
		if useCase == protocol.UseCaseParentBlock {
			r.sink.Log(r.time, r.selfID, protocol.Event{Kind: protocol.EventReorg, BlockID: block.ID, Peer: msg.Sender})
		}
	}
	return nil
}
