// Package protocol defines the wire types shared by every consensus
// component: peer/token/block identifiers, the Block/TokenBlock data
// model, and the Message/MessageEnvelope types routed between nodes.
package protocol

// PeerID, TokenID and BlockID are deliberately the same underlying numeric
// type so they can be compared and cast interchangeably, matching the
// original simulation's 64-bit identifiers. A production deployment widens
// these to 256-bit values; the contracts in this package do not depend on
// the width.
type PeerID = uint64
type TokenID = PeerID
type BlockID = PeerID

type Time = uint64
type Ticket = uint64
type Signature = uint64
type PublicKeyRef = uint64

// TokensPerBlock is the fixed number of token slots a Block carries.
const TokensPerBlock = 6

// TokenSignatureSize bounds the signature-search response fan-out.
const TokenSignatureSize = 8

// StepsIntoFuture is how far ahead of the local clock a block's declared
// time may be before it is rejected outright.
const StepsIntoFuture Time = 100

// VoteThreshold is the minimum absolute signed tally needed to treat a slot
// as decided rather than contested.
const VoteThreshold int64 = 3

// TokenBlock records, for one slot of a Block, which token moved, which
// block previously held it, and the key authorising the next move.
type TokenBlock struct {
	Token TokenID
	Last  BlockID
	Key   PublicKeyRef
}

// Block is the unit nodes vote on and commit. Its ID is a content hash of
// Time/Used/Parts computed by the caller; Signatures are carried alongside
// but excluded from that hash.
type Block struct {
	ID         BlockID
	Time       Time
	Used       uint8
	Parts      [TokensPerBlock]TokenBlock
	Signatures [TokensPerBlock]*Signature
}

// TokenMapping is a point-in-time answer to "which block currently holds
// this token".
type TokenMapping struct {
	ID    TokenID
	Block BlockID
}

// VoteMessage carries a peer's current bitmap vote on a block, optionally
// asking for a reply.
type VoteMessage struct {
	BlockID BlockID
	Vote    uint8
	Reply   bool
}

// QueryMessage asks for the block currently bound to Token, to be routed
// toward Target (0 meaning "the sender").
type QueryMessage struct {
	Token  TokenID
	Target PeerID
	Ticket Ticket
}

// AnswerMessage is a signed response to a QueryMessage.
type AnswerMessage struct {
	Answer    TokenMapping
	Signature [TokenSignatureSize]TokenMapping
}

// Message is a tagged union of the four wire message kinds. Exactly one of
// Vote/Query/Answer/Block is populated, selected by Type.
type Message struct {
	Type   MessageKind
	Vote   *VoteMessage
	Query  *QueryMessage
	Answer *AnswerMessage
	Block  *Block
}

// MessageKind tags which field of Message is populated.
type MessageKind uint8

const (
	KindVote MessageKind = iota
	KindQuery
	KindAnswer
	KindBlock
)

// Envelope addresses a Message between two peers and binds it to a ticket.
type Envelope struct {
	Sender   PeerID
	Receiver PeerID
	Ticket   Ticket
	Time     Time
	Message  Message
}

// BlockUseCase isolates ticket namespaces so a ticket minted for one
// purpose cannot be replayed as another.
type BlockUseCase int

const (
	UseCaseMempoolBlock BlockUseCase = iota
	UseCaseParentBlock
	UseCaseCommitChain
	UseCaseValidateWith
)

func (u BlockUseCase) String() string {
	switch u {
	case UseCaseMempoolBlock:
		return "mempool_block"
	case UseCaseParentBlock:
		return "parent_block"
	case UseCaseCommitChain:
		return "commit_chain"
	case UseCaseValidateWith:
		return "validate_with"
	default:
		return "unknown"
	}
}
