package protocol

import (
	"encoding/binary"
	"encoding/json"

	"github.com/echonode/echoconsent/crypto"
)

// hashableBlock is the subset of Block that participates in its content
// hash. Signatures are carried alongside a Block but, being produced after
// the ID is known, are excluded.
type hashableBlock struct {
	Time  Time
	Used  uint8
	Parts [TokensPerBlock]TokenBlock
}

// ComputeBlockID derives a Block's ID as the first 8 bytes (big-endian) of
// the SHA-256 hash of its Time/Used/Parts, matching the "content hash"
// contract documented on Block.ID. Two blocks with identical Time, Used and
// Parts always collide on ID, which is intentional: they are the same
// claim about the chain.
func ComputeBlockID(t Time, used uint8, parts [TokensPerBlock]TokenBlock) BlockID {
	data, err := json.Marshal(hashableBlock{Time: t, Used: used, Parts: parts})
	if err != nil {
		panic("protocol: marshal block for hashing: " + err.Error())
	}
	sum := crypto.HashBytes(data)
	return BlockID(binary.BigEndian.Uint64(sum[:8]))
}
