// Package genesis deterministically bootstraps a fresh network's initial
// token set: every node running the same config produces byte-identical
// state with no coordination required.
package genesis

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/echonode/echoconsent/protocol"
	"lukechampine.com/blake3"
)

// DefaultSeed is the seed string used when no network-specific seed is
// configured.
const DefaultSeed = "This is the Genesis of the Echo Consent Network"

// DefaultBlockCount is how many genesis blocks (and tokens) a fresh network
// starts with absent an explicit override.
const DefaultBlockCount = 100_000

// Config parameterizes genesis generation.
type Config struct {
	BlockCount int
	Seed       string
}

// DefaultConfig returns the standard genesis configuration.
func DefaultConfig() Config {
	return Config{BlockCount: DefaultBlockCount, Seed: DefaultSeed}
}

// generateToken derives the next token ID from seed and counter via
// Blake3(seed || zero-padded-7-digit-counter), taking the first 8 bytes of
// the hash little-endian. The token's own bytes become the seed for the
// next call, chaining every token to the one before it.
func generateToken(seed []byte, counter int) (protocol.TokenID, []byte) {
	h := blake3.New(32, nil)
	h.Write(seed)
	fmt.Fprintf(h, "%07d", counter)
	sum := h.Sum(nil)
	token := protocol.TokenID(binary.LittleEndian.Uint64(sum[:8]))

	next := make([]byte, 8)
	binary.LittleEndian.PutUint64(next, token)
	return token, next
}

// createGenesisBlock builds the single-slot, unsigned block that anchors
// token at the root of the chain.
func createGenesisBlock(token protocol.TokenID, blockID protocol.BlockID) protocol.Block {
	var b protocol.Block
	b.ID = blockID
	b.Time = 0
	b.Used = 1
	b.Parts[0] = protocol.TokenBlock{Token: token, Last: 0, Key: 0}
	return b
}

// Generate populates backend with cfg.BlockCount genesis blocks and their
// token mappings in a single atomic batch. Two backends given the same
// config always end up holding identical state.
func Generate(backend protocol.BatchedBackend, cfg Config) error {
	log.Printf("[genesis] generating %d blocks from seed %q", cfg.BlockCount, cfg.Seed)

	seed := []byte(cfg.Seed)
	batch := backend.BeginBatch()

	for i := 1; i <= cfg.BlockCount; i++ {
		token, next := generateToken(seed, i)
		blockID := protocol.BlockID(i)

		batch.SaveBlock(createGenesisBlock(token, blockID))
		batch.UpdateToken(token, blockID, 0, 0)

		seed = next
		if i%10_000 == 0 {
			log.Printf("[genesis] generated %d / %d blocks", i, cfg.BlockCount)
		}
	}

	log.Printf("[genesis] committing batch of %d blocks", cfg.BlockCount)
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("genesis: commit failed: %w", err)
	}
	log.Printf("[genesis] generation complete: %d blocks", cfg.BlockCount)
	return nil
}
