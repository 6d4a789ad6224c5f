package genesis

import (
	"testing"

	"github.com/echonode/echoconsent/storage"
)

func TestGenerateProducesExpectedBlockCount(t *testing.T) {
	backend := storage.NewMemoryBackend()
	cfg := Config{BlockCount: 10, Seed: "Small Genesis"}

	if err := Generate(backend, cfg); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if backend.Blocks.Len() != 10 {
		t.Fatalf("expected 10 blocks, got %d", backend.Blocks.Len())
	}
	if backend.Tokens.Len() != 10 {
		t.Fatalf("expected 10 tokens, got %d", backend.Tokens.Len())
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	cfg := Config{BlockCount: 50, Seed: "Test Genesis"}

	backendA := storage.NewMemoryBackend()
	backendB := storage.NewMemoryBackend()
	if err := Generate(backendA, cfg); err != nil {
		t.Fatalf("Generate A: %v", err)
	}
	if err := Generate(backendB, cfg); err != nil {
		t.Fatalf("Generate B: %v", err)
	}

	for _, id := range backendA.Tokens.SortedTokenIDs() {
		blockA, atA, ok := backendA.Tokens.Lookup(id)
		if !ok {
			t.Fatalf("token %d missing from backend A", id)
		}
		blockB, atB, ok := backendB.Tokens.Lookup(id)
		if !ok {
			t.Fatalf("token %d present in A but missing from B", id)
		}
		if blockA != blockB || atA != atB {
			t.Fatalf("token %d diverged between backends: (%d,%d) vs (%d,%d)", id, blockA, atA, blockB, atB)
		}
	}
}

func TestGenesisBlockStructure(t *testing.T) {
	backend := storage.NewMemoryBackend()
	cfg := Config{BlockCount: 3, Seed: DefaultSeed}
	if err := Generate(backend, cfg); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	block, ok := backend.Blocks.Lookup(1)
	if !ok {
		t.Fatal("expected genesis block 1 to exist")
	}
	if block.Time != 0 || block.Used != 1 {
		t.Fatalf("expected time=0 used=1, got time=%d used=%d", block.Time, block.Used)
	}
	if block.Parts[0].Last != 0 || block.Parts[0].Key != 0 {
		t.Fatalf("expected a rootless, non-transferable first slot, got %+v", block.Parts[0])
	}
	for i := 1; i < len(block.Parts); i++ {
		if block.Parts[i].Token != 0 || block.Parts[i].Last != 0 || block.Parts[i].Key != 0 {
			t.Fatalf("expected slot %d to be zero-valued, got %+v", i, block.Parts[i])
		}
	}
	for _, sig := range block.Signatures {
		if sig != nil {
			t.Fatal("expected no signatures on a genesis block")
		}
	}
}

func TestSequentialTokensDiffer(t *testing.T) {
	backend := storage.NewMemoryBackend()
	cfg := Config{BlockCount: 20, Seed: DefaultSeed}
	if err := Generate(backend, cfg); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	seen := make(map[uint64]bool)
	for _, id := range backend.Tokens.SortedTokenIDs() {
		if seen[id] {
			t.Fatalf("token %d generated more than once", id)
		}
		seen[id] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct tokens, got %d", len(seen))
	}
}
