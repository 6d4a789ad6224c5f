package ticket

import (
	"testing"

	"github.com/echonode/echoconsent/protocol"
)

func TestGenerateAndValidate(t *testing.T) {
	m := New(100)
	blockID := protocol.BlockID(12345)

	tk := m.Generate(blockID, protocol.UseCaseMempoolBlock)
	uc, ok := m.Validate(tk, blockID)
	if !ok || uc != protocol.UseCaseMempoolBlock {
		t.Fatalf("expected MempoolBlock, got uc=%v ok=%v", uc, ok)
	}
}

func TestWrongBlockIDFails(t *testing.T) {
	m := New(100)
	tk := m.Generate(12345, protocol.UseCaseMempoolBlock)
	if _, ok := m.Validate(tk, 99999); ok {
		t.Fatal("expected validation against the wrong block id to fail")
	}
}

func TestUseCaseIsolation(t *testing.T) {
	m := New(100)
	blockID := protocol.BlockID(1)
	t1 := m.Generate(blockID, protocol.UseCaseMempoolBlock)
	t2 := m.Generate(blockID, protocol.UseCaseParentBlock)
	t3 := m.Generate(blockID, protocol.UseCaseCommitChain)
	t4 := m.Generate(blockID, protocol.UseCaseValidateWith)

	if t1 == t2 || t1 == t3 || t1 == t4 || t2 == t3 {
		t.Fatal("expected distinct tickets across use cases")
	}

	for tk, want := range map[protocol.Ticket]protocol.BlockUseCase{
		t1: protocol.UseCaseMempoolBlock,
		t2: protocol.UseCaseParentBlock,
		t3: protocol.UseCaseCommitChain,
		t4: protocol.UseCaseValidateWith,
	} {
		got, ok := m.Validate(tk, blockID)
		if !ok || got != want {
			t.Fatalf("ticket %d: want %v, got %v ok=%v", tk, want, got, ok)
		}
	}
}

func TestRotationWithGracePeriod(t *testing.T) {
	m := New(100)
	blockID := protocol.BlockID(12345)

	tk := m.Generate(blockID, protocol.UseCaseMempoolBlock)
	if _, ok := m.Validate(tk, blockID); !ok {
		t.Fatal("expected ticket to validate at time 0")
	}

	m.Tick(50)
	if _, ok := m.Validate(tk, blockID); !ok {
		t.Fatal("expected ticket to validate before rotation")
	}

	m.Tick(100)
	if _, ok := m.Validate(tk, blockID); !ok {
		t.Fatal("expected the old ticket to still validate against the previous secret")
	}

	newTk := m.Generate(blockID, protocol.UseCaseMempoolBlock)
	if newTk == tk {
		t.Fatal("expected a new ticket after rotation")
	}
	if _, ok := m.Validate(newTk, blockID); !ok {
		t.Fatal("expected the new ticket to validate")
	}

	m.Tick(200)
	if _, ok := m.Validate(tk, blockID); ok {
		t.Fatal("expected the original ticket to expire after two rotations")
	}
	if _, ok := m.Validate(newTk, blockID); !ok {
		t.Fatal("expected the ticket from the first rotation to still validate")
	}
}

func TestInvalidTicketFails(t *testing.T) {
	m := New(100)
	if _, ok := m.Validate(0xDEADBEEF, 12345); ok {
		t.Fatal("expected a random ticket to be rejected")
	}
}
