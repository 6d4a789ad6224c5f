package identity

import "testing"

func TestMineTestConfig(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id.IsMined() {
		t.Fatal("expected a fresh identity to be unmined")
	}

	id.Mine(Test)

	if !id.IsMined() {
		t.Fatal("expected identity to be mined")
	}
	if id.Attempts == 0 {
		t.Fatal("expected at least one mining attempt")
	}
	if !Validate(id.PublicKey, *id.Salt(), *id.PeerID(), Test) {
		t.Fatal("expected the mined identity to validate")
	}
}

func TestDifficultyCheck(t *testing.T) {
	hash := [32]byte{}
	for i := range hash {
		hash[i] = 0xFF
	}
	hash[31] = 0x00
	if !checkDifficulty(hash, 8) {
		t.Fatal("expected 8 trailing zero bits to satisfy difficulty 8")
	}
	if checkDifficulty(hash, 9) {
		t.Fatal("expected difficulty 9 to fail with only 8 trailing zero bits")
	}

	hash[30] = 0xF0
	if !checkDifficulty(hash, 12) {
		t.Fatal("expected 12 trailing zero bits to satisfy difficulty 12")
	}
	if checkDifficulty(hash, 13) {
		t.Fatal("expected difficulty 13 to fail with only 12 trailing zero bits")
	}
}

func TestValidationRejectsWrongSaltOrPeerID(t *testing.T) {
	id, _ := New()
	id.Mine(Test)

	var wrongSalt Salt
	for i := range wrongSalt {
		wrongSalt[i] = 0xFF
	}
	if Validate(id.PublicKey, wrongSalt, *id.PeerID(), Test) {
		t.Fatal("expected validation to fail with the wrong salt")
	}

	var wrongPeerID PeerID
	for i := range wrongPeerID {
		wrongPeerID[i] = 0xFF
	}
	if Validate(id.PublicKey, *id.Salt(), wrongPeerID, Test) {
		t.Fatal("expected validation to fail with the wrong peer id")
	}
}

func TestSharedSecretAgreement(t *testing.T) {
	alice, _ := New()
	bob, _ := New()

	aliceShared, err := alice.ComputeSharedSecret(bob.PublicKey)
	if err != nil {
		t.Fatalf("alice shared secret: %v", err)
	}
	bobShared, err := bob.ComputeSharedSecret(alice.PublicKey)
	if err != nil {
		t.Fatalf("bob shared secret: %v", err)
	}
	if aliceShared != bobShared {
		t.Fatal("expected both peers to derive the same shared secret")
	}

	charlie, _ := New()
	aliceCharlie, _ := alice.ComputeSharedSecret(charlie.PublicKey)
	if aliceCharlie == aliceShared {
		t.Fatal("expected shared secrets with different peers to differ")
	}
}

func TestCrossNetworkIdentityRejected(t *testing.T) {
	id, _ := New()
	networkA := Test
	networkA.NetworkID = 1000
	id.Mine(networkA)

	networkB := Test
	networkB.NetworkID = 2000

	if Validate(id.PublicKey, *id.Salt(), *id.PeerID(), networkB) {
		t.Fatal("expected an identity mined for one network to fail validation on another")
	}
	if !Validate(id.PublicKey, *id.Salt(), *id.PeerID(), networkA) {
		t.Fatal("expected the identity to still validate on its own network")
	}
}
