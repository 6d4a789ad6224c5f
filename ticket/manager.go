// Package ticket binds block requests to their responses so a peer cannot
// inject an unsolicited block and have it accepted as if it were a reply.
package ticket

import (
	"crypto/rand"
	"encoding/binary"
	"log"
	"sync"

	"github.com/echonode/echoconsent/protocol"
	"lukechampine.com/blake3"
)

// secretSize is the width of the rotating Blake3 keying material.
const secretSize = 32

var useCases = [...]protocol.BlockUseCase{
	protocol.UseCaseMempoolBlock,
	protocol.UseCaseParentBlock,
	protocol.UseCaseCommitChain,
	protocol.UseCaseValidateWith,
}

// Manager generates and validates tickets of the form
// Blake3(secret || block_id) XOR use_case_secret, rotating secret on a
// fixed period and accepting both the current and previous secret so
// in-flight messages survive a rotation.
type Manager struct {
	mu sync.Mutex

	currentSecret  [secretSize]byte
	previousSecret *[secretSize]byte
	useCaseSecrets map[protocol.BlockUseCase]uint64

	lastRotation   protocol.Time
	rotationPeriod uint64
}

// New creates a Manager that rotates its secret every rotationPeriod ticks.
func New(rotationPeriod uint64) *Manager {
	m := &Manager{
		useCaseSecrets: make(map[protocol.BlockUseCase]uint64, len(useCases)),
		rotationPeriod: rotationPeriod,
	}
	mustRandom(m.currentSecret[:])
	for _, uc := range useCases {
		m.useCaseSecrets[uc] = randomUint64()
	}
	return m
}

func mustRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic("ticket: failed to read random bytes: " + err.Error())
	}
}

func randomUint64() uint64 {
	var b [8]byte
	mustRandom(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Generate mints a ticket for blockID scoped to useCase.
func (m *Manager) Generate(blockID protocol.BlockID, useCase protocol.BlockUseCase) protocol.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := hashWithSecret(m.currentSecret[:], blockID)
	return protocol.Ticket(hash ^ m.useCaseSecrets[useCase])
}

// Validate checks ticket against blockID and, if valid, returns the use
// case it was minted for. It tries the current secret first, then the
// previous one, so a rotation mid-flight does not invalidate requests
// already in transit.
func (m *Manager) Validate(ticket protocol.Ticket, blockID protocol.BlockID) (protocol.BlockUseCase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uc, ok := m.tryValidate(m.currentSecret[:], ticket, blockID); ok {
		return uc, true
	}
	if m.previousSecret != nil {
		return m.tryValidate(m.previousSecret[:], ticket, blockID)
	}
	return 0, false
}

func (m *Manager) tryValidate(secret []byte, ticket protocol.Ticket, blockID protocol.BlockID) (protocol.BlockUseCase, bool) {
	hash := hashWithSecret(secret, blockID)
	for uc, ucSecret := range m.useCaseSecrets {
		if uint64(ticket) == hash^ucSecret {
			return uc, true
		}
	}
	return 0, false
}

func hashWithSecret(secret []byte, blockID protocol.BlockID) uint64 {
	h := blake3.New(32, nil)
	h.Write(secret)
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], blockID)
	h.Write(idBuf[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

// Tick rotates the secret once at least rotationPeriod ticks have elapsed
// since the last rotation. Because the previous secret is still accepted,
// a ticket stays valid until the second rotation after it was minted:
// about 2x rotationPeriod if minted right after a rotation, about one
// rotationPeriod if minted just before one.
func (m *Manager) Tick(now protocol.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(now) < uint64(m.lastRotation)+m.rotationPeriod {
		return
	}
	log.Printf("[ticket] rotating secrets at time %d (period %d)", now, m.rotationPeriod)
	prev := m.currentSecret
	m.previousSecret = &prev
	mustRandom(m.currentSecret[:])
	m.lastRotation = now
}

// RotationPeriod returns the configured rotation period in ticks.
func (m *Manager) RotationPeriod() uint64 {
	return m.rotationPeriod
}

// LastRotation returns the tick at which the secret last rotated.
func (m *Manager) LastRotation() protocol.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRotation
}
