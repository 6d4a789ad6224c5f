// Package identity mines and validates sybil-resistant peer addresses.
// Every peer generates an X25519 keypair for key exchange immediately, then
// separately mines an Argon2id proof-of-work salt whose hash becomes the
// peer's 256-bit network address.
package identity

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
)

// PeerID is the 256-bit mined address used as network identity.
type PeerID [32]byte

// Salt is the 192-bit value transmitted with a mined identity: 128 bits of
// random entropy followed by a 64-bit little-endian Unix timestamp.
type Salt [24]byte

// SharedSecret is the result of an X25519 Diffie-Hellman exchange.
type SharedSecret [32]byte

// Config tunes Argon2id mining/validation cost and acceptance windows.
// NetworkID is mixed into the hashed salt but never transmitted, so
// identities mined for one network fail validation on any other.
type Config struct {
	Difficulty          uint32 // required trailing zero bits
	MemoryCost          uint32 // Argon2 memory in KiB
	TimeCost            uint32
	Parallelism         uint8
	MaxAge              time.Duration
	FutureTolerance     time.Duration
	NetworkID           uint64
}

// Test is a fast-mining profile for development: about 16 attempts at
// 256 KiB each on average, well under a second on a single core.
var Test = Config{
	Difficulty:      4,
	MemoryCost:      256,
	TimeCost:        1,
	Parallelism:     1,
	MaxAge:          365 * 24 * time.Hour,
	FutureTolerance: 24 * time.Hour,
}

// Production targets roughly a day of mining and single-digit-millisecond
// validation: low Argon2 cost, high difficulty, because validation happens
// on every Answer message while mining happens once per peer.
var Production = Config{
	Difficulty:      24,
	MemoryCost:      4096,
	TimeCost:        1,
	Parallelism:     1,
	MaxAge:          365 * 24 * time.Hour,
	FutureTolerance: 24 * time.Hour,
}

// HighMemory favours ASIC resistance over validation speed.
var HighMemory = Config{
	Difficulty:      23,
	MemoryCost:      16384,
	TimeCost:        1,
	Parallelism:     1,
	MaxAge:          365 * 24 * time.Hour,
	FutureTolerance: 24 * time.Hour,
}

// LowLatency favours validation throughput over ASIC resistance.
var LowLatency = Config{
	Difficulty:      26,
	MemoryCost:      1024,
	TimeCost:        1,
	Parallelism:     1,
	MaxAge:          365 * 24 * time.Hour,
	FutureTolerance: 24 * time.Hour,
}

// Identity holds a peer's X25519 keypair and, once mined, its address.
type Identity struct {
	staticSecret [32]byte
	PublicKey    [32]byte

	salt   *Salt
	peerID *PeerID

	Attempts       uint64
	MiningDuration time.Duration
}

// New generates a fresh X25519 keypair. The returned Identity can compute
// shared secrets immediately; Mine must be called separately to obtain a
// network address.
func New() (*Identity, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("identity: generate secret: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &secret)
	log.Printf("[identity] generated X25519 keypair")
	return &Identity{staticSecret: secret, PublicKey: pub}, nil
}

// FromSecret reconstructs an Identity from a previously persisted X25519
// static secret, recomputing the public key. Mine must still be called to
// obtain a network address.
func FromSecret(secret [32]byte) (*Identity, error) {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &secret)
	return &Identity{staticSecret: secret, PublicKey: pub}, nil
}

// StaticSecret returns the raw X25519 secret, for callers that need to
// persist it (e.g. wallet.SaveSecret). Handle with the same care as any
// other private key material.
func (id *Identity) StaticSecret() [32]byte {
	return id.staticSecret
}

// IsMined reports whether Mine has completed.
func (id *Identity) IsMined() bool { return id.peerID != nil }

// PeerID returns the mined address, or nil if Mine has not completed.
func (id *Identity) PeerID() *PeerID { return id.peerID }

// Salt returns the mined salt, or nil if Mine has not completed.
func (id *Identity) Salt() *Salt { return id.salt }

// Mine searches random salts until Argon2id(public_key, salt) meets cfg's
// difficulty, then stores the winning salt and address. It panics if
// already mined, since re-mining the same Identity would silently discard
// the address peers may already be using.
func (id *Identity) Mine(cfg Config) {
	if id.peerID != nil {
		panic("identity: already mined")
	}

	start := time.Now()
	var attempts uint64
	timestamp := uint64(time.Now().Unix())

	log.Printf("[identity] mining address with difficulty %d", cfg.Difficulty)

	for {
		attempts++

		var salt Salt
		if _, err := rand.Read(salt[0:16]); err != nil {
			panic("identity: read random salt: " + err.Error())
		}
		binary.LittleEndian.PutUint64(salt[16:24], timestamp)

		extended := extendSalt(salt, cfg.NetworkID)
		hash := hashPublicKey(id.PublicKey, extended[:], cfg)

		if checkDifficulty(hash, cfg.Difficulty) {
			id.salt = &salt
			id.peerID = (*PeerID)(&hash)
			id.Attempts = attempts
			id.MiningDuration = time.Since(start)
			log.Printf("[identity] mined address after %d attempts in %s", attempts, id.MiningDuration)
			return
		}

		if attempts%1000 == 0 {
			log.Printf("[identity] mining progress: %d attempts, %s elapsed", attempts, time.Since(start))
		}
	}
}

// ExtractTimestamp returns the Unix timestamp embedded in salt.
func ExtractTimestamp(salt Salt) uint64 {
	return binary.LittleEndian.Uint64(salt[16:24])
}

func extendSalt(salt Salt, networkID uint64) [32]byte {
	var extended [32]byte
	copy(extended[0:24], salt[:])
	binary.LittleEndian.PutUint64(extended[24:32], networkID)
	return extended
}

func hashPublicKey(pub [32]byte, salt []byte, cfg Config) [32]byte {
	sum := argon2.IDKey(pub[:], salt, cfg.TimeCost, cfg.MemoryCost, cfg.Parallelism, 32)
	var out [32]byte
	copy(out[:], sum)
	return out
}

// checkDifficulty reports whether hash has at least difficulty trailing
// zero bits, counted from its last byte.
func checkDifficulty(hash [32]byte, difficulty uint32) bool {
	var zeroBits uint32
	for i := len(hash) - 1; i >= 0; i-- {
		b := hash[i]
		if b == 0 {
			zeroBits += 8
		} else {
			zeroBits += uint32(trailingZeros8(b))
			break
		}
		if zeroBits >= difficulty {
			return true
		}
	}
	return zeroBits >= difficulty
}

func trailingZeros8(b byte) int {
	if b == 0 {
		return 8
	}
	n := 0
	for b&1 == 0 {
		n++
		b >>= 1
	}
	return n
}

// ValidateTimestamp reports whether salt's embedded timestamp is neither
// older than cfg.MaxAge nor further ahead than cfg.FutureTolerance,
// relative to now.
func ValidateTimestamp(salt Salt, cfg Config, now time.Time) bool {
	ts := time.Unix(int64(ExtractTimestamp(salt)), 0)
	if ts.Before(now.Add(-cfg.MaxAge)) {
		log.Printf("[identity] timestamp too old: %s", ts)
		return false
	}
	if ts.After(now.Add(cfg.FutureTolerance)) {
		log.Printf("[identity] timestamp too far in future: %s", ts)
		return false
	}
	return true
}

// Validate verifies that peerID is correctly derived from pub and salt
// under cfg: the timestamp must be in range and
// Argon2id(pub, extend(salt, cfg.NetworkID)) must equal peerID with the
// required difficulty. A salt mined under one NetworkID always fails
// validation under another, since the network ID is folded into the
// internal salt but never transmitted.
func Validate(pub [32]byte, salt Salt, peerID PeerID, cfg Config) bool {
	if !ValidateTimestamp(salt, cfg, time.Now()) {
		return false
	}
	extended := extendSalt(salt, cfg.NetworkID)
	computed := hashPublicKey(pub, extended[:], cfg)
	if computed != [32]byte(peerID) {
		log.Printf("[identity] validation failed: hash mismatch")
		return false
	}
	if !checkDifficulty(computed, cfg.Difficulty) {
		log.Printf("[identity] validation failed: insufficient difficulty")
		return false
	}
	return true
}

// ComputeSharedSecret performs X25519 Diffie-Hellman with theirPublicKey.
// The result should be passed through a KDF before use as an encryption
// key; it is not itself suitable as one.
func (id *Identity) ComputeSharedSecret(theirPublicKey [32]byte) (SharedSecret, error) {
	raw, err := curve25519.X25519(id.staticSecret[:], theirPublicKey[:])
	if err != nil {
		return SharedSecret{}, fmt.Errorf("identity: x25519: %w", err)
	}
	var out [32]byte
	copy(out[:], raw)
	return SharedSecret(out), nil
}
