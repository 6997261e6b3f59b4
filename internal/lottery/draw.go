package lottery

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/tikiti/tikiti/internal/model"
)

// SeedSize is the number of random bytes drawn for each round.
const SeedSize = 32

// NewSeed returns a fresh hex encoded round seed.
func NewSeed() (string, error) {
	b := make([]byte, SeedSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Commitment is the published hash of a seed: hex(SHA-256(seed bytes)).
func Commitment(seedHex string) (string, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return "", fmt.Errorf("decode seed: %w", err)
	}
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:]), nil
}

// Pick derives the winning number in 1..capacity from the round seed. The
// result depends only on its arguments, so anyone holding the revealed seed
// can recompute it. Values that would bias the modulo are rejected and the
// next counter is tried.
func Pick(seedHex string, roundID int64, beacon string, capacity int) (int, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	n := uint64(capacity)
	rem := (math.MaxUint64%n + 1) % n // 2^64 mod n
	for counter := uint64(0); ; counter++ {
		mac := hmac.New(sha256.New, seed)
		fmt.Fprintf(mac, "round:%d:%s:%d", roundID, beacon, counter)
		v := binary.BigEndian.Uint64(mac.Sum(nil)[:8])
		if v <= math.MaxUint64-rem {
			return int(v%n) + 1, nil
		}
	}
}

// Verify checks a settlement record against its commitment and recomputes
// the winning number.
func Verify(rec *model.SettlementRecord) error {
	commitment, err := Commitment(rec.Seed)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(commitment), []byte(rec.SeedCommitment)) {
		return ErrCommitmentMismatch
	}

	number, err := Pick(rec.Seed, rec.RoundID, rec.Beacon, rec.Capacity)
	if err != nil {
		return err
	}
	if number != rec.WinningNumber {
		return fmt.Errorf("%w: got %d, record says %d", ErrDrawMismatch, number, rec.WinningNumber)
	}
	return nil
}
