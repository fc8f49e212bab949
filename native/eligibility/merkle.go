package eligibility

import (
	"bytes"
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidProof is returned by claim flows when a membership proof does not
// resolve to the committed root.
var ErrInvalidProof = errors.New("eligibility: invalid merkle proof")

// Verify folds the ordered sibling list into the leaf and reports whether the
// resulting digest matches the committed root. Pairs are hashed in
// lexicographic order so the proof is independent of sibling position,
// matching the sorted-pair convention of common off-chain generators.
func Verify(leaf [32]byte, proof [][32]byte, root [32]byte) bool {
	node := leaf
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}

// AllocationLeaf derives the canonical leaf for an (address, amount)
// allocation entry: keccak256 of the address followed by the amount encoded
// as a 32-byte big-endian word.
func AllocationLeaf(addr [20]byte, amount *big.Int) [32]byte {
	var word [32]byte
	if amount != nil && amount.Sign() > 0 {
		amount.FillBytes(word[:])
	}
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(addr[:], word[:]))
	return leaf
}

// ComputeRoot builds the sorted-pair merkle root over the supplied leaves.
// Odd nodes are promoted unchanged to the next level. Intended for operators
// preparing allocation lists and for tests.
func ComputeRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// ProofFor returns the sibling path for the leaf at index within leaves,
// following the same promotion rule as ComputeRoot.
func ProofFor(leaves [][32]byte, index int) [][32]byte {
	if index < 0 || index >= len(leaves) {
		return nil
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	proof := make([][32]byte, 0)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			if i == index || i+1 == index {
				sibling := i
				if i == index {
					sibling = i + 1
				}
				proof = append(proof, level[sibling])
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		index /= 2
		level = next
	}
	return proof
}

func hashPair(a, b [32]byte) [32]byte {
	var out [32]byte
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	return out
}
