// Package fingerprint implements a 64-bit locality-sensitive similarity hash
// over character bigrams, used as a coarse pre-filter for near-duplicate text.
package fingerprint

import (
	"hash/fnv"
	"math/bits"
)

// Threshold boundaries. Short texts carry a sparse signal, so a single noisy
// bigram shifts many bits; they get a tighter Hamming bound.
const (
	shortTextRunes  = 50
	shortThreshold  = 1
	normalThreshold = 3
)

// Hash computes the similarity fingerprint of text. Each character bigram is
// hashed and votes on all 64 bit positions; bit i of the result is set when
// the vote count at i is positive. Texts shorter than two runes are hashed
// whole. The empty string hashes to 0.
func Hash(text string) uint64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	var tokens []string
	for i := 0; i+1 < len(runes); i++ {
		tokens = append(tokens, string(runes[i:i+2]))
	}
	if len(tokens) == 0 {
		tokens = append(tokens, text)
	}

	var votes [64]int
	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum>>uint(i)&1 == 1 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if votes[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Threshold returns the duplicate-detection distance bound for text.
func Threshold(text string) int {
	if len([]rune(text)) < shortTextRunes {
		return shortThreshold
	}
	return normalThreshold
}
