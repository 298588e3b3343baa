package phash

import (
	"math/bits"
	"strconv"
)

const (
	// SimilarityThreshold is the exclusive Hamming distance bound below which
	// two hashes are considered the same picture.
	SimilarityThreshold = 5

	// InvalidDistance is returned when either hash is not a 64-bit hex value.
	InvalidDistance = 999
)

// Distance returns the number of differing bits between two hex encoded 64-bit
// perceptual hashes. Shorter hashes are zero-extended.
func Distance(a, b string) int {
	x, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return InvalidDistance
	}

	y, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return InvalidDistance
	}

	return bits.OnesCount64(x ^ y)
}

func Similar(a, b string) bool {
	return Distance(a, b) < SimilarityThreshold
}

// Matches reports whether hash equals or is similar to any hash in the set.
func Matches(hash string, set map[string]struct{}) (string, bool) {
	if _, ok := set[hash]; ok {
		return hash, true
	}

	for banned := range set {
		if Similar(hash, banned) {
			return banned, true
		}
	}

	return "", false
}

// DefaultAvatarHash is the sentinel stored for members without a custom avatar.
// It never parses as hex, so it only ever matches exactly.
func DefaultAvatarHash(variant string) string {
	return "default:" + variant
}
