package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTransliterate(t *testing.T) {
	assert.Equal(t, "Admin", Transliterate("Аdmin"))
	assert.Equal(t, "cafe", Transliterate("café"))
	assert.Equal(t, "plain", Transliterate("plain"))
}

func TestIsASCII(t *testing.T) {
	assert.True(t, IsASCII("HappyPenguin42"))
	assert.False(t, IsASCII("Аdmin"))
	assert.True(t, IsASCII(""))
}

func TestLettersOnlyLower(t *testing.T) {
	assert.Equal(t, "johnsmith", LettersOnlyLower("John_Smith#0001"))
	assert.Equal(t, "", LettersOnlyLower("1234 !!"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	assert.InDelta(t, 1.0, Similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)
	assert.InDelta(t, 6.0/7.0, Similarity("penguin", "pengu1n"), 1e-9)
}

func TestCloseMatches(t *testing.T) {
	options := []string{"moderator", "m0derator", "someone", "moderat0r"}

	matches := CloseMatches("moderator", options, 0, 0.8)
	require.Len(t, matches, 3)
	assert.Equal(t, "moderator", matches[0].Value)
	assert.Equal(t, "m0derator", matches[1].Value)
	assert.Equal(t, "moderat0r", matches[2].Value)

	limited := CloseMatches("moderator", options, 1, 0.8)
	assert.Len(t, limited, 1)

	assert.Empty(t, CloseMatches("zzz", options, 0, 0.8))
}

func TestProperty_SimilaritySymmetricAndBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")

		s1 := Similarity(a, b)
		s2 := Similarity(b, a)

		if s1 != s2 {
			t.Fatalf("asymmetric: %v != %v", s1, s2)
		}
		if s1 < 0 || s1 > 1 {
			t.Fatalf("out of bounds: %v", s1)
		}
		if Similarity(a, a) != 1 {
			t.Fatalf("self similarity must be 1")
		}
	})
}
