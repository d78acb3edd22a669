package blockhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTokens_Deterministic(t *testing.T) {
	h := New(4, AlgoSHA256)
	tokens := []int{1, 2, 3, 4, 5, 6, 7, 8, 9}

	r1, err := h.HashTokens(tokens)
	require.NoError(t, err)
	r2, err := h.HashTokens(append([]int{}, tokens...))
	require.NoError(t, err)

	assert.Equal(t, r1.BlockHashes, r2.BlockHashes)
	assert.Equal(t, 9, r1.TotalTokens)
}

func TestHashTokens_OnlyFullBlocksAppear(t *testing.T) {
	h := New(4, AlgoSHA256)
	r, err := h.HashTokens([]int{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Len(t, r.BlockHashes, 1) // trailing 2 tokens dropped from hash sequence
	assert.Equal(t, 6, r.TotalTokens)
}

func TestHashTokens_PrefixSemantics(t *testing.T) {
	h := New(4, AlgoSHA256)
	a, err := h.HashTokens([]int{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	b, err := h.HashTokens([]int{1, 2, 3, 4, 9, 9, 9, 9})
	require.NoError(t, err)

	require.Len(t, a.BlockHashes, 2)
	require.Len(t, b.BlockHashes, 2)
	assert.Equal(t, a.BlockHashes[0], b.BlockHashes[0], "shared first block must hash identically")
	assert.NotEqual(t, a.BlockHashes[1], b.BlockHashes[1])
}

func TestHashTokens_EmptyInput(t *testing.T) {
	h := New(4, AlgoSHA256)
	_, err := h.HashTokens(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashTokens_ShorterThanOneBlock(t *testing.T) {
	h := New(16, AlgoSHA256)
	r, err := h.HashTokens([]int{1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, r.BlockHashes)
	assert.Equal(t, 3, r.TotalTokens)
}

func TestHashTokens_XXHashAlgoDiffersFromSHA256(t *testing.T) {
	tokens := []int{10, 20, 30, 40}
	sha, err := New(4, AlgoSHA256).HashTokens(tokens)
	require.NoError(t, err)
	xx, err := New(4, AlgoXXHash).HashTokens(tokens)
	require.NoError(t, err)
	assert.NotEqual(t, sha.BlockHashes[0], xx.BlockHashes[0])
}

func TestNew_DefaultsOnInvalidInput(t *testing.T) {
	h := New(0, "bogus")
	assert.Equal(t, DefaultBlockSize, h.Size)
	assert.Equal(t, AlgoSHA256, h.Algo)
}

func TestTokenize_Deterministic(t *testing.T) {
	a := Tokenize("the quick brown fox")
	b := Tokenize("the quick brown fox")
	assert.Equal(t, a, b)
	assert.Len(t, a, 4)
}
