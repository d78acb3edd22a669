// Package blockhash splits a tokenized prompt into an ordered sequence of
// fixed-size block hashes. It is the router and worker's shared notion of
// "which prefix of this prompt is cacheable" — the same prompt must hash to
// the same sequence on every host.
package blockhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultBlockSize is the number of tokens per cacheable block, matching
// the reference configuration (16 tokens/block).
const DefaultBlockSize = 16

// Algo selects the digest function used to derive a block's hash.
type Algo string

const (
	// AlgoSHA256 is the default: cryptographic, byte-stable, used by the
	// rest of the corpus's prefix-caching examples.
	AlgoSHA256 Algo = "sha256"
	// AlgoXXHash trades collision-resistance strength for speed; the spec
	// (§4.1) allows any collision-resistant digest, cryptographic or not.
	AlgoXXHash Algo = "xxhash"
)

// Hasher deterministically maps a token sequence to an ordered sequence of
// full-block hashes. Only complete blocks (exactly Size tokens) are
// reflected in the output; a trailing partial block is dropped from the
// hash sequence but still counted toward TotalTokens.
type Hasher struct {
	Size int
	Algo Algo
}

// New creates a Hasher with the given block size and digest algorithm.
// A zero size defaults to DefaultBlockSize; an unrecognized algo defaults
// to AlgoSHA256.
func New(size int, algo Algo) *Hasher {
	if size <= 0 {
		size = DefaultBlockSize
	}
	if algo != AlgoXXHash {
		algo = AlgoSHA256
	}
	return &Hasher{Size: size, Algo: algo}
}

// Result is the outcome of hashing a prompt's token sequence.
type Result struct {
	BlockHashes []string // one hash per full block, in prompt order
	TotalTokens int       // total tokens in the prompt, including any trailing partial block
}

// ErrEmptyInput is returned when the token sequence is empty — the only
// failure mode of block hashing per §4.1.
var ErrEmptyInput = fmt.Errorf("blockhash: empty token sequence")

// HashTokens splits tokens into fixed-size blocks and hashes each full one.
// The hash of block i incorporates all tokens from block 0 through block i,
// so two prompts sharing the same leading N blocks produce identical
// hashes for those N blocks (prefix-semantic hashing).
func (h *Hasher) HashTokens(tokens []int) (Result, error) {
	if len(tokens) == 0 {
		return Result{}, ErrEmptyInput
	}
	numFull := len(tokens) / h.Size
	hashes := make([]string, 0, numFull)
	for i := 0; i < numFull; i++ {
		end := (i + 1) * h.Size
		hashes = append(hashes, h.digest(tokens[:end]))
	}
	return Result{BlockHashes: hashes, TotalTokens: len(tokens)}, nil
}

// digest hashes the decimal, pipe-joined token run [0:end).
func (h *Hasher) digest(tokens []int) string {
	var sb strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(strconv.Itoa(tok))
	}
	raw := []byte(sb.String())

	switch h.Algo {
	case AlgoXXHash:
		sum := xxhash.Sum64(raw)
		return fmt.Sprintf("%016x", sum)
	default:
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:])
	}
}
