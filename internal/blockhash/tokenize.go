package blockhash

import (
	"hash/fnv"
	"strings"
)

// Tokenize is a deterministic stand-in for the real tokenizer, which is out
// of scope per §1 ("the core assumes a deterministic prompt → ordered
// block-hash sequence function"). It maps each whitespace-separated word to
// a stable integer id so that local testing and `kvrouter` simulation mode
// don't need a real tokenizer dependency. Router and worker call the same
// function, so results agree across processes.
func Tokenize(prompt string) []int {
	fields := strings.Fields(prompt)
	tokens := make([]int, len(fields))
	for i, f := range fields {
		h := fnv.New32a()
		_, _ = h.Write([]byte(f))
		tokens[i] = int(h.Sum32())
	}
	return tokens
}
