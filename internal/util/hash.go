// Package util provides shared logging, statistics and hashing helpers.
package util

import (
	"hash/fnv"
)

// PairID computes a 4-byte hash identifying the session between a and b in
// room. The pair is unordered: PairID(r, a, b) == PairID(r, b, a), so both
// participants print the same prefix for the same session. The hash is used
// solely for identification in logs and does not need to be reversible.
func PairID(room, a, b string) uint32 {
	if b < a {
		a, b = b, a
	}
	h := fnv.New32a()
	h.Write([]byte(room))
	h.Write([]byte{0})
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return h.Sum32()
}
