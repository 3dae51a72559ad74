package cmap

import "github.com/cespare/xxhash/v2"

// XXHashes hashes a series of strings together into one uint64, the same
// hash family the teacher uses for build-id / content hashing elsewhere so
// the engine only carries one hashing dependency end to end.
func XXHashes(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	}
	return d.Sum64()
}
