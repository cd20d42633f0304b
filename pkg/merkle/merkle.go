// Package merkle computes the integrity root over a vault's files or
// serialized objects. Leaf hash is SHA-256 of the leaf bytes; levels pair
// adjacent hashes as SHA-256(left || right); an odd trailing hash is paired
// with itself; the empty set hashes to SHA-256 of zero bytes.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/beliefbase/beliefbase/pkg/canonical"
)

// Root returns the hex Merkle root of the given leaves.
func Root(leaves [][]byte) string {
	if len(leaves) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		sum := sha256.Sum256(leaf)
		level[i] = sum[:]
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next[i/2] = h.Sum(nil)
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

// RootOfObjects canonicalizes each object and roots over the resulting
// leaves. The function is order-sensitive: callers present objects in a
// stable order (typically sorted by path) themselves.
func RootOfObjects(objs []any) (string, error) {
	leaves := make([][]byte, len(objs))
	for i, obj := range objs {
		b, err := canonical.Marshal(obj)
		if err != nil {
			return "", err
		}
		leaves[i] = b
	}
	return Root(leaves), nil
}
