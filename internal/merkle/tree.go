// Package merkle implements the append-only Merkle tree the Event Store
// keeps over its event guids (spec.md §4.2).
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// Tree is a balanced binary hash tree over an ordered sequence of leaves,
// one per event guid. It is not safe for concurrent use; callers serialize
// access the same way the Event Store serializes saveEvent (§5).
type Tree struct {
	leaves []string // hex-encoded H(eventGuid), in append order
	levels [][]string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Rebuild replaces the tree's leaves with H(guid) for each guid in order
// and recomputes every level. The Event Store calls this on init so the
// tree is always derived fresh from the event list (§4.2 Persistence).
func (t *Tree) Rebuild(guids []string) {
	t.leaves = make([]string, len(guids))
	for i, g := range guids {
		t.leaves[i] = leafHash(g)
	}
	t.levels = buildLevels(t.leaves)
}

// Append adds one more leaf and rebuilds every level. Rebuilding the
// whole level set is O(n) in the number of leaves; callers needing faster
// incremental updates over very large logs should batch appends through
// Rebuild instead.
func (t *Tree) Append(guid string) {
	t.leaves = append(t.leaves, leafHash(guid))
	t.levels = buildLevels(t.leaves)
}

// Root returns the hex-encoded Merkle root, or "" when the tree is empty.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return ""
	}
	return top[0]
}

// Sibling is one step of a Merkle proof: the hash to combine with, and
// whether that hash sits to the left of the node being proved.
type Sibling struct {
	Hash string
	Left bool
}

// Proof returns the ordered sibling path from the leaf for guid to the
// root, or (nil, false) if guid is not a known leaf.
func (t *Tree) Proof(guid string) ([]Sibling, bool) {
	target := leafHash(guid)
	idx := -1
	for i, l := range t.leaves {
		if l == target {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false
	}

	var proof []Sibling
	level := t.levels[0]
	for len(level) > 1 {
		if idx%2 == 0 {
			siblingIdx := idx + 1
			if siblingIdx >= len(level) {
				siblingIdx = idx // last node duplicated when the level is odd
			}
			proof = append(proof, Sibling{Hash: level[siblingIdx], Left: false})
		} else {
			proof = append(proof, Sibling{Hash: level[idx-1], Left: true})
		}
		idx /= 2
		level = t.levels[len(proof)]
	}
	return proof, true
}

// Verify replays proof against guid and compares the resulting root to
// expectedRoot. It does not consult the tree's own state beyond the leaf
// hash function, so it also serves as the "clean rebuild" check the
// storage adapter's cached node hashes must satisfy (§4.2 Persistence).
func Verify(guid string, proof []Sibling, expectedRoot string) bool {
	hash := leafHash(guid)
	for _, sibling := range proof {
		if sibling.Left {
			hash = nodeHash(sibling.Hash, hash)
		} else {
			hash = nodeHash(hash, sibling.Hash)
		}
	}
	return hash == expectedRoot
}

func leafHash(guid string) string {
	sum := sha256.Sum256([]byte(guid))
	return hex.EncodeToString(sum[:])
}

func nodeHash(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// buildLevels returns the full level set, leaves first, root last.
// Verify's replay must match the pairing this function does at each level:
// proof siblings are always the "other" node of the pair the target
// belongs to, duplicating the last node when a level has odd length.
func buildLevels(leaves []string) [][]string {
	if len(leaves) == 0 {
		return nil
	}
	levels := [][]string{append([]string(nil), leaves...)}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		var next []string
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, nodeHash(cur[i], cur[i+1]))
			} else {
				next = append(next, nodeHash(cur[i], cur[i])) // duplicate last
			}
		}
		levels = append(levels, next)
	}
	return levels
}
