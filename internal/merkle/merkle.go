// Package merkle builds binary Merkle hash trees over batch file content
// and produces/verifies inclusion proofs against a retained root.
//
// The tree is dense, not sparse: it has exactly as many leaves as there are
// files in the batch, and a level of odd length pairs its last node with
// itself (hashPair(x, x)) rather than padding out to a fixed depth.
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptyData is returned when building a tree from zero items.
var ErrEmptyData = errors.New("merkle: empty data")

// InvalidLeafIndexError is returned when a proof is requested for an
// out-of-range leaf.
type InvalidLeafIndexError struct {
	Index int
}

func (e *InvalidLeafIndexError) Error() string {
	return fmt.Sprintf("merkle: invalid leaf index %d", e.Index)
}

// Hash is a 32-byte SHA-256 digest.
type Hash = [32]byte

// Tree is a binary Merkle tree built bottom-up from an ordered list of
// leaves. Odd-sized levels duplicate-promote their last node.
type Tree struct {
	root   Hash
	leaves []Hash
	levels [][]Hash
}

// FromData builds a tree by hashing each data item into a leaf with
// hashLeaf, then folding levels upward with hashPair.
func FromData(data [][]byte, hashLeaf func([]byte) Hash, hashPair func(a, b Hash) Hash) (*Tree, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	leaves := make([]Hash, len(data))
	for i, d := range data {
		leaves[i] = hashLeaf(d)
	}
	return fromLeaves(leaves, hashPair)
}

// FromLeafHashes builds a tree directly from pre-computed leaf hashes. Given
// equal leaf sequences, this yields the same root as FromData.
func FromLeafHashes(leaves []Hash, hashPair func(a, b Hash) Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyData
	}
	return fromLeaves(leaves, hashPair)
}

func fromLeaves(leaves []Hash, hashPair func(a, b Hash) Hash) (*Tree, error) {
	cp := make([]Hash, len(leaves))
	copy(cp, leaves)

	levels := [][]Hash{cp}
	current := cp
	for len(current) > 1 {
		next := make([]Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashPair(current[i], current[i+1]))
			} else {
				next = append(next, hashPair(current[i], current[i]))
			}
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{
		root:   current[0],
		leaves: cp,
		levels: levels,
	}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() Hash { return t.root }

// NumLeaves returns the number of leaves in the tree.
func (t *Tree) NumLeaves() int { return len(t.leaves) }

// Leaves returns a copy of the leaf hash vector, in tree order.
func (t *Tree) Leaves() []Hash {
	out := make([]Hash, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// ProofNode is one sibling hash on the path from a leaf to the root.
type ProofNode struct {
	Hash   Hash
	IsLeft bool
}

// Proof is an inclusion proof for one leaf: the sibling path from leaf to
// root, ordered leaf-to-root.
type Proof struct {
	LeafIndex int
	LeafHash  Hash
	Path      []ProofNode
}

// GenerateProof walks from level 0 upward, at each level pairing with the
// sibling at index k^1; an odd trailing node is paired with itself.
func (t *Tree) GenerateProof(leafIndex int) (*Proof, error) {
	if leafIndex < 0 || leafIndex >= len(t.leaves) {
		return nil, &InvalidLeafIndexError{Index: leafIndex}
	}

	path := make([]ProofNode, 0, len(t.levels)-1)
	k := leafIndex
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var sibling Hash
		var isLeft bool
		if k%2 == 0 {
			if k+1 < len(nodes) {
				sibling = nodes[k+1]
				isLeft = false
			} else {
				// Odd trailing node: duplicate-promoted, sibling is itself.
				sibling = nodes[k]
				isLeft = false
			}
		} else {
			sibling = nodes[k-1]
			isLeft = true
		}
		path = append(path, ProofNode{Hash: sibling, IsLeft: isLeft})
		k /= 2
	}

	return &Proof{
		LeafIndex: leafIndex,
		LeafHash:  t.leaves[leafIndex],
		Path:      path,
	}, nil
}

// VerifyProof recomputes the root from leafHash and the sibling path and
// compares it to expectedRoot in constant time.
func VerifyProof(leafHash Hash, path []ProofNode, expectedRoot Hash, hashPair func(a, b Hash) Hash, equal func(a, b Hash) bool) bool {
	current := leafHash
	for _, node := range path {
		if node.IsLeft {
			current = hashPair(node.Hash, current)
		} else {
			current = hashPair(current, node.Hash)
		}
	}
	return equal(current, expectedRoot)
}

// HexProofNode is the wire representation of a ProofNode.
type HexProofNode struct {
	Hash   string `json:"hash"`
	IsLeft bool   `json:"is_left"`
}

// ProofToHex converts a Proof's path to its wire representation, ordered
// leaf-to-root.
func ProofToHex(path []ProofNode) []HexProofNode {
	out := make([]HexProofNode, len(path))
	for i, n := range path {
		out[i] = HexProofNode{Hash: hex.EncodeToString(n.Hash[:]), IsLeft: n.IsLeft}
	}
	return out
}

// ProofFromHex parses the wire representation of a proof path back into
// ProofNodes, for client-side verification.
func ProofFromHex(nodes []HexProofNode) ([]ProofNode, error) {
	out := make([]ProofNode, len(nodes))
	for i, n := range nodes {
		raw, err := hex.DecodeString(n.Hash)
		if err != nil {
			return nil, fmt.Errorf("merkle: decoding proof node %d: %w", i, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("merkle: proof node %d is not 32 bytes", i)
		}
		var h Hash
		copy(h[:], raw)
		out[i] = ProofNode{Hash: h, IsLeft: n.IsLeft}
	}
	return out, nil
}

// SerializedTree is the on-disk/on-database representation of a cached
// tree: {root, leaves, levels}, all hex-encoded — equivalent structural
// form across both storage backends.
type SerializedTree struct {
	Root   string     `json:"root"`
	Leaves []string   `json:"leaves"`
	Levels [][]string `json:"levels"`
}

// Serialize converts a Tree to its wire/storage form.
func Serialize(t *Tree) SerializedTree {
	leaves := make([]string, len(t.leaves))
	for i, l := range t.leaves {
		leaves[i] = hex.EncodeToString(l[:])
	}
	levels := make([][]string, len(t.levels))
	for i, lvl := range t.levels {
		row := make([]string, len(lvl))
		for j, h := range lvl {
			row[j] = hex.EncodeToString(h[:])
		}
		levels[i] = row
	}
	return SerializedTree{
		Root:   hex.EncodeToString(t.root[:]),
		Leaves: leaves,
		Levels: levels,
	}
}

// Deserialize reconstructs a Tree from its wire/storage form.
func Deserialize(s SerializedTree) (*Tree, error) {
	root, err := decodeHash(s.Root)
	if err != nil {
		return nil, fmt.Errorf("merkle: decoding root: %w", err)
	}
	leaves, err := decodeHashes(s.Leaves)
	if err != nil {
		return nil, fmt.Errorf("merkle: decoding leaves: %w", err)
	}
	levels := make([][]Hash, len(s.Levels))
	for i, row := range s.Levels {
		decoded, err := decodeHashes(row)
		if err != nil {
			return nil, fmt.Errorf("merkle: decoding level %d: %w", i, err)
		}
		levels[i] = decoded
	}
	return &Tree{root: root, leaves: leaves, levels: levels}, nil
}

func decodeHashes(in []string) ([]Hash, error) {
	out := make([]Hash, len(in))
	for i, s := range in {
		h, err := decodeHash(s)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func decodeHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != 32 {
		return h, errors.New("merkle: expected 32-byte hash")
	}
	copy(h[:], raw)
	return h, nil
}
