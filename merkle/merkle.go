// Package merkle splits transaction data into chunks, builds the
// data_root Merkle tree over them, and generates and validates the
// inclusion proofs peers use to accept chunk uploads.
package merkle

import (
	"bytes"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

const (
	kiB = 1024

	// MaxChunkSize is the largest chunk the network accepts.
	MaxChunkSize = 256 * kiB
	// MinChunkSize is the smallest chunk allowed anywhere but the
	// tail of a transaction's data.
	MinChunkSize = 32 * kiB

	// HashSize is the width of every id and data hash in a proof.
	HashSize = 32
	// NoteSize is the width of the big-endian offsets in a proof.
	NoteSize = 32

	// Algo is the digest used for chunk hashes and tree ids.
	Algo = "SHA-256"
)

// Hasher is the part of the crypto driver the tree needs.
type Hasher interface {
	Hash(algo string, buf []byte) ([]byte, error)
}

// Chunk is one contiguous slice [MinByteRange, MaxByteRange) of the
// transaction data along with the hash of its bytes.
type Chunk struct {
	DataHash     []byte
	MinByteRange int64
	MaxByteRange int64
}

// Size returns the chunk length in bytes.
func (c Chunk) Size() int64 {
	return c.MaxByteRange - c.MinByteRange
}

// Proof is the root-to-leaf path for one chunk.  Offset is the last
// byte the chunk covers.
type Proof struct {
	Offset int64
	Proof  []byte
}

// TransactionChunks is the chunk and proof state a transaction carries
// once its data has been prepared.  Chunks and Proofs are always the
// same length and index-aligned.
type TransactionChunks struct {
	DataRoot []byte
	Chunks   []Chunk
	Proofs   []Proof
}

// Merkle builds and checks data_root trees.
type Merkle struct {
	hasher Hasher
}

func (m Merkle) New(hasher Hasher) *Merkle {
	m.hasher = hasher
	return &m
}

// hash returns H(buf).
func (m *Merkle) hash(buf []byte) (sum []byte, err error) {
	sum, err = m.hasher.Hash(Algo, buf)
	if err != nil {
		return nil, errors.Wrap(err, "merkle hash")
	}
	return
}

// hashEach returns H(H(bufs[0]) || H(bufs[1]) || ...).
func (m *Merkle) hashEach(bufs ...[]byte) (sum []byte, err error) {
	defer Return(&err)
	cat := make([]byte, 0, len(bufs)*HashSize)
	for _, buf := range bufs {
		h, err := m.hash(buf)
		Ck(err)
		cat = append(cat, h...)
	}
	return m.hash(cat)
}

// ChunkData splits data into chunks of MaxChunkSize.  When taking a
// full chunk would leave a tail shorter than MinChunkSize, the
// remaining bytes are split in half instead so the last chunk is never
// undersized.  Empty data yields a single zero-length chunk.
func (m *Merkle) ChunkData(data []byte) (chunks []Chunk, err error) {
	defer Return(&err)
	rest := data
	var cursor int64
	for len(rest) >= MaxChunkSize {
		size := MaxChunkSize
		next := len(rest) - MaxChunkSize
		if next > 0 && next < MinChunkSize {
			size = (len(rest) + 1) / 2
		}
		chunk, err := m.NewChunk(rest[:size], cursor)
		Ck(err)
		chunks = append(chunks, chunk)
		cursor = chunk.MaxByteRange
		rest = rest[size:]
	}
	chunk, err := m.NewChunk(rest, cursor)
	Ck(err)
	chunks = append(chunks, chunk)
	return
}

// NewChunk hashes buf and places it at offset min.
func (m *Merkle) NewChunk(buf []byte, min int64) (chunk Chunk, err error) {
	dataHash, err := m.hash(buf)
	if err != nil {
		return
	}
	chunk = Chunk{
		DataHash:     dataHash,
		MinByteRange: min,
		MaxByteRange: min + int64(len(buf)),
	}
	return
}

// GenerateLeaves turns each chunk into a leaf whose id commits to both
// the chunk hash and the chunk's end offset.
func (m *Merkle) GenerateLeaves(chunks []Chunk) (leaves []*Node, err error) {
	defer Return(&err)
	for _, chunk := range chunks {
		id, err := m.hashEach(chunk.DataHash, IntToBuffer(chunk.MaxByteRange))
		Ck(err)
		leaves = append(leaves, &Node{
			ID:           id,
			DataHash:     chunk.DataHash,
			MinByteRange: chunk.MinByteRange,
			MaxByteRange: chunk.MaxByteRange,
		})
	}
	return
}

// BuildLayers pairs nodes left to right, one layer at a time, until a
// single root remains.  An odd node at the end of a layer is carried up
// unchanged.
func (m *Merkle) BuildLayers(nodes []*Node) (root *Node, err error) {
	defer Return(&err)
	if len(nodes) == 0 {
		return nil, errors.New("cannot build a tree without leaves")
	}
	layer := nodes
	for len(layer) > 1 {
		next := make([]*Node, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, layer[i])
				continue
			}
			branch, err := m.hashBranch(layer[i], layer[i+1])
			Ck(err)
			next = append(next, branch)
		}
		log.Debugf("merkle layer: %d nodes -> %d", len(layer), len(next))
		layer = next
	}
	return layer[0], nil
}

func (m *Merkle) hashBranch(left, right *Node) (branch *Node, err error) {
	id, err := m.hashEach(left.ID, right.ID, IntToBuffer(left.MaxByteRange))
	if err != nil {
		return
	}
	branch = &Node{
		ID:           id,
		ByteRange:    left.MaxByteRange,
		MaxByteRange: right.MaxByteRange,
		Left:         left,
		Right:        right,
	}
	return
}

// TransactionChunks builds the tree over chunks and returns the root
// with one proof per chunk.  A zero-length final chunk takes part in
// the tree but is dropped from the result together with its proof.
func (m *Merkle) TransactionChunks(chunks []Chunk) (res *TransactionChunks, err error) {
	defer Return(&err)
	leaves, err := m.GenerateLeaves(chunks)
	Ck(err)
	root, err := m.BuildLayers(leaves)
	Ck(err)
	proofs := GenerateProofs(root)
	Assert(len(proofs) == len(chunks), "proofs %d chunks %d", len(proofs), len(chunks))

	chunks = append([]Chunk(nil), chunks...)
	last := len(chunks) - 1
	if chunks[last].Size() == 0 {
		chunks = chunks[:last]
		proofs = proofs[:last]
	}
	res = &TransactionChunks{
		DataRoot: root.ID,
		Chunks:   chunks,
		Proofs:   proofs,
	}
	return
}

// GenerateTransactionChunks chunks data and builds its tree and proofs.
func (m *Merkle) GenerateTransactionChunks(data []byte) (res *TransactionChunks, err error) {
	defer Return(&err)
	chunks, err := m.ChunkData(data)
	Ck(err)
	return m.TransactionChunks(chunks)
}

// ComputeRootHash returns the data_root id for data.
func (m *Merkle) ComputeRootHash(data []byte) (id []byte, err error) {
	defer Return(&err)
	chunks, err := m.ChunkData(data)
	Ck(err)
	leaves, err := m.GenerateLeaves(chunks)
	Ck(err)
	root, err := m.BuildLayers(leaves)
	Ck(err)
	return root.ID, nil
}

// equal compares two ids.
func equal(a, b []byte) bool {
	return len(a) > 0 && bytes.Equal(a, b)
}
