// Package transaction is the transaction model: its JSON wire form,
// chunk preparation, the payload a signature covers, signing and
// verification, and a resumable chunk uploader.
package transaction

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/codec"
	"github.com/t7a/weavebase/deephash"
	"github.com/t7a/weavebase/merkle"
	"github.com/t7a/weavebase/wallet"
)

const (
	// DefaultFormat is the format new transactions are built with.
	DefaultFormat = 2

	// IDAlgo digests a raw signature into a transaction id.
	IDAlgo = "SHA-256"
)

// ErrIDMismatch is returned by Verify when the id is not the hash of
// the signature.
var ErrIDMismatch = errors.New("Invalid transaction signature or ID! The transaction ID doesn't match the expected SHA-256 hash of the signature.")

// Crypto is what signing and verification need from the crypto
// driver.  *wallet.Driver implements it.
type Crypto interface {
	Hash(algo string, buf []byte) ([]byte, error)
	Sign(jwk *wallet.JWK, data []byte, opts *wallet.SignOptions) ([]byte, error)
	Verify(owner string, data, sig []byte) (bool, error)
}

// Deps carries the tree and digest engines a transaction computes its
// data_root and signature payload with.
type Deps struct {
	Merkle   *merkle.Merkle
	DeepHash *deephash.DeepHash
}

// NewDeps builds both engines over one hasher.
func NewDeps(hasher merkle.Hasher) *Deps {
	return &Deps{
		Merkle:   merkle.Merkle{}.New(hasher),
		DeepHash: deephash.DeepHash{}.New(hasher),
	}
}

// Tag is a base64url-encoded name/value pair.
type Tag = api.Tag

// Transaction is a ledger transaction.  Binary fields other than Data
// hold base64url strings exactly as they travel on the wire; Quantity,
// Reward and DataSize are decimal strings.
type Transaction struct {
	Format    int    `msgpack:"format"`
	ID        string `msgpack:"id"`
	LastTx    string `msgpack:"last_tx"`
	Owner     string `msgpack:"owner"`
	Tags      []Tag  `msgpack:"tags"`
	Target    string `msgpack:"target"`
	Quantity  string `msgpack:"quantity"`
	Data      []byte `msgpack:"data"`
	DataSize  string `msgpack:"data_size"`
	DataRoot  string `msgpack:"data_root"`
	Reward    string `msgpack:"reward"`
	Signature string `msgpack:"signature"`

	// Chunks is set by PrepareChunks and never recomputed after.
	Chunks *merkle.TransactionChunks `msgpack:"-"`

	deps *Deps
}

// New returns an empty transaction of the default format.
func New(deps *Deps) *Transaction {
	return &Transaction{
		Format:   DefaultFormat,
		Quantity: "0",
		Reward:   "0",
		DataSize: "0",
		deps:     deps,
	}
}

// FromJSON decodes a transaction in wire form.
func FromJSON(deps *Deps, buf []byte) (tx *Transaction, err error) {
	tx = &Transaction{}
	err = json.Unmarshal(buf, tx)
	if err != nil {
		return nil, errors.Wrap(err, "decoding transaction")
	}
	tx.deps = deps
	return
}

// Attributes are the caller-supplied fields of a new transaction.
// Empty strings are filled in by whoever builds the transaction.
type Attributes struct {
	Format   int
	LastTx   string
	Owner    string
	Tags     []Tag
	Target   string
	Quantity string
	Reward   string
	Data     []byte
}

// FromAttributes builds an unsigned transaction.  Format defaults to
// DefaultFormat and Quantity to "0".
func FromAttributes(deps *Deps, attrs Attributes) (tx *Transaction) {
	tx = New(deps)
	if attrs.Format != 0 {
		tx.Format = attrs.Format
	}
	tx.LastTx = attrs.LastTx
	tx.Owner = attrs.Owner
	tx.Tags = append([]Tag(nil), attrs.Tags...)
	tx.Target = attrs.Target
	if attrs.Quantity != "" {
		tx.Quantity = attrs.Quantity
	}
	tx.Reward = attrs.Reward
	tx.SetData(attrs.Data)
	return
}

// SetDeps attaches engines to a transaction built without them.
func (tx *Transaction) SetDeps(deps *Deps) {
	tx.deps = deps
}

// AddTag appends a tag, base64url-encoding name and value.
func (tx *Transaction) AddTag(name, value string) {
	tx.Tags = append(tx.Tags, Tag{
		Name:  codec.StringToB64Url(name),
		Value: codec.StringToB64Url(value),
	})
}

// SetData replaces the inline data and its size.  The data_root is
// left alone; call PrepareChunks for a fresh transaction.
func (tx *Transaction) SetData(data []byte) {
	tx.Data = data
	tx.DataSize = strconv.Itoa(len(data))
}

// wire is the JSON document peers exchange.
type wire struct {
	Format    int    `json:"format"`
	ID        string `json:"id"`
	LastTx    string `json:"last_tx"`
	Owner     string `json:"owner"`
	Tags      []Tag  `json:"tags"`
	Target    string `json:"target"`
	Quantity  string `json:"quantity"`
	Data      string `json:"data"`
	DataSize  string `json:"data_size"`
	DataRoot  string `json:"data_root"`
	Reward    string `json:"reward"`
	Signature string `json:"signature"`
}

func (tx *Transaction) MarshalJSON() ([]byte, error) {
	w := wire{
		Format:    tx.Format,
		ID:        tx.ID,
		LastTx:    tx.LastTx,
		Owner:     tx.Owner,
		Tags:      tx.Tags,
		Target:    tx.Target,
		Quantity:  tx.Quantity,
		Data:      codec.B64UrlEncode(tx.Data),
		DataSize:  tx.DataSize,
		DataRoot:  tx.DataRoot,
		Reward:    tx.Reward,
		Signature: tx.Signature,
	}
	if w.Tags == nil {
		w.Tags = []Tag{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the wire form.  A missing format means 1, as
// older peers omit it.
func (tx *Transaction) UnmarshalJSON(buf []byte) (err error) {
	var w wire
	err = json.Unmarshal(buf, &w)
	if err != nil {
		return
	}
	data, err := codec.B64UrlDecode(w.Data)
	if err != nil {
		return errors.Wrap(err, "decoding data")
	}
	if w.Format == 0 {
		w.Format = 1
	}
	*tx = Transaction{
		Format:    w.Format,
		ID:        w.ID,
		LastTx:    w.LastTx,
		Owner:     w.Owner,
		Tags:      w.Tags,
		Target:    w.Target,
		Quantity:  w.Quantity,
		Data:      data,
		DataSize:  w.DataSize,
		DataRoot:  w.DataRoot,
		Reward:    w.Reward,
		Signature: w.Signature,
		deps:      tx.deps,
	}
	return
}

// PrepareChunks computes chunks, proofs and data_root for data, which
// need not be tx.Data.  It does nothing once chunks are set.  Empty
// data gives empty chunks and an empty data_root.
func (tx *Transaction) PrepareChunks(data []byte) (err error) {
	defer Return(&err)
	if tx.Chunks != nil {
		return
	}
	if len(data) == 0 {
		tx.SetChunks(nil)
		return
	}
	Assert(tx.deps != nil, "transaction has no merkle engine")
	chunks, err := tx.deps.Merkle.GenerateTransactionChunks(data)
	Ck(err)
	tx.SetChunks(chunks)
	log.Debugf("prepared %d chunks, data_root %s", len(chunks.Chunks), tx.DataRoot)
	return
}

// SetChunks attaches chunks computed elsewhere, such as from a stream.
// Nil or chunkless input means no data: empty chunks and an empty
// data_root.
func (tx *Transaction) SetChunks(chunks *merkle.TransactionChunks) {
	if chunks == nil || len(chunks.Chunks) == 0 {
		tx.Chunks = &merkle.TransactionChunks{}
		tx.DataRoot = ""
		return
	}
	tx.Chunks = chunks
	tx.DataRoot = codec.B64UrlEncode(chunks.DataRoot)
}

// GetChunk returns the POST chunk body for chunk idx, slicing its bytes
// out of data.
func (tx *Transaction) GetChunk(idx int, data []byte) (payload *api.ChunkPayload, err error) {
	if tx.Chunks == nil {
		return nil, errors.New("Chunks have not been prepared")
	}
	if idx < 0 || idx >= len(tx.Chunks.Chunks) {
		return nil, errors.Errorf("chunk index %d out of range [0, %d)", idx, len(tx.Chunks.Chunks))
	}
	chunk := tx.Chunks.Chunks[idx]
	proof := tx.Chunks.Proofs[idx]
	if chunk.MaxByteRange > int64(len(data)) {
		return nil, errors.Errorf("chunk %d ends at %d past %d bytes of data", idx, chunk.MaxByteRange, len(data))
	}
	payload = &api.ChunkPayload{
		DataRoot: tx.DataRoot,
		DataSize: tx.DataSize,
		DataPath: codec.B64UrlEncode(proof.Proof),
		Offset:   strconv.FormatInt(proof.Offset, 10),
		Chunk:    codec.B64UrlEncode(data[chunk.MinByteRange:chunk.MaxByteRange]),
	}
	return
}

// SignatureData returns the bytes a signature covers.  Format 1 is a
// plain concatenation of the fields.  Format 2 is the deep hash of the
// field list, preparing chunks from tx.Data first if data_root is
// unset.
func (tx *Transaction) SignatureData() (buf []byte, err error) {
	defer Return(&err)
	switch tx.Format {
	case 1:
		return tx.signatureDataV1()
	case 2:
		if tx.DataRoot == "" {
			err = tx.PrepareChunks(tx.Data)
			Ck(err)
		}
		Assert(tx.deps != nil, "transaction has no deep hash engine")
		fields, err := tx.signatureFields()
		Ck(err)
		return tx.deps.DeepHash.Sum(fields)
	default:
		return nil, errors.Errorf("Unexpected transaction format: %d", tx.Format)
	}
}

// XXX format 1 concatenates fields with no separators, so distinct
// transactions can share a payload.  Kept for verifying old
// transactions.
func (tx *Transaction) signatureDataV1() (buf []byte, err error) {
	defer Return(&err)
	owner, err := codec.B64UrlDecode(tx.Owner)
	Ck(err)
	target, err := codec.B64UrlDecode(tx.Target)
	Ck(err)
	lastTx, err := codec.B64UrlDecode(tx.LastTx)
	Ck(err)
	buf = append(buf, owner...)
	buf = append(buf, target...)
	buf = append(buf, tx.Data...)
	buf = append(buf, tx.Quantity...)
	buf = append(buf, tx.Reward...)
	buf = append(buf, lastTx...)
	for _, tag := range tx.Tags {
		name, err := codec.B64UrlDecode(tag.Name)
		Ck(err)
		value, err := codec.B64UrlDecode(tag.Value)
		Ck(err)
		buf = append(buf, name...)
		buf = append(buf, value...)
	}
	return
}

func (tx *Transaction) signatureFields() (fields []interface{}, err error) {
	defer Return(&err)
	decode := func(s string) []byte {
		buf, err := codec.B64UrlDecode(s)
		Ck(err)
		return buf
	}
	tags := make([]interface{}, 0, len(tx.Tags))
	for _, tag := range tx.Tags {
		tags = append(tags, [][]byte{decode(tag.Name), decode(tag.Value)})
	}
	fields = []interface{}{
		[]byte(strconv.Itoa(tx.Format)),
		decode(tx.Owner),
		decode(tx.Target),
		[]byte(tx.Quantity),
		[]byte(tx.Reward),
		decode(tx.LastTx),
		tags,
		[]byte(tx.DataSize),
		decode(tx.DataRoot),
	}
	return
}

// Sign sets owner from jwk, signs the signature payload, and sets the
// signature and the id derived from it.
func (tx *Transaction) Sign(c Crypto, jwk *wallet.JWK, opts *wallet.SignOptions) (err error) {
	defer Return(&err)
	if !jwk.IsPrivate() {
		return &wallet.InvalidKeyError{Reason: "missing private key components"}
	}
	tx.Owner = jwk.N
	payload, err := tx.SignatureData()
	Ck(err)
	sig, err := c.Sign(jwk, payload, opts)
	Ck(err)
	id, err := c.Hash(IDAlgo, sig)
	Ck(err)
	tx.Signature = codec.B64UrlEncode(sig)
	tx.ID = codec.B64UrlEncode(id)
	log.Debugf("signed transaction %s", tx.ID)
	return
}

// Verify checks that the id is the hash of the signature, returning
// ErrIDMismatch if not, and then that the signature is the owner's over
// the signature payload.
func (tx *Transaction) Verify(c Crypto) (ok bool, err error) {
	defer Return(&err)
	payload, err := tx.SignatureData()
	Ck(err)
	sig, err := codec.B64UrlDecode(tx.Signature)
	Ck(err)
	id, err := c.Hash(IDAlgo, sig)
	Ck(err)
	if tx.ID != codec.B64UrlEncode(id) {
		return false, ErrIDMismatch
	}
	return c.Verify(tx.Owner, payload, sig)
}
