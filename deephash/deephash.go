// Package deephash computes the length-tagged recursive digest used as
// the signature payload of format 2 transactions.
//
// A blob hashes as H(H("blob" + len) || H(bytes)).  A list starts from
// H("list" + count) and folds each child in with acc = H(acc || child).
package deephash

import (
	"strconv"

	"github.com/pkg/errors"
	. "github.com/stevegt/goadapt"
)

// Algo is the digest deep hashes are built from.
const Algo = "SHA-384"

// Hasher is the part of the crypto driver deep hashing needs.
type Hasher interface {
	Hash(algo string, buf []byte) ([]byte, error)
}

type DeepHash struct {
	hasher Hasher
}

func (d DeepHash) New(hasher Hasher) *DeepHash {
	d.hasher = hasher
	return &d
}

// frame is a list whose children are being folded into acc.
type frame struct {
	items []interface{}
	next  int
	acc   []byte
}

// Sum returns the deep hash of node.  A node is either a []byte or a
// list of nodes given as []interface{} or [][]byte, nested to any
// depth.
func (d *DeepHash) Sum(node interface{}) (sum []byte, err error) {
	defer Return(&err)
	var stack []*frame
	cur := node
	for {
		var digest []byte
		switch n := cur.(type) {
		case []byte:
			digest, err = d.blob(n)
			Ck(err)
		case [][]byte:
			items := make([]interface{}, len(n))
			for i, b := range n {
				items[i] = b
			}
			cur = items
			continue
		case []interface{}:
			acc, err := d.hash(tag("list", len(n)))
			Ck(err)
			if len(n) > 0 {
				stack = append(stack, &frame{items: n, acc: acc})
				cur = n[0]
				continue
			}
			digest = acc
		default:
			return nil, errors.Errorf("deephash: unsupported node type %T", cur)
		}

		// fold the finished digest into its parents
		for {
			if len(stack) == 0 {
				return digest, nil
			}
			top := stack[len(stack)-1]
			top.acc, err = d.hash(concat(top.acc, digest))
			Ck(err)
			top.next++
			if top.next < len(top.items) {
				cur = top.items[top.next]
				break
			}
			digest = top.acc
			stack = stack[:len(stack)-1]
		}
	}
}

func (d *DeepHash) blob(buf []byte) (sum []byte, err error) {
	defer Return(&err)
	tagHash, err := d.hash(tag("blob", len(buf)))
	Ck(err)
	dataHash, err := d.hash(buf)
	Ck(err)
	return d.hash(concat(tagHash, dataHash))
}

func (d *DeepHash) hash(buf []byte) ([]byte, error) {
	return d.hasher.Hash(Algo, buf)
}

func concat(a, b []byte) []byte {
	buf := make([]byte, 0, len(a)+len(b))
	return append(append(buf, a...), b...)
}

// tag is the ASCII kind followed by the decimal length, no separator.
func tag(kind string, n int) []byte {
	return strconv.AppendInt([]byte(kind), int64(n), 10)
}
