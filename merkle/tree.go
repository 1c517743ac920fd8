package merkle

import (
	"fmt"
	"strings"

	"github.com/t7a/weavebase/codec"
)

// Node is a vertex in a data_root tree.  Leaves carry DataHash and
// MinByteRange; branches carry ByteRange (the left child's end offset)
// and exclusively own their two children.
type Node struct {
	ID           []byte
	DataHash     []byte
	MinByteRange int64
	ByteRange    int64
	MaxByteRange int64
	Left         *Node
	Right        *Node
}

func (node *Node) IsLeaf() bool {
	return node.Left == nil && node.Right == nil
}

// pending is a node waiting to be visited along with the proof bytes
// accumulated on the way down to it.
type pending struct {
	node   *Node
	prefix []byte
}

// GenerateProofs walks the tree depth first, leftmost leaf first, and
// returns one proof per leaf.  Each branch appends (left id, right id,
// byte range) to the prefix both of its children share; each leaf ends
// its proof with (data hash, end offset).
func GenerateProofs(root *Node) (proofs []Proof) {
	stack := []pending{{node: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := top.node
		if node.IsLeaf() {
			proof := make([]byte, 0, len(top.prefix)+HashSize+NoteSize)
			proof = append(proof, top.prefix...)
			proof = append(proof, node.DataHash...)
			proof = append(proof, IntToBuffer(node.MaxByteRange)...)
			proofs = append(proofs, Proof{
				Offset: node.MaxByteRange - 1,
				Proof:  proof,
			})
			continue
		}
		prefix := make([]byte, 0, len(top.prefix)+2*HashSize+NoteSize)
		prefix = append(prefix, top.prefix...)
		prefix = append(prefix, node.Left.ID...)
		prefix = append(prefix, node.Right.ID...)
		prefix = append(prefix, IntToBuffer(node.ByteRange)...)
		// right first so the left subtree is visited first
		stack = append(stack, pending{node: node.Right, prefix: prefix})
		stack = append(stack, pending{node: node.Left, prefix: prefix})
	}
	return
}

// Debug renders a proof one branch record per line as
// "left,right,offset => hash".  The trailing leaf record is shown as
// "dataHash,offset => leaf id".
func (m *Merkle) Debug(proof []byte) (out string, err error) {
	var lines []string
	rest := proof
	for len(rest) > 0 {
		if len(rest) < 2*HashSize+NoteSize {
			left, note := take(rest, HashSize)
			note, _ = take(note, NoteSize)
			sum, err := m.hashEach(left, note)
			if err != nil {
				return "", err
			}
			lines = append(lines, fmt.Sprintf("%s,%d => %s",
				codec.B64UrlEncode(left), BufferToInt(note), codec.B64UrlEncode(sum)))
			break
		}
		left, tail := take(rest, HashSize)
		right, tail := take(tail, HashSize)
		note, tail := take(tail, NoteSize)
		sum, err := m.hashEach(left, right, note)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s,%s,%d => %s",
			codec.B64UrlEncode(left), codec.B64UrlEncode(right), BufferToInt(note), codec.B64UrlEncode(sum)))
		rest = tail
	}
	return strings.Join(lines, "\n"), nil
}

// take splits buf after n bytes, or at its end if it is shorter.
func take(buf []byte, n int) (head, tail []byte) {
	if n > len(buf) {
		n = len(buf)
	}
	return buf[:n], buf[n:]
}
