package deephash

import (
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"testing"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

type sha384Hasher struct{}

func (sha384Hasher) Hash(algo string, buf []byte) ([]byte, error) {
	if algo != Algo {
		return nil, fmt.Errorf("unsupported algo %s", algo)
	}
	sum := sha512.Sum384(buf)
	return sum[:], nil
}

func mkbuf(s string) []byte {
	return []byte(s)
}

func sum(t *testing.T, node interface{}) []byte {
	t.Helper()
	d := DeepHash{}.New(sha384Hasher{})
	res, err := d.Sum(node)
	tassert(t, err == nil, "%v", err)
	tassert(t, len(res) == sha512.Size384, "digest len %d", len(res))
	return res
}

func b64(buf []byte) string {
	return base64.RawURLEncoding.EncodeToString(buf)
}

func TestKnownDigests(t *testing.T) {
	cases := []struct {
		name   string
		node   interface{}
		expect string
	}{
		{"blob", mkbuf("abc"), "cRFaMBUuvP-23vu2Q6vI73bwH-Mj8dYjQGRghZYPbjR8stjppG3e5lWzASxhMdTg"},
		{"empty blob", []byte{}, "-_AMxET1_qncO-32KhP7qK6H50RfyRBWeiO-xOuC-tsRQ8QzBpMU2DYpg9w8Lko4"},
		{"empty list", []interface{}{}, "pp59N_3H8ECp7Baq6E3iT6tKZT2sTeC9JH42urn-RdkonFoEqJPJUoWBL1zvyXB6"},
		{"nested", []interface{}{mkbuf("abc"), [][]byte{mkbuf("d"), mkbuf("e")}},
			"BHytztNbGsEUt9fuXzM4rAv-ArTpI8TDZ76C-RYpvcLBIBRNeDXPMBXgrVD1WXok"},
	}
	for _, c := range cases {
		got := b64(sum(t, c.node))
		tassert(t, got == c.expect, "%s: expected %s got %s", c.name, c.expect, got)
	}
}

func TestEmptyListIsTagHash(t *testing.T) {
	expect := sha512.Sum384(mkbuf("list0"))
	got := sum(t, []interface{}{})
	tassert(t, bytes.Equal(got, expect[:]), "empty list should hash to H(\"list0\")")
}

func TestSensitivity(t *testing.T) {
	a, b := mkbuf("a"), mkbuf("b")
	ab := sum(t, []interface{}{a, b})
	ba := sum(t, []interface{}{b, a})
	tassert(t, !bytes.Equal(ab, ba), "order should matter")

	tassert(t, !bytes.Equal(sum(t, []interface{}{a}), sum(t, a)), "list of one should differ from bare blob")

	withEmpty := sum(t, []interface{}{a, b, []byte{}})
	tassert(t, !bytes.Equal(ab, withEmpty), "appending an empty blob should change the digest")

	nested := sum(t, []interface{}{[]interface{}{a}, b})
	tassert(t, !bytes.Equal(ab, nested), "nesting should change the digest")

	tassert(t, bytes.Equal(ab, sum(t, [][]byte{a, b})), "[][]byte and []interface{} lists should agree")
	tassert(t, bytes.Equal(ab, sum(t, []interface{}{a, b})), "digest should be deterministic")
}

func TestDeepNesting(t *testing.T) {
	// deep nests are walked without recursion
	var node interface{} = mkbuf("leaf")
	for i := 0; i < 10000; i++ {
		node = []interface{}{node}
	}
	got := sum(t, node)
	tassert(t, len(got) == sha512.Size384, "digest len %d", len(got))
}

func TestUnsupportedNode(t *testing.T) {
	d := DeepHash{}.New(sha384Hasher{})
	_, err := d.Sum([]interface{}{mkbuf("a"), 42})
	tassert(t, err != nil, "expected error for int node")
	_, err = d.Sum("string")
	tassert(t, err != nil, "expected error for string node")
}
