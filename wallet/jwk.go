package wallet

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"io/ioutil"
	"math/big"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/weavebase/codec"
)

// JWK is an RSA wallet key in JSON Web Key form.  All integers are
// unpadded base64url, big-endian.
type JWK struct {
	Kty string `json:"kty"`
	E   string `json:"e"`
	N   string `json:"n"`
	D   string `json:"d,omitempty"`
	P   string `json:"p,omitempty"`
	Q   string `json:"q,omitempty"`
	Dp  string `json:"dp,omitempty"`
	Dq  string `json:"dq,omitempty"`
	Qi  string `json:"qi,omitempty"`
}

// InvalidKeyError reports a keyfile that cannot sign.
type InvalidKeyError struct {
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return "No valid JWK or external wallet found to sign transaction: " + e.Reason
}

// IsPrivate reports whether every private component is present.
func (jwk *JWK) IsPrivate() bool {
	if jwk == nil {
		return false
	}
	for _, s := range []string{jwk.N, jwk.E, jwk.D, jwk.P, jwk.Q, jwk.Dp, jwk.Dq, jwk.Qi} {
		if s == "" {
			return false
		}
	}
	return true
}

func b64int(s string) (n *big.Int, err error) {
	buf, err := codec.B64UrlDecode(s)
	if err != nil {
		return
	}
	return new(big.Int).SetBytes(buf), nil
}

func JWKFromKey(key *rsa.PrivateKey) *JWK {
	key.Precompute()
	enc := func(n *big.Int) string { return codec.B64UrlEncode(n.Bytes()) }
	return &JWK{
		Kty: "RSA",
		E:   enc(big.NewInt(int64(key.E))),
		N:   enc(key.N),
		D:   enc(key.D),
		P:   enc(key.Primes[0]),
		Q:   enc(key.Primes[1]),
		Dp:  enc(key.Precomputed.Dp),
		Dq:  enc(key.Precomputed.Dq),
		Qi:  enc(key.Precomputed.Qinv),
	}
}

// PublicKey decodes the modulus and exponent.
func (jwk *JWK) PublicKey() (pub *rsa.PublicKey, err error) {
	defer Return(&err)
	n, err := b64int(jwk.N)
	Ck(err)
	e, err := b64int(jwk.E)
	Ck(err)
	if n.Sign() == 0 || !e.IsInt64() || e.Int64() < 3 {
		return nil, &InvalidKeyError{Reason: "bad public components"}
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// PrivateKey decodes and validates the full key.
func (jwk *JWK) PrivateKey() (key *rsa.PrivateKey, err error) {
	defer Return(&err)
	if !jwk.IsPrivate() {
		return nil, &InvalidKeyError{Reason: "missing private components"}
	}
	pub, err := jwk.PublicKey()
	Ck(err)
	key = &rsa.PrivateKey{PublicKey: *pub}
	key.D, err = b64int(jwk.D)
	Ck(err)
	p, err := b64int(jwk.P)
	Ck(err)
	q, err := b64int(jwk.Q)
	Ck(err)
	key.Primes = []*big.Int{p, q}
	err = key.Validate()
	if err != nil {
		return nil, &InvalidKeyError{Reason: err.Error()}
	}
	key.Precompute()
	return
}

// Address returns the wallet address owning this key.
func (jwk *JWK) Address() (string, error) {
	return OwnerToAddress(jwk.N)
}

// OwnerToAddress hashes a base64url public modulus into a wallet
// address.
func OwnerToAddress(owner string) (addr string, err error) {
	n, err := codec.B64UrlDecode(owner)
	if err != nil {
		return
	}
	sum := sha256.Sum256(n)
	return codec.B64UrlEncode(sum[:]), nil
}

// LoadJWK reads a JSON keyfile.
func LoadJWK(fn string) (jwk *JWK, err error) {
	buf, err := ioutil.ReadFile(fn)
	if err != nil {
		return
	}
	jwk = &JWK{}
	err = json.Unmarshal(buf, jwk)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", fn)
	}
	return
}

// Save writes the keyfile atomically, readable only by its owner.
func (jwk *JWK) Save(fn string) (err error) {
	buf, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		return
	}
	return renameio.WriteFile(fn, append(buf, '\n'), 0600)
}
