// Package wallet is the crypto driver: digests, RSA-PSS signatures
// over transaction payloads, JWK keyfiles, and symmetric encryption.
package wallet

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"math/big"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/t7a/weavebase/codec"
)

const (
	// key parameters for generated wallets
	defKeyLength      = 4096
	defPublicExponent = 65537

	// encryption key derivation
	defSalt       = "salt"
	kdfIterations = 100000
	kdfKeyLength  = 32
)

// SignOptions tunes RSA-PSS signing.  A zero SaltLength signs with a
// salt as long as the digest.
type SignOptions struct {
	SaltLength int
}

// Driver implements the crypto capabilities the rest of the module
// consumes.
type Driver struct {
	KeyLength      int
	PublicExponent int
}

func (d Driver) New() *Driver {
	if d.KeyLength == 0 {
		d.KeyLength = defKeyLength
	}
	if d.PublicExponent == 0 {
		d.PublicExponent = defPublicExponent
	}
	return &d
}

func newHash(algo string) (h hash.Hash, err error) {
	switch strings.ToUpper(strings.ReplaceAll(algo, "-", "")) {
	case "SHA256", "":
		h = sha256.New()
	case "SHA384":
		h = sha512.New384()
	case "SHA512":
		h = sha512.New()
	default:
		err = fmt.Errorf("%w: %s", syscall.ENOSYS, algo)
	}
	return
}

// Hash returns the algo digest of buf.  algo is one of SHA-256,
// SHA-384 or SHA-512; empty means SHA-256.
func (d *Driver) Hash(algo string, buf []byte) (sum []byte, err error) {
	h, err := newHash(algo)
	if err != nil {
		return
	}
	h.Write(buf)
	return h.Sum(nil), nil
}

// GenerateJWK creates a new RSA wallet key.
func (d *Driver) GenerateJWK() (jwk *JWK, err error) {
	defer Return(&err)
	Assert(d.PublicExponent == defPublicExponent, "unsupported public exponent %d", d.PublicExponent)
	log.Debugf("generating %d bit wallet key", d.KeyLength)
	key, err := rsa.GenerateKey(rand.Reader, d.KeyLength)
	Ck(err)
	return JWKFromKey(key), nil
}

// Sign returns the RSA-PSS SHA-256 signature of data.
func (d *Driver) Sign(jwk *JWK, data []byte, opts *SignOptions) (sig []byte, err error) {
	defer Return(&err)
	key, err := jwk.PrivateKey()
	Ck(err)
	pss := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	if opts != nil && opts.SaltLength > 0 {
		pss.SaltLength = opts.SaltLength
	}
	digest := sha256.Sum256(data)
	sig, err = rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], pss)
	Ck(err)
	return
}

// Verify checks sig over data against the public key whose modulus is
// owner, base64url encoded.  A signature that does not verify returns
// false with a nil error; only an unusable owner is an error.
func (d *Driver) Verify(owner string, data, sig []byte) (ok bool, err error) {
	pub, err := ownerToPublicKey(owner, d.PublicExponent)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(data)
	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
	if err != nil {
		log.Debugf("signature verification failed: %v", err)
		return false, nil
	}
	return true, nil
}

func ownerToPublicKey(owner string, exponent int) (pub *rsa.PublicKey, err error) {
	n, err := codec.B64UrlDecode(owner)
	if err != nil {
		return nil, errors.Wrap(err, "owner")
	}
	if len(n) == 0 {
		return nil, errors.New("owner is empty")
	}
	if exponent == 0 {
		exponent = defPublicExponent
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exponent}, nil
}

func deriveKey(key []byte, salt string) []byte {
	if salt == "" {
		salt = defSalt
	}
	return pbkdf2.Key(key, []byte(salt), kdfIterations, kdfKeyLength, sha256.New)
}

// Encrypt seals data with AES-256-GCM under a key derived from key and
// salt.  The result is nonce || ciphertext.
func (d *Driver) Encrypt(data, key []byte, salt string) (out []byte, err error) {
	defer Return(&err)
	block, err := aes.NewCipher(deriveKey(key, salt))
	Ck(err)
	aead, err := cipher.NewGCM(block)
	Ck(err)
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	_, err = rand.Read(nonce)
	Ck(err)
	return aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens a buffer produced by Encrypt.
func (d *Driver) Decrypt(encrypted, key []byte, salt string) (data []byte, err error) {
	defer Return(&err)
	block, err := aes.NewCipher(deriveKey(key, salt))
	Ck(err)
	aead, err := cipher.NewGCM(block)
	Ck(err)
	if len(encrypted) < aead.NonceSize() {
		return nil, errors.New("encrypted data too short")
	}
	nonce, sealed := encrypted[:aead.NonceSize()], encrypted[aead.NonceSize():]
	data, err = aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt")
	}
	return
}
