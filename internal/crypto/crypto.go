// internal/crypto/crypto.go
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/curve25519"
)

// -----------------------------------------------------------------------------
// ADNL key material
//
// - identity keys are Ed25519; ECDH runs on the Montgomery form (X25519)
// - server key id = SHA-256(pub.ed25519 constructor || key)
// - session streams are AES-256-CTR
// -----------------------------------------------------------------------------

const (
	KeySize      = 32
	KeyIDSize    = 32
	ChecksumSize = 32

	// constructor id of pub.ed25519, boxed in front of the key before hashing
	pubEd25519ID = 0x4813b4c6
)

var ErrBadKey = errors.New("bad ed25519 key")

// Keypair is a client identity. A fresh one is generated per connection.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Public: pub, Private: priv}, nil
}

func (k Keypair) String() string {
	return "Keypair{pub:" + hex.EncodeToString(k.Public) + "}"
}

func (k Keypair) GoString() string {
	return k.String()
}

// ParsePublicKey accepts a 32-byte key in base64 (as in the global config) or hex.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	if raw, err := hex.DecodeString(s); err == nil && len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrBadKey, s)
}

// KeyID is the 32-byte id a server is addressed by during the handshake.
func KeyID(pub ed25519.PublicKey) [KeyIDSize]byte {
	buf := make([]byte, 4, 4+len(pub))
	binary.LittleEndian.PutUint32(buf, pubEd25519ID)
	buf = append(buf, pub...)
	return sha256.Sum256(buf)
}

// Ed25519ToX25519 converts an Edwards public key to its Montgomery u-coordinate.
func Ed25519ToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrBadKey
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return p.BytesMontgomery(), nil
}

// PrivateToX25519 derives the X25519 scalar matching an Ed25519 private key.
func PrivateToX25519(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	s := make([]byte, curve25519.ScalarSize)
	copy(s, h[:32])
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s
}

// SharedKey runs X25519 between our Ed25519 identity and the peer's Ed25519 public key.
func SharedKey(priv ed25519.PrivateKey, peer ed25519.PublicKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrBadKey
	}
	xpub, err := Ed25519ToX25519(peer)
	if err != nil {
		return nil, err
	}
	xpriv := PrivateToX25519(priv)
	defer zero(xpriv)
	return curve25519.X25519(xpriv, xpub)
}

// NewCTR returns an AES-CTR stream. The key length selects AES-128/192/256.
func NewCTR(key, iv []byte) (cipher.Stream, error) {
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("bad iv size: need %d", aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// Checksum is the SHA-256 used for frames and the handshake.
func Checksum(parts ...[]byte) [ChecksumSize]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [ChecksumSize]byte
	h.Sum(out[:0])
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
