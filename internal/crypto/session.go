package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	SessionSeedSize = 160
	HandshakeSize   = KeyIDSize + ed25519.PublicKeySize + ChecksumSize + SessionSeedSize
)

var ErrHandshake = errors.New("bad handshake")

// SessionKeys are the two AES-CTR streams of one connection, from the owner's point of view.
type SessionKeys struct {
	Encrypt cipher.Stream
	Decrypt cipher.Stream
}

// NewSessionSeed returns the 160 random bytes both session streams are cut from.
func NewSessionSeed() ([]byte, error) {
	seed := make([]byte, SessionSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// ClientSessionKeys cuts the client-side streams from a session seed.
func ClientSessionKeys(seed []byte) (SessionKeys, error) {
	if len(seed) != SessionSeedSize {
		return SessionKeys{}, fmt.Errorf("bad session seed size: %d", len(seed))
	}
	dec, err := NewCTR(seed[0:32], seed[64:80])
	if err != nil {
		return SessionKeys{}, err
	}
	enc, err := NewCTR(seed[32:64], seed[80:96])
	if err != nil {
		return SessionKeys{}, err
	}
	return SessionKeys{Encrypt: enc, Decrypt: dec}, nil
}

// ServerSessionKeys is the mirror of ClientSessionKeys.
func ServerSessionKeys(seed []byte) (SessionKeys, error) {
	k, err := ClientSessionKeys(seed)
	if err != nil {
		return SessionKeys{}, err
	}
	return SessionKeys{Encrypt: k.Decrypt, Decrypt: k.Encrypt}, nil
}

func handshakeCipher(shared []byte, checksum [ChecksumSize]byte) (cipher.Stream, error) {
	key := make([]byte, 0, 32)
	key = append(key, shared[0:16]...)
	key = append(key, checksum[16:32]...)
	iv := make([]byte, 0, 16)
	iv = append(iv, checksum[0:4]...)
	iv = append(iv, shared[20:32]...)
	return NewCTR(key, iv)
}

// BuildHandshake returns serverKeyId || clientPub || sha256(seed) || AES-CTR(seed).
func BuildHandshake(server ed25519.PublicKey, client Keypair, seed []byte) ([]byte, error) {
	if len(seed) != SessionSeedSize {
		return nil, fmt.Errorf("bad session seed size: %d", len(seed))
	}
	shared, err := SharedKey(client.Private, server)
	if err != nil {
		return nil, err
	}
	defer zero(shared)
	sum := Checksum(seed)
	init, err := handshakeCipher(shared, sum)
	if err != nil {
		return nil, err
	}
	keyID := KeyID(server)
	out := make([]byte, 0, HandshakeSize)
	out = append(out, keyID[:]...)
	out = append(out, client.Public...)
	out = append(out, sum[:]...)
	sealed := make([]byte, SessionSeedSize)
	init.XORKeyStream(sealed, seed)
	out = append(out, sealed...)
	return out, nil
}

// OpenHandshake is the server side of BuildHandshake. It returns the client key and the session seed.
func OpenHandshake(server Keypair, packet []byte) (ed25519.PublicKey, []byte, error) {
	if len(packet) != HandshakeSize {
		return nil, nil, fmt.Errorf("%w: size %d", ErrHandshake, len(packet))
	}
	keyID := KeyID(server.Public)
	if !bytes.Equal(packet[:KeyIDSize], keyID[:]) {
		return nil, nil, fmt.Errorf("%w: unknown key id", ErrHandshake)
	}
	off := KeyIDSize
	clientPub := ed25519.PublicKey(bytes.Clone(packet[off : off+ed25519.PublicKeySize]))
	off += ed25519.PublicKeySize
	var sum [ChecksumSize]byte
	copy(sum[:], packet[off:off+ChecksumSize])
	off += ChecksumSize

	shared, err := SharedKey(server.Private, clientPub)
	if err != nil {
		return nil, nil, err
	}
	defer zero(shared)
	init, err := handshakeCipher(shared, sum)
	if err != nil {
		return nil, nil, err
	}
	seed := make([]byte, SessionSeedSize)
	init.XORKeyStream(seed, packet[off:])
	if Checksum(seed) != sum {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrHandshake)
	}
	return clientPub, seed, nil
}
