package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedKeySymmetric(t *testing.T) {
	a, err := GenerateKeypair()
	require.NoError(t, err)
	b, err := GenerateKeypair()
	require.NoError(t, err)

	ab, err := SharedKey(a.Private, b.Public)
	require.NoError(t, err)
	ba, err := SharedKey(b.Private, a.Public)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
	require.Len(t, ab, 32)
}

func TestKeyIDIsBoxed(t *testing.T) {
	pub := ed25519.PublicKey(bytes.Repeat([]byte{7}, 32))
	id := KeyID(pub)
	want := Checksum([]byte{0xc6, 0xb4, 0x13, 0x48}, pub)
	require.Equal(t, want, id)
}

func TestParsePublicKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, 32)
	k, err := ParsePublicKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, []byte(k))

	k, err = ParsePublicKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, []byte(k))

	_, err = ParsePublicKey("short")
	require.ErrorIs(t, err, ErrBadKey)
}

func TestHandshakeRoundTrip(t *testing.T) {
	server, err := GenerateKeypair()
	require.NoError(t, err)
	client, err := GenerateKeypair()
	require.NoError(t, err)
	seed, err := NewSessionSeed()
	require.NoError(t, err)

	packet, err := BuildHandshake(server.Public, client, seed)
	require.NoError(t, err)
	require.Len(t, packet, HandshakeSize)

	gotPub, gotSeed, err := OpenHandshake(server, packet)
	require.NoError(t, err)
	require.Equal(t, client.Public, gotPub)
	require.Equal(t, seed, gotSeed)

	cs, err := ClientSessionKeys(seed)
	require.NoError(t, err)
	ss, err := ServerSessionKeys(gotSeed)
	require.NoError(t, err)

	msg := []byte("hello lite server")
	ct := make([]byte, len(msg))
	cs.Encrypt.XORKeyStream(ct, msg)
	pt := make([]byte, len(ct))
	ss.Decrypt.XORKeyStream(pt, ct)
	require.Equal(t, msg, pt)

	ss.Encrypt.XORKeyStream(ct, msg)
	cs.Decrypt.XORKeyStream(pt, ct)
	require.Equal(t, msg, pt)
}

func TestHandshakeRejectsTamper(t *testing.T) {
	server, _ := GenerateKeypair()
	client, _ := GenerateKeypair()
	seed, _ := NewSessionSeed()
	packet, err := BuildHandshake(server.Public, client, seed)
	require.NoError(t, err)

	packet[len(packet)-1] ^= 0x01
	_, _, err = OpenHandshake(server, packet)
	require.ErrorIs(t, err, ErrHandshake)

	other, _ := GenerateKeypair()
	packet, _ = BuildHandshake(server.Public, client, seed)
	_, _, err = OpenHandshake(other, packet)
	require.ErrorIs(t, err, ErrHandshake)
}
