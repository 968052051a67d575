package adnl_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonlite/internal/adnl"
	"tonlite/internal/adnl/adnltest"
	"tonlite/internal/crypto"
	"tonlite/internal/liteerr"
	"tonlite/internal/tl"
)

func streams(t *testing.T) (crypto.SessionKeys, crypto.SessionKeys) {
	t.Helper()
	seed, err := crypto.NewSessionSeed()
	require.NoError(t, err)
	client, err := crypto.ClientSessionKeys(seed)
	require.NoError(t, err)
	server, err := crypto.ServerSessionKeys(seed)
	require.NoError(t, err)
	return client, server
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := streams(t)
	var wire bytes.Buffer
	payloads := [][]byte{nil, []byte("x"), bytes.Repeat([]byte{0xab}, 1000)}
	for _, p := range payloads {
		require.NoError(t, adnl.WriteFrame(&wire, client.Encrypt, p))
	}
	for _, p := range payloads {
		got, err := adnl.ReadFrame(&wire, server.Decrypt, 0)
		require.NoError(t, err)
		assert.Equal(t, len(p), len(got))
		assert.True(t, bytes.Equal(p, got))
	}
}

func TestFrameLayout(t *testing.T) {
	frame, err := adnl.EncodeFrame([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, frame, 4+32+3+32)
	assert.Equal(t, uint32(3+64), binary.LittleEndian.Uint32(frame))
	sum := crypto.Checksum(frame[4 : 4+32+3])
	assert.Equal(t, sum[:], frame[4+32+3:])
}

func TestFrameTamperFailsChecksum(t *testing.T) {
	payload := []byte("hello lite-server")
	for i := 4; i < 4+64+len(payload); i++ {
		client, server := streams(t)
		var wire bytes.Buffer
		require.NoError(t, adnl.WriteFrame(&wire, client.Encrypt, payload))
		raw := wire.Bytes()
		raw[i] ^= 0x01
		_, err := adnl.ReadFrame(bytes.NewReader(raw), server.Decrypt, 0)
		require.ErrorIs(t, err, adnl.ErrChecksum, "byte %d", i)
	}
}

func TestFrameRejectsBadLength(t *testing.T) {
	for _, n := range []int32{0, -5, 10} {
		client, server := streams(t)
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(n))
		client.Encrypt.XORKeyStream(hdr[:], hdr[:])
		_, err := adnl.ReadFrame(bytes.NewReader(append(hdr[:], make([]byte, 64)...)), server.Decrypt, 0)
		assert.ErrorIs(t, err, adnl.ErrBadFrame, "length %d", n)
	}
}

func TestFrameLimit(t *testing.T) {
	client, server := streams(t)
	var wire bytes.Buffer
	require.NoError(t, adnl.WriteFrame(&wire, client.Encrypt, make([]byte, 100)))
	_, err := adnl.ReadFrame(&wire, server.Decrypt, 50)
	assert.ErrorIs(t, err, adnl.ErrBadFrame)
}

func pingPong(t *testing.T, tr *adnl.Transport) {
	t.Helper()
	id := int64(time.Now().UnixNano())
	require.NoError(t, tr.Send(context.Background(), tl.Serialize(&tl.TCPPing{RandomID: id})))
	select {
	case payload, ok := <-tr.Frames():
		require.True(t, ok)
		pong, err := tl.DecodeAs[*tl.TCPPong](tl.DefaultRegistry(), payload)
		require.NoError(t, err)
		assert.Equal(t, id, pong.RandomID)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestTransportConnectAndPing(t *testing.T) {
	defer leaktest.Check(t)()
	srv := adnltest.NewServer(t, adnltest.Mux{}.Serve)
	tr := adnl.New(srv.Addr(), srv.PublicKey(), adnl.Options{})

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.Connected())
	require.NoError(t, tr.Connect(context.Background()), "second connect is a no-op")
	pingPong(t, tr)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())

	err := tr.Send(context.Background(), []byte{1})
	var te *liteerr.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, liteerr.ErrNotConnected)

	require.NoError(t, tr.Connect(context.Background()), "reconnect after close")
	pingPong(t, tr)
	require.NoError(t, tr.Close())
	srv.Close()
}

func TestTransportWrongServerKey(t *testing.T) {
	defer leaktest.Check(t)()
	srv := adnltest.NewServer(t, adnltest.Mux{}.Serve)
	other, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	tr := adnl.New(srv.Addr(), other.Public, adnl.Options{})
	err = tr.Connect(context.Background())
	var te *liteerr.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "handshake", te.Op)
	assert.False(t, tr.Connected())
	srv.Close()
}

func TestTransportConnectTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	tr := adnl.New(ln.Addr().String(), kp.Public, adnl.Options{ConnectTimeout: 100 * time.Millisecond})
	err = tr.Connect(context.Background())
	var te *liteerr.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, liteerr.ScopeConnect, te.Scope)
	assert.False(t, tr.Connected())

	_ = ln.Close()
	select {
	case c := <-accepted:
		_ = c.Close()
	case <-time.After(time.Second):
	}
}

func TestTransportNoticesDroppedConnection(t *testing.T) {
	defer leaktest.Check(t)()
	srv := adnltest.NewServer(t, adnltest.Mux{}.Serve)
	tr := adnl.New(srv.Addr(), srv.PublicKey(), adnl.Options{})
	require.NoError(t, tr.Connect(context.Background()))
	frames := tr.Frames()

	srv.DropConnections()
	select {
	case _, ok := <-frames:
		assert.False(t, ok, "queue is closed when the session ends")
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	require.Eventually(t, func() bool { return !tr.Connected() }, time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Close())
	srv.Close()
}
