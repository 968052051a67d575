// Package adnl implements the client side of the ADNL TCP transport used by lite-servers.
package adnl

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"tonlite/internal/crypto"
)

const (
	nonceSize     = 32
	frameOverhead = nonceSize + crypto.ChecksumSize

	DefaultMaxFrameSize = 16 << 20
)

var (
	ErrBadFrame = errors.New("bad frame")
	ErrChecksum = errors.New("frame checksum mismatch")
)

// EncodeFrame returns the plaintext frame len || nonce || payload || sha256(nonce || payload).
func EncodeFrame(payload []byte) ([]byte, error) {
	out := make([]byte, 4+frameOverhead+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(frameOverhead+len(payload)))
	nonce := out[4 : 4+nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	copy(out[4+nonceSize:], payload)
	sum := crypto.Checksum(nonce, payload)
	copy(out[4+nonceSize+len(payload):], sum[:])
	return out, nil
}

// WriteFrame encrypts one frame with enc and writes it in a single call.
func WriteFrame(w io.Writer, enc cipher.Stream, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	enc.XORKeyStream(frame, frame)
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads, decrypts and verifies one frame and returns its payload.
func ReadFrame(r io.Reader, dec cipher.Stream, maxSize int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	dec.XORKeyStream(lenBuf[:], lenBuf[:])
	n := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if n <= 0 {
		return nil, fmt.Errorf("%w: declared length %d", ErrBadFrame, n)
	}
	if n < frameOverhead {
		return nil, fmt.Errorf("%w: frame of %d bytes is shorter than its nonce and checksum", ErrBadFrame, n)
	}
	if maxSize > 0 && int(n) > maxSize+frameOverhead {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrBadFrame, n)
	}
	data := make([]byte, int(n))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	dec.XORKeyStream(data, data)
	body := data[:len(data)-crypto.ChecksumSize]
	sum := crypto.Checksum(body)
	if !bytes.Equal(sum[:], data[len(body):]) {
		return nil, ErrChecksum
	}
	return body[nonceSize:], nil
}
