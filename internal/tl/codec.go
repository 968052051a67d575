// Package tl implements the TL binary encoding used by ADNL and lite-servers,
// plus the lite-server schema this client speaks.
package tl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	boolTrue  = 0x997275b5
	boolFalse = 0xbc799737

	maxBytesLen = 1<<24 - 1
)

var (
	ErrShortBuffer = errors.New("tl: short buffer")
	ErrTooLong     = errors.New("tl: bytes longer than 16 MiB")
)

// Encoder appends TL primitives to a byte slice. The first error sticks and later writes are dropped.
type Encoder struct {
	buf []byte
	err error
}

func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) WriteID(id uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, id)
}

func (e *Encoder) WriteInt(v int32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
}

func (e *Encoder) WriteUint(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) WriteLong(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func (e *Encoder) WriteInt256(v [32]byte) {
	e.buf = append(e.buf, v[:]...)
}

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteID(boolTrue)
		return
	}
	e.WriteID(boolFalse)
}

// WriteBytes writes a TL bytes value: short or long length prefix, then zero padding to 4.
func (e *Encoder) WriteBytes(b []byte) {
	n := len(b)
	if n > maxBytesLen {
		if e.err == nil {
			e.err = fmt.Errorf("%w: %d bytes", ErrTooLong, n)
		}
		return
	}
	var hdr int
	if n < 254 {
		e.buf = append(e.buf, byte(n))
		hdr = 1
	} else {
		e.buf = append(e.buf, 0xfe, byte(n), byte(n>>8), byte(n>>16))
		hdr = 4
	}
	e.buf = append(e.buf, b...)
	if pad := (hdr + n) % 4; pad != 0 {
		e.buf = append(e.buf, make([]byte, 4-pad)...)
	}
}

func (e *Encoder) WriteString(s string) {
	e.WriteBytes([]byte(s))
}

// WriteRaw appends already-serialized TL.
func (e *Encoder) WriteRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

// Decoder reads TL primitives. The first error sticks and later reads return zero values.
type Decoder struct {
	data []byte
	off  int
	err  error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) Remaining() int { return len(d.data) - d.off }

// Rest returns the unread bytes without consuming them.
func (d *Decoder) Rest() []byte { return d.data[d.off:] }

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.data) {
		d.err = fmt.Errorf("%w: need %d at offset %d, have %d", ErrShortBuffer, n, d.off, len(d.data)-d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) ReadID() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) ReadInt() int32 { return int32(d.ReadID()) }

func (d *Decoder) ReadLong() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (d *Decoder) ReadInt256() (out [32]byte) {
	if b := d.take(32); b != nil {
		copy(out[:], b)
	}
	return out
}

func (d *Decoder) ReadBool() bool {
	switch id := d.ReadID(); id {
	case boolTrue:
		return true
	case boolFalse:
		return false
	default:
		if d.err == nil {
			d.err = fmt.Errorf("tl: bad bool constructor %08x", id)
		}
		return false
	}
}

func (d *Decoder) ReadBytes() []byte {
	first := d.take(1)
	if first == nil {
		return nil
	}
	n, hdr := int(first[0]), 1
	if first[0] == 0xfe {
		l := d.take(3)
		if l == nil {
			return nil
		}
		n, hdr = int(l[0])|int(l[1])<<8|int(l[2])<<16, 4
	} else if first[0] == 0xff {
		d.err = errors.New("tl: bad bytes length prefix")
		return nil
	}
	b := d.take(n)
	if pad := (hdr + n) % 4; pad != 0 {
		d.take(4 - pad)
	}
	if d.err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *Decoder) ReadString() string {
	return string(d.ReadBytes())
}

// ReadVectorLen reads a vector count and sanity checks it against the remaining input.
func (d *Decoder) ReadVectorLen(minItemSize int) int {
	n := d.ReadInt()
	if d.err != nil {
		return 0
	}
	if n < 0 || (minItemSize > 0 && int(n) > d.Remaining()/minItemSize) {
		d.err = fmt.Errorf("tl: bad vector length %d", n)
		return 0
	}
	return int(n)
}

// Expect reads a constructor id and fails unless it equals want.
func (d *Decoder) Expect(want uint32) {
	got := d.ReadID()
	if d.err == nil && got != want {
		d.err = &UnexpectedError{Want: want, Got: got}
	}
}

type UnexpectedError struct {
	Want, Got uint32
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("tl: unexpected constructor %08x (%s), want %08x (%s)", e.Got, Name(e.Got), e.Want, Name(e.Want))
}
