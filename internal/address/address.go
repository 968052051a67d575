// Package address parses and formats TON account addresses.
package address

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc16"

	"tonlite/internal/tl"
)

const (
	flagBounceable    = 0x11
	flagNonBounceable = 0x51
	flagTestOnly      = 0x80
)

var ErrBadAddress = errors.New("bad address")

var xmodem = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16 is CRC-16/XMODEM, used by friendly addresses and get-method ids.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, xmodem)
}

type Address struct {
	Workchain  int32
	Hash       [32]byte
	Bounceable bool
	TestOnly   bool
}

// Parse accepts raw "wc:hex" form or 48-character base64 / base64url friendly form.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i > 0 {
		return parseRaw(s[:i], s[i+1:])
	}
	return parseFriendly(s)
}

func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func parseRaw(wc, h string) (Address, error) {
	w, err := strconv.ParseInt(wc, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("%w: workchain %q", ErrBadAddress, wc)
	}
	raw, err := hex.DecodeString(h)
	if err != nil || len(raw) != 32 {
		return Address{}, fmt.Errorf("%w: hash %q", ErrBadAddress, h)
	}
	a := Address{Workchain: int32(w), Bounceable: true}
	copy(a.Hash[:], raw)
	return a, nil
}

func parseFriendly(s string) (Address, error) {
	if len(s) != 48 {
		return Address{}, fmt.Errorf("%w: length %d", ErrBadAddress, len(s))
	}
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	raw, err := enc.DecodeString(s)
	if err != nil || len(raw) != 36 {
		return Address{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if CRC16(raw[:34]) != binary.BigEndian.Uint16(raw[34:]) {
		return Address{}, fmt.Errorf("%w: checksum mismatch", ErrBadAddress)
	}
	flag := raw[0]
	a := Address{TestOnly: flag&flagTestOnly != 0}
	switch flag &^ flagTestOnly {
	case flagBounceable:
		a.Bounceable = true
	case flagNonBounceable:
	default:
		return Address{}, fmt.Errorf("%w: flag %02x", ErrBadAddress, flag)
	}
	a.Workchain = int32(int8(raw[1]))
	copy(a.Hash[:], raw[2:34])
	return a, nil
}

// Raw returns "wc:hex".
func (a Address) Raw() string {
	return fmt.Sprintf("%d:%s", a.Workchain, hex.EncodeToString(a.Hash[:]))
}

// String returns the url-safe friendly form.
func (a Address) String() string {
	raw := make([]byte, 36)
	raw[0] = flagNonBounceable
	if a.Bounceable {
		raw[0] = flagBounceable
	}
	if a.TestOnly {
		raw[0] |= flagTestOnly
	}
	raw[1] = byte(int8(a.Workchain))
	copy(raw[2:34], a.Hash[:])
	binary.BigEndian.PutUint16(raw[34:], CRC16(raw[:34]))
	return base64.URLEncoding.EncodeToString(raw)
}

// AccountID is the lite-server form of the address.
func (a Address) AccountID() tl.AccountID {
	return tl.AccountID{Workchain: a.Workchain, ID: a.Hash}
}
