package cell

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyCellHashAndBOC(t *testing.T) {
	c := BeginCell().MustEndCell()
	require.Equal(t, "96a296d224f285c67bee93c30f8a309157f0daa35dc5b87e410b78630a09cfc7", c.HashHex())
	require.Equal(t, "b5ee9c724101010100020000004cacb9cd", hex.EncodeToString(c.ToBOC()))
}

func TestHashVectors(t *testing.T) {
	c := BeginCell().StoreUInt(0x12345678, 32).MustEndCell()
	assert.Equal(t, "aa489eba2ad8e7d983fa6d16ccdb247e0ae9fb6caf8f8c45ea736db08b7c01ac", c.HashHex())

	c = BeginCell().StoreUInt(0b1010, 4).MustEndCell()
	assert.Equal(t, "9eba78194991774d6df927866c21975bbee3685deed07e31c8d1a719b2c788e6", c.HashHex())

	parent := BeginCell().StoreUInt(0xff, 8).StoreRef(BeginCell().MustEndCell()).MustEndCell()
	assert.Equal(t, "f3fbfc64ed54a6c26cabe65ea1b901b24c7e8aedeb7458a1c80489ea6fcaff93", parent.HashHex())
	assert.Equal(t, uint16(1), parent.Depth())
}

func TestBOCRoundTrip(t *testing.T) {
	leaf := BeginCell().StoreUInt(5, 3).MustEndCell()
	mid := BeginCell().StoreInt(-7, 17).StoreRef(leaf).MustEndCell()
	root := BeginCell().StoreBit(true).StoreRef(mid).StoreRef(leaf).MustEndCell()

	parsed, err := FromBOCSingle(root.ToBOC())
	require.NoError(t, err)
	require.Equal(t, root.Hash(), parsed.Hash())

	s := parsed.BeginParse()
	require.True(t, s.LoadBit())
	m := s.LoadRef()
	l := s.LoadRef()
	require.NoError(t, s.Err())
	ms := m.BeginParse()
	require.Equal(t, int64(-7), ms.LoadInt(17))
	require.Equal(t, uint64(5), l.BeginParse().LoadUInt(3))
}

func TestBOCRejectsCorruption(t *testing.T) {
	boc := BeginCell().StoreUInt(1, 8).MustEndCell().ToBOC()
	boc[len(boc)-5] ^= 0xff
	_, err := FromBOC(boc)
	require.ErrorIs(t, err, ErrBadBOC)

	_, err = FromBOC([]byte{1, 2, 3, 4, 5, 6, 7})
	require.ErrorIs(t, err, ErrBadBOC)
}

func TestBuilderOverflow(t *testing.T) {
	b := BeginCell()
	for i := 0; i < 16; i++ {
		b.StoreUInt(0, 64)
	}
	_, err := b.EndCell()
	require.ErrorIs(t, err, ErrCellOverflow)

	_, err = BeginCell().StoreUInt(8, 3).EndCell()
	require.Error(t, err)
}

func TestSliceBigIntAndCoins(t *testing.T) {
	v, _ := new(big.Int).SetString("-123456789012345678901234567890", 10)
	coins := big.NewInt(1_500_000_000)
	c := BeginCell().StoreBigInt(v, 257).StoreCoins(coins).MustEndCell()
	s := c.BeginParse()
	require.Zero(t, s.LoadBigInt(257).Cmp(v))
	require.Zero(t, s.LoadCoins().Cmp(coins))
	require.NoError(t, s.Err())
	require.Zero(t, s.BitsLeft())

	s.LoadUInt(1)
	require.ErrorIs(t, s.Err(), ErrUnderflow)
}

func TestDictBuildWalkLookup(t *testing.T) {
	items := []DictItem{
		{Key: Uint32Key(0), Value: BeginCell().StoreUInt(100, 16).MustEndCell()},
		{Key: Uint32Key(34), Value: BeginCell().StoreUInt(134, 16).MustEndCell()},
		{Key: Uint32Key(0xffffffff), Value: BeginCell().StoreUInt(7, 16).MustEndCell()},
	}
	root, err := BuildDict(32, items)
	require.NoError(t, err)

	parsed, err := FromBOCSingle(root.ToBOC())
	require.NoError(t, err)

	got := map[int32]uint64{}
	err = WalkDict(parsed, 32, func(key []byte, v *Slice) error {
		got[KeyInt32(key)] = v.LoadUInt(16)
		return v.Err()
	})
	require.NoError(t, err)
	require.Equal(t, map[int32]uint64{0: 100, 34: 134, -1: 7}, got)

	s, err := LookupDict(parsed, Uint32Key(34), 32)
	require.NoError(t, err)
	require.Equal(t, uint64(134), s.LoadUInt(16))

	_, err = LookupDict(parsed, Uint32Key(35), 32)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSliceRestrictAndToCell(t *testing.T) {
	c := BeginCell().StoreUInt(0xabcd, 16).StoreRef(BeginCell().MustEndCell()).MustEndCell()
	s := c.BeginParse()
	require.NoError(t, s.Restrict(4, 12, 0, 0))
	require.Equal(t, uint64(0xbc), s.PreloadUInt(8))
	sub, err := s.ToCell()
	require.NoError(t, err)
	require.Equal(t, 8, sub.BitsSize())
	require.Zero(t, sub.RefsNum())
}
