package tvm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tonlite/internal/address"
	"tonlite/internal/cell"
)

func TestEncodeDecodeStack(t *testing.T) {
	huge, _ := new(big.Int).SetString("-57896044618658097711785492504343953926634992332820282019728792003956564819968", 10)
	leaf := cell.BeginCell().StoreUInt(0xbeef, 16).MustEndCell()
	in := []any{
		nil,
		7,
		huge,
		leaf,
		[]any{1, []any{}, leaf},
	}
	root, err := Encode(in)
	require.NoError(t, err)

	parsed, err := cell.FromBOCSingle(root.ToBOC())
	require.NoError(t, err)
	out, err := Decode(parsed)
	require.NoError(t, err)
	require.Len(t, out, 5)

	require.Nil(t, out[0])
	require.Zero(t, out[1].(*big.Int).Cmp(big.NewInt(7)))
	require.Zero(t, out[2].(*big.Int).Cmp(huge))
	require.Equal(t, leaf.Hash(), out[3].(*cell.Cell).Hash())

	tuple := out[4].([]any)
	require.Len(t, tuple, 3)
	require.Zero(t, tuple[0].(*big.Int).Cmp(big.NewInt(1)))
	require.Empty(t, tuple[1].([]any))
	require.Equal(t, leaf.Hash(), tuple[2].(*cell.Cell).Hash())
}

func TestEmptyStack(t *testing.T) {
	root, err := Encode(nil)
	require.NoError(t, err)
	require.Equal(t, 24, root.BitsSize())
	out, err := Decode(root)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSliceValueKeepsBounds(t *testing.T) {
	a := address.MustParse("0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8")
	root, err := Encode([]any{a})
	require.NoError(t, err)
	out, err := Decode(root)
	require.NoError(t, err)

	s := out[0].(*cell.Slice)
	require.Equal(t, 267, s.BitsLeft())
	got, err := SliceAddress(s)
	require.NoError(t, err)
	require.Equal(t, a.Raw(), got.Raw())
}

func TestUnsupportedValue(t *testing.T) {
	_, err := Encode([]any{"text"})
	require.ErrorIs(t, err, ErrUnsupported)

	nan := cell.BeginCell().StoreUInt(1, 24).StoreRef(cell.BeginCell().MustEndCell()).StoreUInt(0x02ff, 16).MustEndCell()
	_, err = Decode(nan)
	require.ErrorIs(t, err, ErrUnsupported)
}
