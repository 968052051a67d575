package cell

import (
	"testing"

	"tonlite/internal/testutil"
)

func FuzzFromBOC(f *testing.F) {
	leaf := BeginCell().StoreUInt(0xbeef, 16).MustEndCell()
	root := BeginCell().StoreUInt(1, 8).StoreRef(leaf).StoreRef(leaf).MustEndCell()
	seeds := [][]byte{
		root.ToBOC(),
		ToBOCMulti(root, leaf),
		BeginCell().MustEndCell().ToBOC(),
	}
	testutil.FuzzDecoder(f, seeds, func(t *testing.T, data []byte) {
		roots, err := FromBOC(data)
		if err != nil {
			return
		}
		for _, r := range roots {
			_ = r.Hash()
		}
	})
}
