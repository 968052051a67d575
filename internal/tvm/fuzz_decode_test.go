package tvm

import (
	"math/big"
	"testing"

	"tonlite/internal/cell"
	"tonlite/internal/testutil"
)

func FuzzDecodeStack(f *testing.F) {
	var seeds [][]byte
	for _, stack := range [][]any{nil, {1, big.NewInt(-5)}, {nil, []any{2, 3}}} {
		root, err := Encode(stack)
		if err != nil {
			f.Fatal(err)
		}
		seeds = append(seeds, root.ToBOC())
	}
	testutil.FuzzDecoder(f, seeds, func(t *testing.T, data []byte) {
		root, err := cell.FromBOCSingle(data)
		if err != nil {
			return
		}
		_, _ = Decode(root)
	})
}
