package block_test

import (
	"testing"

	"tonlite/internal/block"
	"tonlite/internal/block/blocktest"
	"tonlite/internal/cell"
	"tonlite/internal/testutil"
)

func FuzzParseTransaction(f *testing.F) {
	var seeds [][]byte
	for _, c := range blocktest.TransactionChain([32]byte{1}, 100, 10, 3) {
		seeds = append(seeds, c.ToBOC())
	}
	testutil.FuzzDecoder(f, seeds, func(t *testing.T, data []byte) {
		root, err := cell.FromBOCSingle(data)
		if err != nil {
			return
		}
		tx, err := block.ParseTransaction(root)
		if err != nil {
			return
		}
		if tx.Hash != root.Hash() {
			t.Fatalf("transaction hash %x differs from its cell hash", tx.Hash)
		}
	})
}

func FuzzParseHeaderProof(f *testing.F) {
	seed := blocktest.BOC(blocktest.Header(blocktest.Info{Workchain: -1, SeqNo: 5, EndLT: 9}))
	testutil.FuzzDecoder(f, [][]byte{seed}, func(t *testing.T, data []byte) {
		_, _ = block.ParseHeaderProof(data)
	})
}
