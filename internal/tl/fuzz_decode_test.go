package tl

import (
	"testing"

	"tonlite/internal/testutil"
)

func FuzzRegistryDecode(f *testing.F) {
	reg := DefaultRegistry()
	seeds := [][]byte{
		Serialize(&MasterchainInfo{Last: BlockIDExt{Workchain: -1, Seqno: 9}}),
		Serialize(&Error{Code: 651, Message: "block is not applied"}),
		Serialize(&AdnlMessageAnswer{Answer: Serialize(&CurrentTime{Now: 1})}),
		Serialize(&RunMethodResult{Mode: 4, ExitCode: 0, Result: []byte{0xb5, 0xee}}),
	}
	testutil.FuzzDecoder(f, seeds, func(t *testing.T, data []byte) {
		obj, err := reg.Decode(data)
		if err != nil {
			return
		}
		if m, ok := obj.(Marshaler); ok {
			if _, err := reg.Decode(Serialize(m)); err != nil {
				t.Fatalf("re-encoded %s does not decode: %v", Name(obj.TLID()), err)
			}
		}
	})
}
