package tl

import (
	"fmt"
	"sync"
)

type entry struct {
	name string
	new  func() Unmarshaler
}

// Registry maps constructor ids to decoders. It is built once and never mutated,
// so one instance is shared by every provider.
type Registry struct {
	entries map[uint32]entry
}

func newEntry[T any, PT interface {
	*T
	Unmarshaler
}]() entry {
	var sample PT = new(T)
	return entry{
		name: Name(sample.TLID()),
		new:  func() Unmarshaler { return PT(new(T)) },
	}
}

func buildRegistry() *Registry {
	list := []entry{
		newEntry[AdnlMessageQuery](),
		newEntry[AdnlMessageAnswer](),
		newEntry[TCPPing](),
		newEntry[TCPPong](),
		newEntry[LiteQuery](),
		newEntry[Error](),
		newEntry[MasterchainInfo](),
		newEntry[CurrentTime](),
		newEntry[Version](),
		newEntry[BlockHeader](),
		newEntry[SendMsgStatus](),
		newEntry[AccountState](),
		newEntry[RunMethodResult](),
		newEntry[TransactionList](),
		newEntry[BlockTransactionsExt](),
		newEntry[AllShardsInfo](),
		newEntry[ConfigInfo](),
		newEntry[GetMasterchainInfo](),
		newEntry[GetTime](),
		newEntry[GetVersion](),
		newEntry[SendMessage](),
		newEntry[GetBlockHeader](),
		newEntry[LookupBlock](),
		newEntry[GetAccountState](),
		newEntry[RunSmcMethod](),
		newEntry[GetTransactions](),
		newEntry[GetAllShardsInfo](),
		newEntry[GetConfigAll](),
		newEntry[ListBlockTransactionsExt](),
		newEntry[WaitMasterchainSeqno](),
	}
	r := &Registry{entries: make(map[uint32]entry, len(list))}
	for _, e := range list {
		r.entries[e.new().TLID()] = e
	}
	return r
}

var defaultRegistry = sync.OnceValue(buildRegistry)

// DefaultRegistry returns the process-wide lite-server schema.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

func (r *Registry) Known(id uint32) bool {
	_, ok := r.entries[id]
	return ok
}

// DecodeFrom reads one boxed object from d, leaving anything after it unread.
func (r *Registry) DecodeFrom(d *Decoder) (Object, error) {
	id := d.ReadID()
	if err := d.Err(); err != nil {
		return nil, err
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("tl: unknown constructor %08x", id)
	}
	obj := e.new()
	obj.UnmarshalTL(d)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("tl: decode %s: %w", e.name, err)
	}
	return obj, nil
}

// Decode reads exactly one boxed object.
func (r *Registry) Decode(data []byte) (Object, error) {
	d := NewDecoder(data)
	obj, err := r.DecodeFrom(d)
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("tl: %d trailing bytes after %s", d.Remaining(), Name(obj.TLID()))
	}
	return obj, nil
}

// DecodeAs decodes data and checks that it is a T.
func DecodeAs[T Object](r *Registry, data []byte) (T, error) {
	var zero T
	obj, err := r.Decode(data)
	if err != nil {
		return zero, err
	}
	out, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("tl: got %s, want %T", Name(obj.TLID()), zero)
	}
	return out, nil
}
