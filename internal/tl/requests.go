package tl

// Requests are serialized into liteServer.query.data.

type GetMasterchainInfo struct{}

func (GetMasterchainInfo) TLID() uint32          { return IDGetMasterchainInfo }
func (GetMasterchainInfo) MarshalTL(*Encoder)    {}
func (*GetMasterchainInfo) UnmarshalTL(*Decoder) {}

type GetTime struct{}

func (GetTime) TLID() uint32          { return IDGetTime }
func (GetTime) MarshalTL(*Encoder)    {}
func (*GetTime) UnmarshalTL(*Decoder) {}

type GetVersion struct{}

func (GetVersion) TLID() uint32          { return IDGetVersion }
func (GetVersion) MarshalTL(*Encoder)    {}
func (*GetVersion) UnmarshalTL(*Decoder) {}

type SendMessage struct {
	Body []byte
}

func (*SendMessage) TLID() uint32             { return IDSendMessage }
func (m *SendMessage) MarshalTL(e *Encoder)   { e.WriteBytes(m.Body) }
func (m *SendMessage) UnmarshalTL(d *Decoder) { m.Body = d.ReadBytes() }

type GetBlockHeader struct {
	ID   BlockIDExt
	Mode int32
}

func (*GetBlockHeader) TLID() uint32 { return IDGetBlockHeader }
func (m *GetBlockHeader) MarshalTL(e *Encoder) {
	m.ID.marshal(e)
	e.WriteInt(m.Mode)
}
func (m *GetBlockHeader) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.Mode = d.ReadInt()
}

// Lookup modes.
const (
	LookupBySeqno int32 = 1
	LookupByLT    int32 = 2
	LookupByUtime int32 = 4
)

type LookupBlock struct {
	Mode  int32
	ID    BlockID
	LT    int64
	Utime int32
}

func (*LookupBlock) TLID() uint32 { return IDLookupBlock }
func (m *LookupBlock) MarshalTL(e *Encoder) {
	e.WriteInt(m.Mode)
	m.ID.marshal(e)
	if m.Mode&LookupByLT != 0 {
		e.WriteLong(m.LT)
	}
	if m.Mode&LookupByUtime != 0 {
		e.WriteInt(m.Utime)
	}
}
func (m *LookupBlock) UnmarshalTL(d *Decoder) {
	m.Mode = d.ReadInt()
	m.ID.unmarshal(d)
	if m.Mode&LookupByLT != 0 {
		m.LT = d.ReadLong()
	}
	if m.Mode&LookupByUtime != 0 {
		m.Utime = d.ReadInt()
	}
}

type GetAccountState struct {
	ID      BlockIDExt
	Account AccountID
}

func (*GetAccountState) TLID() uint32 { return IDGetAccountState }
func (m *GetAccountState) MarshalTL(e *Encoder) {
	m.ID.marshal(e)
	m.Account.marshal(e)
}
func (m *GetAccountState) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.Account.unmarshal(d)
}

type RunSmcMethod struct {
	Mode     uint32
	ID       BlockIDExt
	Account  AccountID
	MethodID int64
	Params   []byte
}

func (*RunSmcMethod) TLID() uint32 { return IDRunSmcMethod }
func (m *RunSmcMethod) MarshalTL(e *Encoder) {
	e.WriteUint(m.Mode)
	m.ID.marshal(e)
	m.Account.marshal(e)
	e.WriteLong(m.MethodID)
	e.WriteBytes(m.Params)
}
func (m *RunSmcMethod) UnmarshalTL(d *Decoder) {
	m.Mode = d.ReadID()
	m.ID.unmarshal(d)
	m.Account.unmarshal(d)
	m.MethodID = d.ReadLong()
	m.Params = d.ReadBytes()
}

type GetTransactions struct {
	Count   int32
	Account AccountID
	LT      int64
	Hash    [32]byte
}

func (*GetTransactions) TLID() uint32 { return IDGetTransactions }
func (m *GetTransactions) MarshalTL(e *Encoder) {
	e.WriteInt(m.Count)
	m.Account.marshal(e)
	e.WriteLong(m.LT)
	e.WriteInt256(m.Hash)
}
func (m *GetTransactions) UnmarshalTL(d *Decoder) {
	m.Count = d.ReadInt()
	m.Account.unmarshal(d)
	m.LT = d.ReadLong()
	m.Hash = d.ReadInt256()
}

type GetAllShardsInfo struct {
	ID BlockIDExt
}

func (*GetAllShardsInfo) TLID() uint32             { return IDGetAllShardsInfo }
func (m *GetAllShardsInfo) MarshalTL(e *Encoder)   { m.ID.marshal(e) }
func (m *GetAllShardsInfo) UnmarshalTL(d *Decoder) { m.ID.unmarshal(d) }

type GetConfigAll struct {
	Mode int32
	ID   BlockIDExt
}

func (*GetConfigAll) TLID() uint32 { return IDGetConfigAll }
func (m *GetConfigAll) MarshalTL(e *Encoder) {
	e.WriteInt(m.Mode)
	m.ID.marshal(e)
}
func (m *GetConfigAll) UnmarshalTL(d *Decoder) {
	m.Mode = d.ReadInt()
	m.ID.unmarshal(d)
}

// ListBlockTransactionsExt mode bits.
const (
	ListTxAfter        uint32 = 1 << 7
	ListTxReverseOrder uint32 = 1 << 6
	ListTxWantProof    uint32 = 1 << 5
	ListTxDefaultMode  uint32 = 1 | 2 | 4
)

type ListBlockTransactionsExt struct {
	ID    BlockIDExt
	Mode  uint32
	Count int32
	After *TransactionID3
}

func (*ListBlockTransactionsExt) TLID() uint32 { return IDListBlockTransactions }
func (m *ListBlockTransactionsExt) MarshalTL(e *Encoder) {
	mode := m.Mode
	if m.After != nil {
		mode |= ListTxAfter
	} else {
		mode &^= ListTxAfter
	}
	m.ID.marshal(e)
	e.WriteUint(mode)
	e.WriteInt(m.Count)
	if m.After != nil {
		e.WriteInt256(m.After.Account)
		e.WriteLong(m.After.LT)
	}
}
func (m *ListBlockTransactionsExt) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.Mode = d.ReadID()
	m.Count = d.ReadInt()
	if m.Mode&ListTxAfter != 0 {
		m.After = &TransactionID3{Account: d.ReadInt256(), LT: d.ReadLong()}
	}
}

type WaitMasterchainSeqno struct {
	Seqno     int32
	TimeoutMs int32
}

func (*WaitMasterchainSeqno) TLID() uint32 { return IDWaitMasterchainSeqno }
func (m *WaitMasterchainSeqno) MarshalTL(e *Encoder) {
	e.WriteInt(m.Seqno)
	e.WriteInt(m.TimeoutMs)
}
func (m *WaitMasterchainSeqno) UnmarshalTL(d *Decoder) {
	m.Seqno = d.ReadInt()
	m.TimeoutMs = d.ReadInt()
}
