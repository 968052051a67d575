package tl

import (
	"encoding/hex"
	"fmt"
)

// Object is any boxed TL value.
type Object interface {
	TLID() uint32
}

// Marshaler writes the body of a boxed object (without its constructor id).
type Marshaler interface {
	Object
	MarshalTL(e *Encoder)
}

// Unmarshaler reads the body of a boxed object (after its constructor id).
type Unmarshaler interface {
	Object
	UnmarshalTL(d *Decoder)
}

// Serialize returns id || body. It is for objects known to fit; use Marshal for caller data.
func Serialize(obj Marshaler) []byte {
	b, _ := Marshal(obj)
	return b
}

// Marshal returns id || body, failing when a bytes field exceeds the TL length limit.
func Marshal(obj Marshaler) ([]byte, error) {
	e := NewEncoder(64)
	e.WriteID(obj.TLID())
	obj.MarshalTL(e)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// ---- bare structures ----

type BlockID struct {
	Workchain int32
	Shard     int64
	Seqno     int32
}

func (b *BlockID) marshal(e *Encoder) {
	e.WriteInt(b.Workchain)
	e.WriteLong(b.Shard)
	e.WriteInt(b.Seqno)
}

func (b *BlockID) unmarshal(d *Decoder) {
	b.Workchain = d.ReadInt()
	b.Shard = d.ReadLong()
	b.Seqno = d.ReadInt()
}

type BlockIDExt struct {
	Workchain int32
	Shard     int64
	Seqno     int32
	RootHash  [32]byte
	FileHash  [32]byte
}

func (b *BlockIDExt) marshal(e *Encoder) {
	e.WriteInt(b.Workchain)
	e.WriteLong(b.Shard)
	e.WriteInt(b.Seqno)
	e.WriteInt256(b.RootHash)
	e.WriteInt256(b.FileHash)
}

func (b *BlockIDExt) unmarshal(d *Decoder) {
	b.Workchain = d.ReadInt()
	b.Shard = d.ReadLong()
	b.Seqno = d.ReadInt()
	b.RootHash = d.ReadInt256()
	b.FileHash = d.ReadInt256()
}

func (b BlockIDExt) ShortID() BlockID {
	return BlockID{Workchain: b.Workchain, Shard: b.Shard, Seqno: b.Seqno}
}

func (b BlockIDExt) String() string {
	return fmt.Sprintf("(%d,%016x,%d):%s:%s", b.Workchain, uint64(b.Shard), b.Seqno,
		hex.EncodeToString(b.RootHash[:]), hex.EncodeToString(b.FileHash[:]))
}

type ZeroStateIDExt struct {
	Workchain int32
	RootHash  [32]byte
	FileHash  [32]byte
}

type AccountID struct {
	Workchain int32
	ID        [32]byte
}

func (a *AccountID) marshal(e *Encoder) {
	e.WriteInt(a.Workchain)
	e.WriteInt256(a.ID)
}

func (a *AccountID) unmarshal(d *Decoder) {
	a.Workchain = d.ReadInt()
	a.ID = d.ReadInt256()
}

type TransactionID3 struct {
	Account [32]byte
	LT      int64
}

// ---- transport envelope ----

type AdnlMessageQuery struct {
	QueryID [32]byte
	Query   []byte
}

func (*AdnlMessageQuery) TLID() uint32 { return IDAdnlMessageQuery }
func (m *AdnlMessageQuery) MarshalTL(e *Encoder) {
	e.WriteInt256(m.QueryID)
	e.WriteBytes(m.Query)
}
func (m *AdnlMessageQuery) UnmarshalTL(d *Decoder) {
	m.QueryID = d.ReadInt256()
	m.Query = d.ReadBytes()
}

type AdnlMessageAnswer struct {
	QueryID [32]byte
	Answer  []byte
}

func (*AdnlMessageAnswer) TLID() uint32 { return IDAdnlMessageAnswer }
func (m *AdnlMessageAnswer) MarshalTL(e *Encoder) {
	e.WriteInt256(m.QueryID)
	e.WriteBytes(m.Answer)
}
func (m *AdnlMessageAnswer) UnmarshalTL(d *Decoder) {
	m.QueryID = d.ReadInt256()
	m.Answer = d.ReadBytes()
}

type TCPPing struct {
	RandomID int64
}

func (*TCPPing) TLID() uint32             { return IDTCPPing }
func (m *TCPPing) MarshalTL(e *Encoder)   { e.WriteLong(m.RandomID) }
func (m *TCPPing) UnmarshalTL(d *Decoder) { m.RandomID = d.ReadLong() }

type TCPPong struct {
	RandomID int64
}

func (*TCPPong) TLID() uint32             { return IDTCPPong }
func (m *TCPPong) MarshalTL(e *Encoder)   { e.WriteLong(m.RandomID) }
func (m *TCPPong) UnmarshalTL(d *Decoder) { m.RandomID = d.ReadLong() }

// LiteQuery wraps a serialized lite-server request.
type LiteQuery struct {
	Data []byte
}

func (*LiteQuery) TLID() uint32             { return IDLiteServerQuery }
func (m *LiteQuery) MarshalTL(e *Encoder)   { e.WriteBytes(m.Data) }
func (m *LiteQuery) UnmarshalTL(d *Decoder) { m.Data = d.ReadBytes() }

// ---- lite-server answers ----

type Error struct {
	Code    int32
	Message string
}

func (*Error) TLID() uint32 { return IDError }
func (m *Error) MarshalTL(e *Encoder) {
	e.WriteInt(m.Code)
	e.WriteString(m.Message)
}
func (m *Error) UnmarshalTL(d *Decoder) {
	m.Code = d.ReadInt()
	m.Message = d.ReadString()
}

type MasterchainInfo struct {
	Last          BlockIDExt
	StateRootHash [32]byte
	Init          ZeroStateIDExt
}

func (*MasterchainInfo) TLID() uint32 { return IDMasterchainInfo }
func (m *MasterchainInfo) MarshalTL(e *Encoder) {
	m.Last.marshal(e)
	e.WriteInt256(m.StateRootHash)
	e.WriteInt(m.Init.Workchain)
	e.WriteInt256(m.Init.RootHash)
	e.WriteInt256(m.Init.FileHash)
}
func (m *MasterchainInfo) UnmarshalTL(d *Decoder) {
	m.Last.unmarshal(d)
	m.StateRootHash = d.ReadInt256()
	m.Init.Workchain = d.ReadInt()
	m.Init.RootHash = d.ReadInt256()
	m.Init.FileHash = d.ReadInt256()
}

type CurrentTime struct {
	Now int32
}

func (*CurrentTime) TLID() uint32             { return IDCurrentTime }
func (m *CurrentTime) MarshalTL(e *Encoder)   { e.WriteInt(m.Now) }
func (m *CurrentTime) UnmarshalTL(d *Decoder) { m.Now = d.ReadInt() }

type Version struct {
	Mode         int32 `json:"mode"`
	Version      int32 `json:"version"`
	Capabilities int64 `json:"capabilities"`
	Now          int32 `json:"now"`
}

func (*Version) TLID() uint32 { return IDVersion }
func (m *Version) MarshalTL(e *Encoder) {
	e.WriteInt(m.Mode)
	e.WriteInt(m.Version)
	e.WriteLong(m.Capabilities)
	e.WriteInt(m.Now)
}
func (m *Version) UnmarshalTL(d *Decoder) {
	m.Mode = d.ReadInt()
	m.Version = d.ReadInt()
	m.Capabilities = d.ReadLong()
	m.Now = d.ReadInt()
}

type BlockHeader struct {
	ID          BlockIDExt
	Mode        int32
	HeaderProof []byte
}

func (*BlockHeader) TLID() uint32 { return IDBlockHeader }
func (m *BlockHeader) MarshalTL(e *Encoder) {
	m.ID.marshal(e)
	e.WriteInt(m.Mode)
	e.WriteBytes(m.HeaderProof)
}
func (m *BlockHeader) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.Mode = d.ReadInt()
	m.HeaderProof = d.ReadBytes()
}

type SendMsgStatus struct {
	Status int32
}

func (*SendMsgStatus) TLID() uint32             { return IDSendMsgStatus }
func (m *SendMsgStatus) MarshalTL(e *Encoder)   { e.WriteInt(m.Status) }
func (m *SendMsgStatus) UnmarshalTL(d *Decoder) { m.Status = d.ReadInt() }

type AccountState struct {
	ID         BlockIDExt
	ShardBlock BlockIDExt
	ShardProof []byte
	Proof      []byte
	State      []byte
}

func (*AccountState) TLID() uint32 { return IDAccountState }
func (m *AccountState) MarshalTL(e *Encoder) {
	m.ID.marshal(e)
	m.ShardBlock.marshal(e)
	e.WriteBytes(m.ShardProof)
	e.WriteBytes(m.Proof)
	e.WriteBytes(m.State)
}
func (m *AccountState) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.ShardBlock.unmarshal(d)
	m.ShardProof = d.ReadBytes()
	m.Proof = d.ReadBytes()
	m.State = d.ReadBytes()
}

// RunMethodResult fields after ShardBlock are present depending on Mode bits.
type RunMethodResult struct {
	Mode       uint32
	ID         BlockIDExt
	ShardBlock BlockIDExt
	ShardProof []byte
	Proof      []byte
	StateProof []byte
	InitC7     []byte
	LibExtras  []byte
	ExitCode   int32
	Result     []byte
}

func (*RunMethodResult) TLID() uint32 { return IDRunMethodResult }
func (m *RunMethodResult) MarshalTL(e *Encoder) {
	e.WriteUint(m.Mode)
	m.ID.marshal(e)
	m.ShardBlock.marshal(e)
	if m.Mode&1 != 0 {
		e.WriteBytes(m.ShardProof)
		e.WriteBytes(m.Proof)
	}
	if m.Mode&2 != 0 {
		e.WriteBytes(m.StateProof)
	}
	if m.Mode&8 != 0 {
		e.WriteBytes(m.InitC7)
	}
	if m.Mode&16 != 0 {
		e.WriteBytes(m.LibExtras)
	}
	e.WriteInt(m.ExitCode)
	if m.Mode&4 != 0 {
		e.WriteBytes(m.Result)
	}
}
func (m *RunMethodResult) UnmarshalTL(d *Decoder) {
	m.Mode = d.ReadID()
	m.ID.unmarshal(d)
	m.ShardBlock.unmarshal(d)
	if m.Mode&1 != 0 {
		m.ShardProof = d.ReadBytes()
		m.Proof = d.ReadBytes()
	}
	if m.Mode&2 != 0 {
		m.StateProof = d.ReadBytes()
	}
	if m.Mode&8 != 0 {
		m.InitC7 = d.ReadBytes()
	}
	if m.Mode&16 != 0 {
		m.LibExtras = d.ReadBytes()
	}
	m.ExitCode = d.ReadInt()
	if m.Mode&4 != 0 {
		m.Result = d.ReadBytes()
	}
}

type TransactionList struct {
	IDs          []BlockIDExt
	Transactions []byte
}

func (*TransactionList) TLID() uint32 { return IDTransactionList }
func (m *TransactionList) MarshalTL(e *Encoder) {
	e.WriteInt(int32(len(m.IDs)))
	for i := range m.IDs {
		m.IDs[i].marshal(e)
	}
	e.WriteBytes(m.Transactions)
}
func (m *TransactionList) UnmarshalTL(d *Decoder) {
	n := d.ReadVectorLen(80)
	m.IDs = make([]BlockIDExt, n)
	for i := range m.IDs {
		m.IDs[i].unmarshal(d)
	}
	m.Transactions = d.ReadBytes()
}

type BlockTransactionsExt struct {
	ID           BlockIDExt
	ReqCount     int32
	Incomplete   bool
	Transactions []byte
	Proof        []byte
}

func (*BlockTransactionsExt) TLID() uint32 { return IDBlockTransactionsExt }
func (m *BlockTransactionsExt) MarshalTL(e *Encoder) {
	m.ID.marshal(e)
	e.WriteInt(m.ReqCount)
	e.WriteBool(m.Incomplete)
	e.WriteBytes(m.Transactions)
	e.WriteBytes(m.Proof)
}
func (m *BlockTransactionsExt) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.ReqCount = d.ReadInt()
	m.Incomplete = d.ReadBool()
	m.Transactions = d.ReadBytes()
	m.Proof = d.ReadBytes()
}

type AllShardsInfo struct {
	ID    BlockIDExt
	Proof []byte
	Data  []byte
}

func (*AllShardsInfo) TLID() uint32 { return IDAllShardsInfo }
func (m *AllShardsInfo) MarshalTL(e *Encoder) {
	m.ID.marshal(e)
	e.WriteBytes(m.Proof)
	e.WriteBytes(m.Data)
}
func (m *AllShardsInfo) UnmarshalTL(d *Decoder) {
	m.ID.unmarshal(d)
	m.Proof = d.ReadBytes()
	m.Data = d.ReadBytes()
}

type ConfigInfo struct {
	Mode        int32
	ID          BlockIDExt
	StateProof  []byte
	ConfigProof []byte
}

func (*ConfigInfo) TLID() uint32 { return IDConfigInfo }
func (m *ConfigInfo) MarshalTL(e *Encoder) {
	e.WriteInt(m.Mode)
	m.ID.marshal(e)
	e.WriteBytes(m.StateProof)
	e.WriteBytes(m.ConfigProof)
}
func (m *ConfigInfo) UnmarshalTL(d *Decoder) {
	m.Mode = d.ReadInt()
	m.ID.unmarshal(d)
	m.StateProof = d.ReadBytes()
	m.ConfigProof = d.ReadBytes()
}
