package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tonlite/internal/address"
	"tonlite/internal/block"
	"tonlite/internal/cell"
	"tonlite/internal/liteerr"
	"tonlite/internal/tl"
	"tonlite/internal/tvm"
)

const (
	// MaxTransactions is the most transactions one getTransactions query may ask for.
	MaxTransactions = 16

	blockTxPage   = 256
	runMethodMode = 4
)

var ErrBrokenChain = errors.New("transaction hash chain broken")

// BlockHeader is a block id together with the decoded BlockInfo from its header proof.
type BlockHeader struct {
	ID tl.BlockIDExt
	block.BlockInfo
}

func methodName(id uint32) string {
	return strings.TrimPrefix(tl.Name(id), "liteServer.")
}

func decode[T tl.Object](reg *tl.Registry, data []byte) (T, error) {
	out, err := tl.DecodeAs[T](reg, data)
	if err != nil {
		return out, &liteerr.DecodeError{Type: fmt.Sprintf("%T", out), Err: err}
	}
	return out, nil
}

// marshal serializes caller-supplied data. Oversized fields are an invalid argument.
func marshal(obj tl.Marshaler) ([]byte, error) {
	b, err := tl.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", liteerr.ErrInvalidArgument, err)
	}
	return b, nil
}

// call sends req, decodes the answer as T and records the request in metrics.
func call[T tl.Object](ctx context.Context, p *Provider, req tl.Marshaler, priority bool) (T, error) {
	method := methodName(req.TLID())
	start := p.clk.Now()
	var out T
	data, err := marshal(req)
	if err != nil {
		return out, err
	}
	ans, err := p.SendLiteQuery(ctx, method, data, priority)
	if err == nil {
		out, err = decode[T](p.reg, ans)
	}
	p.opts.Metrics.ObserveRequest(p.addr, method, p.clk.Since(start), err)
	return out, err
}

func (p *Provider) GetTime(ctx context.Context) (int32, error) {
	res, err := call[*tl.CurrentTime](ctx, p, tl.GetTime{}, false)
	if err != nil {
		return 0, err
	}
	return res.Now, nil
}

func (p *Provider) GetVersion(ctx context.Context) (*tl.Version, error) {
	return call[*tl.Version](ctx, p, tl.GetVersion{}, false)
}

// SendMessage submits a serialized external message BoC and returns the node's status.
func (p *Provider) SendMessage(ctx context.Context, body []byte) (int32, error) {
	if len(body) == 0 {
		return 0, fmt.Errorf("%w: empty message", liteerr.ErrInvalidArgument)
	}
	res, err := call[*tl.SendMsgStatus](ctx, p, &tl.SendMessage{Body: body}, false)
	if err != nil {
		return 0, err
	}
	return res.Status, nil
}

// GetMasterchainInfo fetches the current masterchain head and caches it.
func (p *Provider) GetMasterchainInfo(ctx context.Context) (*tl.MasterchainInfo, error) {
	return p.masterchainInfo(ctx, false)
}

func (p *Provider) masterchainInfo(ctx context.Context, priority bool) (*tl.MasterchainInfo, error) {
	info, err := call[*tl.MasterchainInfo](ctx, p, tl.GetMasterchainInfo{}, priority)
	if err != nil {
		return nil, err
	}
	p.setLast(info)
	return info, nil
}

// RefreshHeight fetches the masterchain head on the priority lane. Concurrent callers share one query.
func (p *Provider) RefreshHeight(ctx context.Context) (tl.BlockIDExt, error) {
	v, err, _ := p.heightSF.Do("height", func() (any, error) {
		info, err := p.masterchainInfo(ctx, true)
		if err != nil {
			return nil, err
		}
		return info.Last, nil
	})
	if err != nil {
		return tl.BlockIDExt{}, err
	}
	return v.(tl.BlockIDExt), nil
}

// Height returns the cached masterchain head, fetching it once if none is known yet.
func (p *Provider) Height(ctx context.Context) (tl.BlockIDExt, error) {
	if id, ok := p.LastMasterchain(); ok {
		return id, nil
	}
	return p.RefreshHeight(ctx)
}

func (p *Provider) heightOr(ctx context.Context, id *tl.BlockIDExt) (tl.BlockIDExt, error) {
	if id != nil {
		return *id, nil
	}
	return p.Height(ctx)
}

// WaitMasterchainSeqno sends req prefixed by waitMasterchainSeqno and returns the raw answer.
func (p *Provider) WaitMasterchainSeqno(ctx context.Context, seqno int32, timeout time.Duration, req tl.Marshaler, priority bool) ([]byte, error) {
	body, err := marshal(req)
	if err != nil {
		return nil, err
	}
	data := tl.Serialize(&tl.WaitMasterchainSeqno{Seqno: seqno, TimeoutMs: int32(timeout.Milliseconds())})
	data = append(data, body...)
	return p.SendLiteQuery(ctx, methodName(req.TLID()), data, priority)
}

func (p *Provider) lookupBlock(ctx context.Context, req *tl.LookupBlock) (*BlockHeader, error) {
	res, err := call[*tl.BlockHeader](ctx, p, req, false)
	if err != nil {
		return nil, err
	}
	return parseHeader(res)
}

func (p *Provider) LookupBlockBySeqno(ctx context.Context, workchain int32, shard int64, seqno int32) (*BlockHeader, error) {
	return p.lookupBlock(ctx, &tl.LookupBlock{
		Mode: tl.LookupBySeqno,
		ID:   tl.BlockID{Workchain: workchain, Shard: shard, Seqno: seqno},
	})
}

func (p *Provider) LookupBlockByLT(ctx context.Context, workchain int32, shard int64, lt int64) (*BlockHeader, error) {
	return p.lookupBlock(ctx, &tl.LookupBlock{
		Mode: tl.LookupByLT,
		ID:   tl.BlockID{Workchain: workchain, Shard: shard},
		LT:   lt,
	})
}

func (p *Provider) LookupBlockByUtime(ctx context.Context, workchain int32, shard int64, utime int32) (*BlockHeader, error) {
	return p.lookupBlock(ctx, &tl.LookupBlock{
		Mode:  tl.LookupByUtime,
		ID:    tl.BlockID{Workchain: workchain, Shard: shard},
		Utime: utime,
	})
}

func (p *Provider) GetBlockHeader(ctx context.Context, id tl.BlockIDExt) (*BlockHeader, error) {
	res, err := call[*tl.BlockHeader](ctx, p, &tl.GetBlockHeader{ID: id}, false)
	if err != nil {
		return nil, err
	}
	return parseHeader(res)
}

func parseHeader(res *tl.BlockHeader) (*BlockHeader, error) {
	info, err := block.ParseHeaderProof(res.HeaderProof)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "BlockInfo", Err: err}
	}
	return &BlockHeader{ID: res.ID, BlockInfo: *info}, nil
}

// GetBlockTransactions lists every transaction of a block, paging until the node reports it is done.
func (p *Provider) GetBlockTransactions(ctx context.Context, id tl.BlockIDExt) ([]*block.Transaction, error) {
	var (
		out   []*block.Transaction
		after *tl.TransactionID3
	)
	for {
		res, err := call[*tl.BlockTransactionsExt](ctx, p, &tl.ListBlockTransactionsExt{
			ID:    id,
			Mode:  tl.ListTxDefaultMode,
			Count: blockTxPage,
			After: after,
		}, false)
		if err != nil {
			return nil, err
		}
		page, err := block.ParseTransactions(res.Transactions)
		if err != nil {
			return nil, &liteerr.DecodeError{Type: "Transaction", Err: err}
		}
		out = append(out, page...)
		if !res.Incomplete {
			return out, nil
		}
		if len(page) == 0 {
			return nil, &liteerr.ProviderError{Op: "listBlockTransactionsExt", Err: errors.New("incomplete answer without transactions")}
		}
		last := page[len(page)-1]
		after = &tl.TransactionID3{Account: last.Account, LT: int64(last.LT)}
	}
}

// GetAllShardsInfo lists the shard heads referenced by a masterchain block, the cached head when id is nil.
func (p *Provider) GetAllShardsInfo(ctx context.Context, id *tl.BlockIDExt) ([]tl.BlockIDExt, error) {
	mc, err := p.heightOr(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := call[*tl.AllShardsInfo](ctx, p, &tl.GetAllShardsInfo{ID: mc}, false)
	if err != nil {
		return nil, err
	}
	shards, err := block.ParseShardHashes(res.Data)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "ShardHashes", Err: err}
	}
	return shards, nil
}

// GetConfigAll returns every blockchain config param at id, the cached head when id is nil.
func (p *Provider) GetConfigAll(ctx context.Context, id *tl.BlockIDExt) (map[int32]*cell.Cell, error) {
	mc, err := p.heightOr(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := call[*tl.ConfigInfo](ctx, p, &tl.GetConfigAll{ID: mc}, false)
	if err != nil {
		return nil, err
	}
	params, err := block.ParseConfigProof(res.ConfigProof)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "ConfigParams", Err: err}
	}
	return params, nil
}

// GetConfigParams is GetConfigAll narrowed to the listed params. Missing params are left out.
func (p *Provider) GetConfigParams(ctx context.Context, id *tl.BlockIDExt, params ...int32) (map[int32]*cell.Cell, error) {
	all, err := p.GetConfigAll(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[int32]*cell.Cell, len(params))
	for _, k := range params {
		if c, ok := all[k]; ok {
			out[k] = c
		}
	}
	return out, nil
}

func (p *Provider) GetAccountState(ctx context.Context, addr address.Address) (*block.AccountState, error) {
	mc, err := p.Height(ctx)
	if err != nil {
		return nil, err
	}
	res, err := call[*tl.AccountState](ctx, p, &tl.GetAccountState{ID: mc, Account: addr.AccountID()}, false)
	if err != nil {
		return nil, err
	}
	st, err := block.ParseAccountState(res, addr.Hash)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "AccountState", Err: err}
	}
	return st, nil
}

// GetTransactions fetches up to count transactions of addr going back from (lt, hash).
// Every transaction must link to the next through its previous hash and lt.
func (p *Provider) GetTransactions(ctx context.Context, addr address.Address, count int, lt uint64, hash [32]byte) ([]*block.Transaction, error) {
	if count <= 0 || count > MaxTransactions {
		return nil, fmt.Errorf("%w: count %d not in 1..%d", liteerr.ErrInvalidArgument, count, MaxTransactions)
	}
	res, err := call[*tl.TransactionList](ctx, p, &tl.GetTransactions{
		Count:   int32(count),
		Account: addr.AccountID(),
		LT:      int64(lt),
		Hash:    hash,
	}, false)
	if err != nil {
		return nil, err
	}
	txs, err := block.ParseTransactions(res.Transactions)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "Transaction", Err: err}
	}
	wantLT, wantHash := lt, hash
	for i, tx := range txs {
		if tx.LT != wantLT || tx.Hash != wantHash {
			return nil, &liteerr.ProviderError{
				Op:  "getTransactions",
				Err: fmt.Errorf("%w at %d: got lt %d, want %d", ErrBrokenChain, i, tx.LT, wantLT),
			}
		}
		wantLT, wantHash = tx.PrevTxLT, tx.PrevTxHash
	}
	return txs, nil
}

// MethodID maps a get-method name to its id. Decimal names are taken as the id itself.
func MethodID(name string) int64 {
	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		return id
	}
	return int64(address.CRC16([]byte(name))) | 0x10000
}

// RunSmcMethod runs a get-method at the cached head. A non-zero exit code is a *liteerr.MethodError.
func (p *Provider) RunSmcMethod(ctx context.Context, addr address.Address, method string, stack []any) ([]any, error) {
	params, err := tvm.Encode(stack)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", liteerr.ErrInvalidArgument, err)
	}
	mc, err := p.Height(ctx)
	if err != nil {
		return nil, err
	}
	res, err := call[*tl.RunMethodResult](ctx, p, &tl.RunSmcMethod{
		Mode:     runMethodMode,
		ID:       mc,
		Account:  addr.AccountID(),
		MethodID: MethodID(method),
		Params:   params.ToBOC(),
	}, false)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &liteerr.MethodError{Address: addr.String(), Method: method, ExitCode: res.ExitCode}
	}
	root, err := cell.FromBOCSingle(res.Result)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "VmStack", Err: err}
	}
	out, err := tvm.Decode(root)
	if err != nil {
		return nil, &liteerr.DecodeError{Type: "VmStack", Err: err}
	}
	return out, nil
}
