package block

import (
	"fmt"
	"math/big"

	"tonlite/internal/cell"
	"tonlite/internal/tl"
)

// shard_state#9023afe2 bits before the first ref we need, plus before_split.
const shardStateHeadBits = 32 + 32 + 104 + 32 + 32 + 32 + 64 + 32 + 1

// ParseConfigProof decodes the ConfigParams dictionary from a getConfigAll config proof.
func ParseConfigProof(boc []byte) (map[int32]*cell.Cell, error) {
	root, err := cell.FromBOCSingle(boc)
	if err != nil {
		return nil, err
	}
	state, err := unwrapProof(root)
	if err != nil {
		return nil, err
	}
	s := state.BeginParse()
	if tag := s.LoadUInt(32); tag != tagShardState {
		return nil, fmt.Errorf("%w: shard_state %08x", ErrBadTag, tag)
	}
	s.SkipBits(shardStateHeadBits - 32)
	s.LoadRef() // out_msg_queue_info
	s.LoadRef() // accounts
	s.LoadRef() // ^[ ... ]
	custom := s.LoadMaybeRef()
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("shard_state: %w", err)
	}
	if custom == nil {
		return nil, fmt.Errorf("block: state has no masterchain extra")
	}
	return parseMcStateExtraConfig(custom)
}

func parseMcStateExtraConfig(c *cell.Cell) (map[int32]*cell.Cell, error) {
	s := c.BeginParse()
	if tag := s.LoadUInt(16); tag != tagMcExtra {
		return nil, fmt.Errorf("%w: mc_state_extra %04x", ErrBadTag, tag)
	}
	s.LoadDictE() // shard_hashes
	s.SkipBits(256)
	dict := s.LoadRef()
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("mc_state_extra: %w", err)
	}
	out := make(map[int32]*cell.Cell)
	err := cell.WalkDict(dict, 32, func(key []byte, v *cell.Slice) error {
		param := v.LoadRef()
		if err := v.Err(); err != nil {
			return err
		}
		out[cell.KeyInt32(key)] = param
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config params: %w", err)
	}
	return out, nil
}

// ShardAccount is what the shard state records for one account.
type ShardAccount struct {
	Balance    *big.Int
	LastTxHash [32]byte
	LastTxLT   uint64
	Account    *cell.Cell
}

// AccountState is the decoded answer of getAccountState.
type AccountState struct {
	Block      tl.BlockIDExt
	ShardBlock tl.BlockIDExt
	Exists     bool
	Balance    *big.Int
	LastTxLT   uint64
	LastTxHash [32]byte
	Raw        *cell.Cell
}

// FindShardAccount locates accountHash inside the state proof roots of a getAccountState answer.
func FindShardAccount(proof []byte, accountHash [32]byte) (*ShardAccount, error) {
	roots, err := cell.FromBOC(proof)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		st, err := unwrapProof(r)
		if err != nil {
			continue
		}
		s := st.BeginParse()
		if s.PreloadUInt(32) != tagShardState {
			continue
		}
		return shardAccountFromState(st, accountHash)
	}
	return nil, fmt.Errorf("block: no shard state in account proof")
}

func shardAccountFromState(st *cell.Cell, accountHash [32]byte) (*ShardAccount, error) {
	s := st.BeginParse()
	s.SkipBits(shardStateHeadBits)
	s.LoadRef() // out_msg_queue_info
	accounts := s.LoadRef()
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("shard_state: %w", err)
	}
	// ahme_root$1 root:^(HashmapAug 256 ShardAccount DepthBalanceInfo) extra:DepthBalanceInfo
	as := accounts.BeginParse()
	root := as.LoadMaybeRef()
	if err := as.Err(); err != nil {
		return nil, fmt.Errorf("shard accounts: %w", err)
	}
	leaf, err := cell.LookupDict(root, accountHash[:], 256)
	if err != nil {
		return nil, fmt.Errorf("shard accounts: %w", err)
	}
	// depth_balance$_ split_depth:(#<= 30) balance:CurrencyCollection
	leaf.SkipBits(5)
	sa := &ShardAccount{Balance: leaf.LoadCoins()}
	leaf.LoadDictE() // extra currencies
	// account_descr$_ account:^Account last_trans_hash:bits256 last_trans_lt:uint64
	sa.Account = leaf.LoadRef()
	sa.LastTxHash = leaf.LoadHash()
	sa.LastTxLT = leaf.LoadUInt(64)
	if err := leaf.Err(); err != nil {
		return nil, fmt.Errorf("shard account: %w", err)
	}
	return sa, nil
}

// ParseAccountState combines the raw state with the shard account found in the proof.
func ParseAccountState(res *tl.AccountState, accountHash [32]byte) (*AccountState, error) {
	out := &AccountState{Block: res.ID, ShardBlock: res.ShardBlock, Balance: new(big.Int)}
	if len(res.State) == 0 {
		return out, nil
	}
	raw, err := cell.FromBOCSingle(res.State)
	if err != nil {
		return nil, fmt.Errorf("account state: %w", err)
	}
	out.Raw = raw
	// account_none$0
	if raw.BitsSize() == 0 || !raw.BeginParse().LoadBit() {
		return out, nil
	}
	out.Exists = true
	sa, err := FindShardAccount(res.Proof, accountHash)
	if err != nil {
		return nil, err
	}
	if sa.Account != nil && !sa.Account.IsSpecial() {
		if sa.Account.Hash() != raw.Hash() {
			return nil, fmt.Errorf("block: account cell does not match shard account")
		}
	}
	out.Balance = sa.Balance
	out.LastTxLT = sa.LastTxLT
	out.LastTxHash = sa.LastTxHash
	return out, nil
}
