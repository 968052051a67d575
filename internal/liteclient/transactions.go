package liteclient

import (
	"context"
	"fmt"

	"tonlite/internal/block"
	"tonlite/internal/liteerr"
	"tonlite/internal/provider"
)

type txPage func(ctx context.Context, lt uint64, hash [32]byte, count int) ([]*block.Transaction, error)

// collectTransactions pages back through an account history starting at its last transaction,
// newest first. Transactions newer than fromLT are skipped when fromLT is set. The walk stops at
// limit, at the first transaction at or below toLT when toLT is set, or at the start of the history.
func collectTransactions(ctx context.Context, st *block.AccountState, fetch txPage, limit int, fromLT, toLT uint64) ([]*block.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d", liteerr.ErrInvalidArgument, limit)
	}
	if !st.Exists || st.LastTxLT == 0 {
		return nil, nil
	}
	var out []*block.Transaction
	lt, hash := st.LastTxLT, st.LastTxHash
	for lt != 0 {
		txs, err := fetch(ctx, lt, hash, provider.MaxTransactions)
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			break
		}
		for _, tx := range txs {
			if toLT > 0 && tx.LT <= toLT {
				return out, nil
			}
			if fromLT > 0 && tx.LT > fromLT {
				continue
			}
			out = append(out, tx)
			if len(out) >= limit {
				return out, nil
			}
		}
		last := txs[len(txs)-1]
		lt, hash = last.PrevTxLT, last.PrevTxHash
	}
	return out, nil
}
