package block

import (
	"fmt"

	"tonlite/internal/cell"
)

const tagTransaction = 0b0111

// Transaction is the fixed-layout head of a transaction cell plus the cell itself.
type Transaction struct {
	Account     [32]byte
	LT          uint64
	PrevTxHash  [32]byte
	PrevTxLT    uint64
	Now         uint32
	OutMsgCount uint16
	Hash        [32]byte
	Cell        *cell.Cell
}

func ParseTransaction(c *cell.Cell) (*Transaction, error) {
	s := c.BeginParse()
	if tag := s.LoadUInt(4); tag != tagTransaction {
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("transaction: %w", err)
		}
		return nil, fmt.Errorf("%w: transaction %x", ErrBadTag, tag)
	}
	tx := &Transaction{
		Account:     s.LoadHash(),
		LT:          s.LoadUInt(64),
		PrevTxHash:  s.LoadHash(),
		PrevTxLT:    s.LoadUInt(64),
		Now:         uint32(s.LoadUInt(32)),
		OutMsgCount: uint16(s.LoadUInt(15)),
		Hash:        c.Hash(),
		Cell:        c,
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	return tx, nil
}

// ParseTransactions parses every root of a transactions BoC in order.
func ParseTransactions(boc []byte) ([]*Transaction, error) {
	if len(boc) == 0 {
		return nil, nil
	}
	roots, err := cell.FromBOC(boc)
	if err != nil {
		return nil, err
	}
	out := make([]*Transaction, 0, len(roots))
	for i, r := range roots {
		tx, err := ParseTransaction(r)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out = append(out, tx)
	}
	return out, nil
}
