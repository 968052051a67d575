// Package liteclient exposes lite-server access through a single-node Client and a
// multi-node Balancer that share one API.
package liteclient

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"tonlite/internal/address"
	"tonlite/internal/block"
	"tonlite/internal/cell"
	"tonlite/internal/liteerr"
	"tonlite/internal/provider"
	"tonlite/internal/tl"
)

// Network is the global id of a TON network.
type Network int32

const (
	Mainnet Network = -239
	Testnet Network = -3
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	default:
		return fmt.Sprintf("network(%d)", int32(n))
	}
}

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	}
	return 0, fmt.Errorf("%w: unknown network %q", liteerr.ErrInvalidArgument, s)
}

// API is what higher-level code needs from a lite-server connection.
type API interface {
	Connect(ctx context.Context) error
	Close() error
	SendMessage(ctx context.Context, boc []byte) error
	RunGetMethod(ctx context.Context, addr address.Address, method string, stack []any) ([]any, error)
	GetAccountState(ctx context.Context, addr address.Address) (*block.AccountState, error)
	GetTransactions(ctx context.Context, addr address.Address, limit int, fromLT, toLT uint64) ([]*block.Transaction, error)
	GetBlockchainConfig(ctx context.Context) (map[int32]*cell.Cell, error)
}

var (
	_ API = (*Client)(nil)
	_ API = (*Balancer)(nil)
)

const DefaultHeaderCacheSize = 1024

type Options struct {
	Network  Network
	Provider provider.Options
	// HeaderCacheSize bounds the block header cache. Headers never change once a block exists.
	HeaderCacheSize int
}

// Client is a thin handle over one Provider.
type Client struct {
	p       *provider.Provider
	network Network
	headers *lru.Cache[tl.BlockIDExt, *provider.BlockHeader]
}

func NewClient(node provider.Node, opts Options) (*Client, error) {
	if opts.Network == 0 {
		opts.Network = Mainnet
	}
	if opts.HeaderCacheSize <= 0 {
		opts.HeaderCacheSize = DefaultHeaderCacheSize
	}
	headers, err := lru.New[tl.BlockIDExt, *provider.BlockHeader](opts.HeaderCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{p: provider.New(node, opts.Provider), network: opts.Network, headers: headers}, nil
}

func (c *Client) Provider() *provider.Provider { return c.p }
func (c *Client) Network() Network             { return c.network }
func (c *Client) Addr() string                 { return c.p.Addr() }
func (c *Client) Connected() bool              { return c.p.Connected() }

func (c *Client) Connect(ctx context.Context) error   { return c.p.Connect(ctx) }
func (c *Client) Reconnect(ctx context.Context) error { return c.p.Reconnect(ctx) }
func (c *Client) Close() error                        { return c.p.Close() }

func (c *Client) SendMessage(ctx context.Context, boc []byte) error {
	_, err := c.p.SendMessage(ctx, boc)
	return err
}

func (c *Client) RunGetMethod(ctx context.Context, addr address.Address, method string, stack []any) ([]any, error) {
	return c.p.RunSmcMethod(ctx, addr, method, stack)
}

func (c *Client) GetAccountState(ctx context.Context, addr address.Address) (*block.AccountState, error) {
	return c.p.GetAccountState(ctx, addr)
}

// GetTransactions walks the account history back from its last transaction.
// See collectTransactions for the meaning of fromLT and toLT.
func (c *Client) GetTransactions(ctx context.Context, addr address.Address, limit int, fromLT, toLT uint64) ([]*block.Transaction, error) {
	st, err := c.p.GetAccountState(ctx, addr)
	if err != nil {
		return nil, err
	}
	return collectTransactions(ctx, st, func(ctx context.Context, lt uint64, hash [32]byte, count int) ([]*block.Transaction, error) {
		return c.p.GetTransactions(ctx, addr, count, lt, hash)
	}, limit, fromLT, toLT)
}

func (c *Client) GetBlockchainConfig(ctx context.Context) (map[int32]*cell.Cell, error) {
	return c.p.GetConfigAll(ctx, nil)
}

func (c *Client) GetConfigParams(ctx context.Context, params ...int32) (map[int32]*cell.Cell, error) {
	return c.p.GetConfigParams(ctx, nil, params...)
}

func (c *Client) GetMasterchainInfo(ctx context.Context) (*tl.MasterchainInfo, error) {
	return c.p.GetMasterchainInfo(ctx)
}

func (c *Client) GetTime(ctx context.Context) (int32, error) { return c.p.GetTime(ctx) }

func (c *Client) GetVersion(ctx context.Context) (*tl.Version, error) { return c.p.GetVersion(ctx) }

// GetBlockHeader serves repeated lookups of the same block from cache.
func (c *Client) GetBlockHeader(ctx context.Context, id tl.BlockIDExt) (*provider.BlockHeader, error) {
	if h, ok := c.headers.Get(id); ok {
		return h, nil
	}
	h, err := c.p.GetBlockHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	c.headers.Add(id, h)
	return h, nil
}

func (c *Client) LookupBlockBySeqno(ctx context.Context, workchain int32, shard int64, seqno int32) (*provider.BlockHeader, error) {
	return c.cacheHeader(c.p.LookupBlockBySeqno(ctx, workchain, shard, seqno))
}

func (c *Client) LookupBlockByLT(ctx context.Context, workchain int32, shard int64, lt int64) (*provider.BlockHeader, error) {
	return c.cacheHeader(c.p.LookupBlockByLT(ctx, workchain, shard, lt))
}

func (c *Client) LookupBlockByUtime(ctx context.Context, workchain int32, shard int64, utime int32) (*provider.BlockHeader, error) {
	return c.cacheHeader(c.p.LookupBlockByUtime(ctx, workchain, shard, utime))
}

func (c *Client) cacheHeader(h *provider.BlockHeader, err error) (*provider.BlockHeader, error) {
	if err != nil {
		return nil, err
	}
	c.headers.Add(h.ID, h)
	return h, nil
}

func (c *Client) GetAllShardsInfo(ctx context.Context, id *tl.BlockIDExt) ([]tl.BlockIDExt, error) {
	return c.p.GetAllShardsInfo(ctx, id)
}

func (c *Client) GetBlockTransactions(ctx context.Context, id tl.BlockIDExt) ([]*block.Transaction, error) {
	return c.p.GetBlockTransactions(ctx, id)
}
