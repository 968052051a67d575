package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tonlite/internal/address"
	"tonlite/internal/cell"
	"tonlite/internal/liteclient"
	"tonlite/internal/provider"
	"tonlite/internal/tl"
)

const masterShard = int64(-1 << 63)

// print writes v as JSON under --json, otherwise calls text.
func (a *app) print(v any, text func()) error {
	if a.v.GetBool(flagJSON) {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func blockString(id tl.BlockIDExt) string {
	return fmt.Sprintf("(%d,%x,%d)", id.Workchain, uint64(id.Shard), id.Seqno)
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the last masterchain block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := a.lb.GetMasterchainInfo(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(info, func() {
				fmt.Fprintf(a.stdout, "last %s\n", blockString(info.Last))
				fmt.Fprintf(a.stdout, "root_hash %s\n", hex.EncodeToString(info.Last.RootHash[:]))
				fmt.Fprintf(a.stdout, "file_hash %s\n", hex.EncodeToString(info.Last.FileHash[:]))
			})
		},
	}
}

func (a *app) timeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Show the lite-server clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := a.lb.GetTime(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(map[string]int32{"now": now}, func() {
				fmt.Fprintf(a.stdout, "%d %s\n", now, time.Unix(int64(now), 0).UTC().Format(time.RFC3339))
			})
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the lite-server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.lb.GetVersion(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(v, func() {
				fmt.Fprintf(a.stdout, "version %d.%d capabilities %d\n", v.Version>>8, v.Version&0xff, v.Capabilities)
			})
		},
	}
}

type accountView struct {
	Address    string `json:"address"`
	Exists     bool   `json:"exists"`
	Balance    string `json:"balance"`
	LastTxLT   uint64 `json:"last_tx_lt"`
	LastTxHash string `json:"last_tx_hash"`
	Block      string `json:"block"`
}

func (a *app) accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account <address>",
		Short: "Show an account state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := address.Parse(args[0])
			if err != nil {
				return err
			}
			st, err := a.lb.GetAccountState(cmd.Context(), addr)
			if err != nil {
				return err
			}
			view := accountView{
				Address:    addr.String(),
				Exists:     st.Exists,
				Balance:    "0",
				LastTxLT:   st.LastTxLT,
				LastTxHash: hex.EncodeToString(st.LastTxHash[:]),
				Block:      blockString(st.Block),
			}
			if st.Balance != nil {
				view.Balance = st.Balance.String()
			}
			return a.print(view, func() {
				fmt.Fprintf(a.stdout, "%s exists=%t balance=%s last_tx=%d:%s\n",
					view.Address, view.Exists, view.Balance, view.LastTxLT, view.LastTxHash)
			})
		},
	}
}

type txView struct {
	LT      uint64 `json:"lt"`
	Hash    string `json:"hash"`
	Now     uint32 `json:"now"`
	OutMsgs uint16 `json:"out_msgs"`
}

func (a *app) txsCmd() *cobra.Command {
	var (
		limit  int
		fromLT uint64
		toLT   uint64
	)
	cmd := &cobra.Command{
		Use:   "txs <address>",
		Short: "List account transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := address.Parse(args[0])
			if err != nil {
				return err
			}
			txs, err := a.lb.GetTransactions(cmd.Context(), addr, limit, fromLT, toLT)
			if err != nil {
				return err
			}
			views := make([]txView, len(txs))
			for i, tx := range txs {
				views[i] = txView{LT: tx.LT, Hash: hex.EncodeToString(tx.Hash[:]), Now: tx.Now, OutMsgs: tx.OutMsgCount}
			}
			return a.print(views, func() {
				w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "LT\tNOW\tOUT\tHASH")
				for _, v := range views {
					fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", v.LT, v.Now, v.OutMsgs, v.Hash)
				}
				_ = w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of transactions")
	cmd.Flags().Uint64Var(&fromLT, "from-lt", 0, "skip transactions newer than this lt")
	cmd.Flags().Uint64Var(&toLT, "to-lt", 0, "stop at this lt")
	return cmd
}

// parseStackArg reads a get-method argument: an integer (decimal or 0x hex) or an address.
func parseStackArg(s string) (any, error) {
	if n, ok := new(big.Int).SetString(s, 0); ok {
		return n, nil
	}
	if addr, err := address.Parse(s); err == nil {
		return addr, nil
	}
	return nil, fmt.Errorf("argument %q is neither an integer nor an address", s)
}

func stackString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case *big.Int:
		return x.String()
	case *cell.Cell:
		return "cell:" + x.HashHex()
	case *cell.Slice:
		return "slice"
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = stackString(item)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(x)
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <address> <method> [args...]",
		Short: "Run a get-method",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := address.Parse(args[0])
			if err != nil {
				return err
			}
			stack := make([]any, 0, len(args)-2)
			for _, s := range args[2:] {
				v, err := parseStackArg(s)
				if err != nil {
					return err
				}
				stack = append(stack, v)
			}
			out, err := a.lb.RunGetMethod(cmd.Context(), addr, args[1], stack)
			if err != nil {
				return err
			}
			views := make([]string, len(out))
			for i, v := range out {
				views[i] = stackString(v)
			}
			return a.print(views, func() {
				for _, v := range views {
					fmt.Fprintln(a.stdout, v)
				}
			})
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [param...]",
		Short: "Show blockchain config params, all of them when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make([]int32, 0, len(args))
			for _, s := range args {
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return fmt.Errorf("bad config param %q", s)
				}
				params = append(params, int32(n))
			}
			var (
				cfg map[int32]*cell.Cell
				err error
			)
			if len(params) == 0 {
				cfg, err = a.lb.GetBlockchainConfig(cmd.Context())
			} else {
				cfg, err = a.lb.GetConfigParams(cmd.Context(), params...)
			}
			if err != nil {
				return err
			}
			views := make(map[string]string, len(cfg))
			for id, c := range cfg {
				views[strconv.Itoa(int(id))] = hex.EncodeToString(c.ToBOC())
			}
			return a.print(views, func() {
				for id, boc := range views {
					fmt.Fprintf(a.stdout, "%s %s\n", id, boc)
				}
			})
		},
	}
}

func (a *app) shardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shards",
		Short: "List shard blocks of the last masterchain block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := a.lb.GetAllShardsInfo(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return a.print(ids, func() {
				for _, id := range ids {
					fmt.Fprintln(a.stdout, blockString(id))
				}
			})
		},
	}
}

func (a *app) blockCmd() *cobra.Command {
	var txs bool
	cmd := &cobra.Command{
		Use:   "block <seqno>",
		Short: "Show a masterchain block header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seqno, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad seqno %q", args[0])
			}
			h, err := a.lb.LookupBlockBySeqno(cmd.Context(), -1, masterShard, int32(seqno))
			if err != nil {
				return err
			}
			if err := a.printHeader(h); err != nil {
				return err
			}
			if !txs {
				return nil
			}
			list, err := a.lb.GetBlockTransactions(cmd.Context(), h.ID)
			if err != nil {
				return err
			}
			views := make([]txView, len(list))
			for i, tx := range list {
				views[i] = txView{LT: tx.LT, Hash: hex.EncodeToString(tx.Hash[:]), Now: tx.Now, OutMsgs: tx.OutMsgCount}
			}
			return a.print(views, func() {
				fmt.Fprintf(a.stdout, "transactions %d\n", len(views))
			})
		},
	}
	cmd.Flags().BoolVar(&txs, "txs", false, "also list the block transactions")
	return cmd
}

func (a *app) printHeader(h *provider.BlockHeader) error {
	return a.print(h, func() {
		fmt.Fprintf(a.stdout, "block %s utime %d lt %d..%d key_block=%t\n",
			blockString(h.ID), h.GenUtime, h.StartLT, h.EndLT, h.KeyBlock)
	})
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <boc-file|hex>",
		Short: "Send an external message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boc, err := hex.DecodeString(args[0])
			if err != nil {
				if boc, err = os.ReadFile(args[0]); err != nil {
					return err
				}
			}
			if err := a.lb.SendMessage(cmd.Context(), boc); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "sent")
			return nil
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show per lite-server health",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.printHealth(a.lb.Health())
		},
	}
}

func (a *app) printHealth(health []liteclient.MemberHealth) error {
	return a.print(health, func() {
		w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tALIVE\tSEQNO\tPING\tERRORS")
		for _, h := range health {
			fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%d\n", h.Addr, h.Alive, h.Seqno, h.PingRTT, h.ErrorCount)
		}
		_ = w.Flush()
	})
}

func (a *app) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the masterchain head and node health until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			t := time.NewTicker(interval)
			defer t.Stop()
			var last int32
			for {
				info, err := a.lb.GetMasterchainInfo(ctx)
				switch {
				case ctx.Err() != nil:
					return nil
				case err != nil:
					a.logger.Error("masterchain info failed", "err", err)
				case info.Last.Seqno != last:
					last = info.Last.Seqno
					fmt.Fprintf(a.stdout, "%s seqno %d alive %d/%d\n",
						time.Now().UTC().Format(time.TimeOnly), last, len(a.lb.AliveClients()), len(a.lb.Clients()))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}
