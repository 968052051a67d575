// Package config reads the TON global network config and turns its lite-server list into nodes.
package config

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tonlite/internal/crypto"
	"tonlite/internal/log"
	"tonlite/internal/provider"
)

const (
	MainnetURL = "https://ton.org/global-config.json"
	TestnetURL = "https://ton.org/testnet-global-config.json"

	maxConfigSize = 4 << 20
)

var ErrNoLiteServers = errors.New("config: no lite-servers")

type GlobalConfig struct {
	Type        string          `json:"@type"`
	Liteservers []LiteServer    `json:"liteservers"`
	Validator   ValidatorConfig `json:"validator"`
}

type LiteServer struct {
	// IP is the IPv4 address packed into a signed 32-bit integer.
	IP   int64    `json:"ip"`
	Port int      `json:"port"`
	ID   ServerID `json:"id"`
}

type ServerID struct {
	Type string `json:"@type"`
	Key  string `json:"key"`
}

type ValidatorConfig struct {
	Type      string   `json:"@type"`
	ZeroState BlockRef `json:"zero_state"`
	InitBlock BlockRef `json:"init_block"`
}

type BlockRef struct {
	Workchain int32  `json:"workchain"`
	Shard     int64  `json:"shard"`
	Seqno     int32  `json:"seqno"`
	RootHash  string `json:"root_hash"`
	FileHash  string `json:"file_hash"`
}

// Host renders IP as a dotted quad.
func (l LiteServer) Host() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(int32(l.IP)))
	return net.IP(b[:]).String()
}

func (l LiteServer) Node() (provider.Node, error) {
	key, err := crypto.ParsePublicKey(l.ID.Key)
	if err != nil {
		return provider.Node{}, err
	}
	if l.Port <= 0 || l.Port > 65535 {
		return provider.Node{}, fmt.Errorf("config: bad port %d", l.Port)
	}
	return provider.Node{Host: l.Host(), Port: l.Port, PublicKey: key}, nil
}

// Nodes converts every lite-server entry, failing on the first bad one.
func (c *GlobalConfig) Nodes() ([]provider.Node, error) {
	if len(c.Liteservers) == 0 {
		return nil, ErrNoLiteServers
	}
	out := make([]provider.Node, 0, len(c.Liteservers))
	for i, ls := range c.Liteservers {
		n, err := ls.Node()
		if err != nil {
			return nil, fmt.Errorf("config: liteserver %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func Parse(data []byte) (*GlobalConfig, error) {
	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(cfg.Liteservers) == 0 {
		return nil, ErrNoLiteServers
	}
	return &cfg, nil
}

func Load(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

type FetchOptions struct {
	RetryMax int
	Timeout  time.Duration
	Logger   log.Logger
}

// leveled adapts log.Logger to the retryablehttp logging interface.
type leveled struct{ log.Logger }

func (l leveled) Warn(msg string, keyvals ...any) { l.Info(msg, keyvals...) }

// Fetch downloads a global config, retrying transient HTTP failures.
func Fetch(ctx context.Context, url string, opts FetchOptions) (*GlobalConfig, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = opts.Timeout
	c.Logger = leveled{opts.Logger}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config: fetch %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, fmt.Errorf("config: fetch %s: %w", url, err)
	}
	return Parse(data)
}

// Resolve loads a config named by src: "mainnet", "testnet", an http(s) URL or a file path.
func Resolve(ctx context.Context, src string, opts FetchOptions) (*GlobalConfig, error) {
	switch s := strings.TrimSpace(src); {
	case s == "" || strings.EqualFold(s, "mainnet"):
		return Fetch(ctx, MainnetURL, opts)
	case strings.EqualFold(s, "testnet"):
		return Fetch(ctx, TestnetURL, opts)
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return Fetch(ctx, s, opts)
	default:
		return Load(s)
	}
}
