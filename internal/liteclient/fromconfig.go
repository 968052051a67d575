package liteclient

import (
	"fmt"
	"time"

	"tonlite/internal/config"
	"tonlite/internal/liteerr"
	"tonlite/internal/limiter"
)

type ConfigOptions struct {
	Client   Options
	Balancer BalancerOptions
	// RPSLimit caps requests per RPSPeriod. Zero leaves requests unthrottled.
	RPSLimit  int
	RPSPeriod time.Duration
	// PerClientLimit gives each node its own quota instead of one shared by all nodes.
	PerClientLimit bool
}

func (o ConfigOptions) newLimiter() (*limiter.PriorityLimiter, error) {
	if o.RPSLimit <= 0 {
		return nil, nil
	}
	period := o.RPSPeriod
	if period <= 0 {
		period = time.Second
	}
	return limiter.New(o.RPSLimit, period)
}

// NewFromConfig builds a client for the index-th lite-server of cfg.
func NewFromConfig(cfg *config.GlobalConfig, index int, opts ConfigOptions) (*Client, error) {
	if index < 0 || index >= len(cfg.Liteservers) {
		return nil, fmt.Errorf("%w: liteserver index %d of %d", liteerr.ErrInvalidArgument, index, len(cfg.Liteservers))
	}
	node, err := cfg.Liteservers[index].Node()
	if err != nil {
		return nil, err
	}
	lim, err := opts.newLimiter()
	if err != nil {
		return nil, err
	}
	co := opts.Client
	co.Provider.Limiter = lim
	return NewClient(node, co)
}

// NewBalancerFromConfig builds a balancer over every lite-server of cfg.
func NewBalancerFromConfig(cfg *config.GlobalConfig, opts ConfigOptions) (*Balancer, error) {
	nodes, err := cfg.Nodes()
	if err != nil {
		return nil, err
	}
	shared, err := opts.newLimiter()
	if err != nil {
		return nil, err
	}
	clients := make([]*Client, 0, len(nodes))
	for _, n := range nodes {
		co := opts.Client
		co.Provider.Limiter = shared
		if opts.PerClientLimit {
			if co.Provider.Limiter, err = opts.newLimiter(); err != nil {
				return nil, err
			}
		}
		if co.Provider.Logger == nil {
			co.Provider.Logger = opts.Balancer.Logger
		}
		if co.Provider.Metrics == nil {
			co.Provider.Metrics = opts.Balancer.Metrics
		}
		c, err := NewClient(n, co)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return NewBalancer(clients, opts.Balancer)
}
