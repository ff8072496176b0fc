// Package wallet talks to the coin daemon's JSON-RPC interface. It is used
// for display only; balances are never derived from it.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/amount"
)

var (
	ErrNotConfigured = errors.New("wallet rpc not configured")
	ErrUnavailable   = errors.New("wallet rpc unavailable")
)

// RPCError is an error object returned by the daemon.
type RPCError = btcjson.RPCError

type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

type Client struct {
	cfg     Config
	rpc     *rpcclient.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New builds a client for the daemon at cfg.URL. An empty URL yields a client
// that reports ErrNotConfigured for every call.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, logger: logger}
	if cfg.URL != "" {
		conn, err := connConfig(cfg)
		if err != nil {
			return nil, err
		}
		rpc, err := rpcclient.New(conn, nil)
		if err != nil {
			return nil, fmt.Errorf("wallet rpc client: %w", err)
		}
		c.rpc = rpc
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wallet-rpc",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// The daemon answered; only transport failures count against it.
			var rpcErr *btcjson.RPCError
			return err == nil || errors.As(err, &rpcErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// connConfig turns the endpoint URL into an HTTP POST mode connection.
// TLS is used only for https endpoints.
func connConfig(cfg Config) (*rpcclient.ConnConfig, error) {
	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet rpc url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("wallet rpc url %q has no host", cfg.URL)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("wallet rpc url scheme %q not supported", u.Scheme)
	}
	return &rpcclient.ConnConfig{
		Host:         u.Host,
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   u.Scheme != "https",
	}, nil
}

// Configured reports whether an RPC endpoint was set.
func (c *Client) Configured() bool {
	return c != nil && c.rpc != nil
}

// Close stops the underlying RPC client.
func (c *Client) Close() {
	if c.Configured() {
		c.rpc.Shutdown()
	}
}

func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, out, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

type rawResult struct {
	result json.RawMessage
	err    error
}

// do sends one request. rpcclient has no context support, so the caller
// stops waiting when ctx ends while the request finishes in the background.
func (c *Client) do(ctx context.Context, method string, out any, params []any) error {
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		rawParams = append(rawParams, b)
	}

	future := c.rpc.RawRequestAsync(method, rawParams)
	done := make(chan rawResult, 1)
	go func() {
		res, err := future.Receive()
		done <- rawResult{result: res, err: err}
	}()

	var res rawResult
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(res.err, &rpcErr) {
			return rpcErr
		}
		return fmt.Errorf("%s: %w", method, res.err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

type BlockchainInfo struct {
	Chain         string  `json:"chain"`
	Blocks        int64   `json:"blocks"`
	Difficulty    float64 `json:"difficulty"`
	BestBlockHash string  `json:"bestblockhash"`
}

func (c *Client) BlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MiningInfo carries the staking figures shown by /chaininfo.
type MiningInfo struct {
	Blocks           int64
	StakingSupply    amount.Amount
	AverageBlockFees amount.Amount
}

func (c *Client) MiningInfo(ctx context.Context) (*MiningInfo, error) {
	var raw struct {
		Blocks           int64   `json:"blocks"`
		StakingSupply    float64 `json:"stakingsupply"`
		AverageBlockFees float64 `json:"averageblockfees"`
	}
	if err := c.call(ctx, "getmininginfo", &raw); err != nil {
		return nil, err
	}

	staking, err := amount.FromCoins(raw.StakingSupply)
	if err != nil {
		return nil, fmt.Errorf("stakingsupply: %w", err)
	}
	fees, err := amount.FromCoins(raw.AverageBlockFees)
	if err != nil {
		return nil, fmt.Errorf("averageblockfees: %w", err)
	}
	return &MiningInfo{Blocks: raw.Blocks, StakingSupply: staking, AverageBlockFees: fees}, nil
}

type Peer struct {
	Addr    string `json:"addr"`
	Inbound bool   `json:"inbound"`
}

// OutboundPeers lists the addresses of peers the daemon dialed itself.
func (c *Client) OutboundPeers(ctx context.Context) ([]string, error) {
	var peers []Peer
	if err := c.call(ctx, "getpeerinfo", &peers); err != nil {
		return nil, err
	}
	var addrs []string
	for _, p := range peers {
		if !p.Inbound {
			addrs = append(addrs, p.Addr)
		}
	}
	return addrs, nil
}
