package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides helper methods. The same client
// is shared read-only across all monitors; it holds no per-account state.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	wsClient *ethclient.Client

	maxRetries   int
	retryBackoff time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient creates a new chain client from the RPC URL. When wsURL is
// non-empty a second connection is dialed for head subscriptions.
func NewClient(ctx context.Context, rpcURL, wsURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}

	if wsURL != "" {
		wsClient, err := ethclient.DialContext(ctx, wsURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("dial ws: %w", err)
		}
		c.wsClient = wsClient
	}

	return c, nil
}

// SetRetryPolicy enables exponential-backoff retries on idempotent RPC
// reads. Zero values disable retrying.
func (c *Client) SetRetryPolicy(maxRetries int, backoff time.Duration) {
	c.maxRetries = maxRetries
	c.retryBackoff = backoff
}

func (c *Client) retry(ctx context.Context, fn func(context.Context) error) error {
	if c.maxRetries <= 0 {
		return fn(ctx)
	}
	return withRetry(ctx, c.maxRetries, c.retryBackoff, fn)
}

// Close closes the underlying connections.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	if c.wsClient != nil {
		c.wsClient.Close()
	}
}

// ChainID returns the chain ID, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		number, err = c.ethClient.BlockNumber(ctx)
		return err
	})
	return number, err
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// NonceAt returns the confirmed transaction count for an account, used to
// seed a monitor's explicit nonce sequence.
func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		nonce, err = c.ethClient.NonceAt(ctx, account, nil)
		return err
	})
	return nonce, err
}

// SuggestGasPrice returns the node's gas price estimate.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ethClient.SuggestGasPrice(ctx)
}

// CallContract performs an eth_call for a contract method. Quoter
// simulations go through here as well; eth_call never mutates state.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.ethClient.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ethClient.SendTransaction(ctx, tx)
}

// SubscribeNewHeads subscribes to new block headers over the websocket
// connection.
func (c *Client) SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if c.wsClient == nil {
		return nil, fmt.Errorf("ws url not configured")
	}
	return c.wsClient.SubscribeNewHead(ctx, ch)
}
