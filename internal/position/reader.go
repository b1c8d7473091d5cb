package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/vector-10/compound-safe/internal/health"
)

const cometABIJSON = `[
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"borrowBalanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"account","type":"address"},{"internalType":"address","name":"asset","type":"address"}],"name":"collateralBalanceOf","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

var cometABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(cometABIJSON))
	if err != nil {
		panic("failed to parse comet ABI: " + err.Error())
	}
	cometABI = parsed
}

// Reader supplies raw balances for a wallet. An error means the wallet is
// unavailable this cycle, not that it holds a zero position.
type Reader interface {
	ReadPosition(ctx context.Context, wallet common.Address) (health.Position, error)
}

// Options parameterise the on-chain reader.
type Options struct {
	RPCURL            string
	CometAddress      string
	CollateralAddress string
	Timeout           time.Duration
}

// Comet reads positions from a Compound III market over Ethereum RPC.
type Comet struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewComet builds an on-chain position reader.
func NewComet(opts Options, logger zerolog.Logger) *Comet {
	return &Comet{opts: opts, logger: logger.With().Str("component", "position_reader").Logger()}
}

// ReadPosition performs the three Comet view calls for one wallet.
func (c *Comet) ReadPosition(ctx context.Context, wallet common.Address) (health.Position, error) {
	if c.opts.RPCURL == "" {
		return health.Position{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.CometAddress == "" {
		return health.Position{}, errors.New("comet contract address not configured")
	}
	if c.opts.CollateralAddress == "" {
		return health.Position{}, errors.New("collateral asset address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return health.Position{}, err
	}

	comet := common.HexToAddress(c.opts.CometAddress)
	collateralAsset := common.HexToAddress(c.opts.CollateralAddress)

	borrowed, err := c.callUint(ctx, client, comet, "borrowBalanceOf", wallet)
	if err != nil {
		return health.Position{}, fmt.Errorf("borrowBalanceOf: %w", err)
	}

	supplied, err := c.callUint(ctx, client, comet, "balanceOf", wallet)
	if err != nil {
		return health.Position{}, fmt.Errorf("balanceOf: %w", err)
	}

	collateral, err := c.callUint(ctx, client, comet, "collateralBalanceOf", wallet, collateralAsset)
	if err != nil {
		return health.Position{}, fmt.Errorf("collateralBalanceOf: %w", err)
	}

	return health.Position{
		SuppliedBase:     supplied,
		BorrowedBase:     borrowed,
		CollateralAmount: collateral,
	}, nil
}

func (c *Comet) callUint(ctx context.Context, client *ethclient.Client, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	payload, err := cometABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := cometABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response arity %d", method, len(outputs))
	}

	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

func (c *Comet) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Reader = (*Comet)(nil)
