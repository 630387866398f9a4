package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/ledger"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

// exchangeArgs is the payload layout for CurvePool:
// exchange(int128 i, int128 j, uint256 dx, uint256 min_dy).
var exchangeArgs = abi.Arguments{
	{Name: "i", Type: mustType("int128")},
	{Name: "j", Type: mustType("int128")},
	{Name: "dx", Type: mustType("uint256")},
	{Name: "min_dy", Type: mustType("uint256")},
}

// Exchange is the decoded form of a CurvePool payload.
type Exchange struct {
	I     *big.Int
	J     *big.Int
	Dx    *big.Int
	MinDy *big.Int
}

// EncodeExchange packs the payload for CurvePool.Swap.
func EncodeExchange(p Exchange) ([]byte, error) {
	return exchangeArgs.Pack(p.I, p.J, p.Dx, p.MinDy)
}

func decodeExchange(payload []byte) (*Exchange, error) {
	values, err := exchangeArgs.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &Exchange{
		I:     values[0].(*big.Int),
		J:     values[1].(*big.Int),
		Dx:    values[2].(*big.Int),
		MinDy: values[3].(*big.Int),
	}, nil
}

// CurvePool simulates a stable-swap pool with indexed coins. Pricing is
// flat at each coin's wad rate (the pool's virtual price per coin) minus the
// exchange fee, which is the regime these pools hold near peg.
type CurvePool struct {
	addr   common.Address
	name   string
	led    *ledger.Ledger
	coins  []common.Address
	rates  []*big.Int // wad per coin
	feeBps uint16
}

// NewCurvePool creates a pool over the given coins. rates[i] is coin i's wad
// rate; output is dx * rates[i] / rates[j] minus feeBps.
func NewCurvePool(addr common.Address, name string, led *ledger.Ledger, coins []common.Address, rates []*big.Int, feeBps uint16) *CurvePool {
	if len(coins) != len(rates) {
		panic("curve pool: coins and rates length mismatch")
	}
	return &CurvePool{
		addr:   addr,
		name:   name,
		led:    led,
		coins:  coins,
		rates:  rates,
		feeBps: feeBps,
	}
}

// Fund mints balance of each coin to the pool's address.
func (c *CurvePool) Fund(balances []*big.Int) {
	for i, bal := range balances {
		c.led.Mint(c.coins[i], c.addr, bal)
	}
}

// Address returns the pool's ledger address.
func (c *CurvePool) Address() common.Address { return c.addr }

// Name returns the pool's display name.
func (c *CurvePool) Name() string { return c.name }

// CoinIndex returns the index of coin in the pool, or -1.
func (c *CurvePool) CoinIndex(coin common.Address) int {
	for i, addr := range c.coins {
		if addr == coin {
			return i
		}
	}
	return -1
}

// Quote returns the output for swapping amountIn of tokenIn into tokenOut.
func (c *CurvePool) Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	i, j := c.CoinIndex(tokenIn), c.CoinIndex(tokenOut)
	if i < 0 || j < 0 {
		return nil, fmt.Errorf("%s %s/%s: %w", c.name, tokenIn.Hex(), tokenOut.Hex(), ErrNoLiquidity)
	}
	return c.output(i, j, amountIn), nil
}

// Swap executes an exchange payload. amountIn overrides the payload's dx; the
// output goes back to the caller, as exchange sends to msg.sender.
func (c *CurvePool) Swap(caller common.Address, amountIn *big.Int, payload []byte) (*big.Int, error) {
	params, err := decodeExchange(payload)
	if err != nil {
		return nil, err
	}
	i, j := int(params.I.Int64()), int(params.J.Int64())
	if i < 0 || i >= len(c.coins) || j < 0 || j >= len(c.coins) || i == j {
		return nil, fmt.Errorf("%s coin index %d/%d: %w", c.name, i, j, ErrBadPayload)
	}

	out := c.output(i, j, amountIn)
	if out.Cmp(params.MinDy) < 0 {
		return nil, &SlippageError{Got: out, Min: params.MinDy}
	}
	if c.led.BalanceOf(c.coins[j], c.addr).Cmp(out) < 0 {
		return nil, fmt.Errorf("%s coin %d depleted: %w", c.name, j, ErrNoLiquidity)
	}

	if err := c.led.TransferFrom(c.coins[i], c.addr, caller, c.addr, amountIn); err != nil {
		return nil, err
	}
	if err := c.led.Transfer(c.coins[j], c.addr, caller, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CurvePool) output(i, j int, dx *big.Int) *big.Int {
	dy := new(big.Int).Mul(dx, c.rates[i])
	dy.Div(dy, c.rates[j])
	fee := math.BpsOf(dy, c.feeBps)
	return dy.Sub(dy, fee)
}
