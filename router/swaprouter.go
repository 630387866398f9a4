package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/michaelpento.lv/arbengine/ledger"
)

// feeDenominator is the V3 fee scale: fee units are hundredths of a bip.
const feeDenominator = 1_000_000

// exactInputSingleArgs is the payload layout for SwapRouter:
// (tokenIn, tokenOut, fee, recipient, amountIn, amountOutMinimum,
// sqrtPriceLimitX96), matching ISwapRouter.ExactInputSingleParams.
var exactInputSingleArgs = abi.Arguments{
	{Name: "tokenIn", Type: mustType("address")},
	{Name: "tokenOut", Type: mustType("address")},
	{Name: "fee", Type: mustType("uint24")},
	{Name: "recipient", Type: mustType("address")},
	{Name: "amountIn", Type: mustType("uint256")},
	{Name: "amountOutMinimum", Type: mustType("uint256")},
	{Name: "sqrtPriceLimitX96", Type: mustType("uint160")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ExactInputSingle is the decoded form of a SwapRouter payload.
type ExactInputSingle struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EncodeExactInputSingle packs the payload for SwapRouter.Swap.
func EncodeExactInputSingle(p ExactInputSingle) ([]byte, error) {
	return exactInputSingleArgs.Pack(
		p.TokenIn, p.TokenOut, p.Fee, p.Recipient,
		p.AmountIn, p.AmountOutMinimum, p.SqrtPriceLimitX96,
	)
}

// DecodeExactInputSingle unpacks a SwapRouter payload.
func DecodeExactInputSingle(payload []byte) (*ExactInputSingle, error) {
	values, err := exactInputSingleArgs.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &ExactInputSingle{
		TokenIn:           values[0].(common.Address),
		TokenOut:          values[1].(common.Address),
		Fee:               values[2].(*big.Int),
		Recipient:         values[3].(common.Address),
		AmountIn:          values[4].(*big.Int),
		AmountOutMinimum:  values[5].(*big.Int),
		SqrtPriceLimitX96: values[6].(*big.Int),
	}, nil
}

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

// SwapRouter simulates a V3-style periphery router over constant-product
// pools, one per (pair, fee tier). Each pool holds its reserves at its own
// ledger address, so a ledger rollback rewinds pricing and inventory
// together.
type SwapRouter struct {
	addr  common.Address
	name  string
	led   *ledger.Ledger
	pools map[poolKey]common.Address
}

// NewSwapRouter creates a router with no pools.
func NewSwapRouter(addr common.Address, name string, led *ledger.Ledger) *SwapRouter {
	return &SwapRouter{
		addr:  addr,
		name:  name,
		led:   led,
		pools: make(map[poolKey]common.Address),
	}
}

// AddPool seeds a pool for the pair at the given fee tier, minting its
// reserves to the pool's derived ledger address.
func (r *SwapRouter) AddPool(tokenA, tokenB common.Address, fee uint32, reserveA, reserveB *big.Int) {
	key := canonicalKey(tokenA, tokenB, fee)
	poolAddr := r.poolAddress(key)
	r.pools[key] = poolAddr
	r.led.Mint(tokenA, poolAddr, reserveA)
	r.led.Mint(tokenB, poolAddr, reserveB)
}

// poolAddress derives a stable address for the pool, the moral equivalent of
// CREATE2 from the factory.
func (r *SwapRouter) poolAddress(key poolKey) common.Address {
	data := make([]byte, 0, 64)
	data = append(data, r.addr.Bytes()...)
	data = append(data, key.token0.Bytes()...)
	data = append(data, key.token1.Bytes()...)
	data = append(data, byte(key.fee>>16), byte(key.fee>>8), byte(key.fee))
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

func canonicalKey(tokenA, tokenB common.Address, fee uint32) poolKey {
	if tokenA.Cmp(tokenB) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return poolKey{token0: tokenA, token1: tokenB, fee: fee}
}

// Address returns the router's ledger address.
func (r *SwapRouter) Address() common.Address { return r.addr }

// Name returns the router's display name.
func (r *SwapRouter) Name() string { return r.name }

// reserves reads the pool's live reserves oriented as (in, out).
func (r *SwapRouter) reserves(key poolKey, tokenIn, tokenOut common.Address) (*big.Int, *big.Int, bool) {
	poolAddr, ok := r.pools[key]
	if !ok {
		return nil, nil, false
	}
	return r.led.BalanceOf(tokenIn, poolAddr), r.led.BalanceOf(tokenOut, poolAddr), true
}

// Quote returns the best output across the pair's fee tiers without touching
// state.
func (r *SwapRouter) Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	var best *big.Int
	for key := range r.pools {
		reserveIn, reserveOut, ok := r.reserves(key, tokenIn, tokenOut)
		if !ok || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
			continue
		}
		out := swapOutput(amountIn, reserveIn, reserveOut, key.fee)
		if best == nil || out.Cmp(best) > 0 {
			best = out
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s %s/%s: %w", r.name, tokenIn.Hex(), tokenOut.Hex(), ErrNoLiquidity)
	}
	return best, nil
}

// Swap executes an exactInputSingle payload. amountIn overrides the payload's
// amountIn field; the input is pulled from caller's allowance and the output
// is sent to the payload's recipient.
func (r *SwapRouter) Swap(caller common.Address, amountIn *big.Int, payload []byte) (*big.Int, error) {
	params, err := DecodeExactInputSingle(payload)
	if err != nil {
		return nil, err
	}

	key := canonicalKey(params.TokenIn, params.TokenOut, uint32(params.Fee.Uint64()))
	poolAddr, ok := r.pools[key]
	if !ok {
		return nil, fmt.Errorf("%s %s/%s fee %s: %w",
			r.name, params.TokenIn.Hex(), params.TokenOut.Hex(), params.Fee, ErrNoLiquidity)
	}
	reserveIn, reserveOut, _ := r.reserves(key, params.TokenIn, params.TokenOut)
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("%s %s/%s: %w", r.name, params.TokenIn.Hex(), params.TokenOut.Hex(), ErrNoLiquidity)
	}

	out := swapOutput(amountIn, reserveIn, reserveOut, key.fee)
	if out.Cmp(params.AmountOutMinimum) < 0 {
		return nil, &SlippageError{Got: out, Min: params.AmountOutMinimum}
	}

	// sqrtPriceLimitX96 is a lower bound on the post-swap sqrt price of the
	// output token in input terms; zero disables the check.
	if params.SqrtPriceLimitX96.Sign() > 0 {
		postIn := new(big.Int).Add(reserveIn, amountIn)
		postOut := new(big.Int).Sub(reserveOut, out)
		price := sqrtPriceX96(postOut, postIn)
		if price.Cmp(params.SqrtPriceLimitX96) < 0 {
			return nil, &SlippageError{Got: price, Min: params.SqrtPriceLimitX96}
		}
	}

	if err := r.led.TransferFrom(params.TokenIn, r.addr, caller, poolAddr, amountIn); err != nil {
		return nil, err
	}
	if err := r.led.Transfer(params.TokenOut, poolAddr, params.Recipient, out); err != nil {
		return nil, err
	}
	return out, nil
}

// swapOutput applies x*y=k with the fee taken from the input side.
func swapOutput(amountIn, reserveIn, reserveOut *big.Int, fee uint32) *big.Int {
	inAfterFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-int64(fee)))
	inAfterFee.Div(inAfterFee, big.NewInt(feeDenominator))

	num := new(big.Int).Mul(reserveOut, inAfterFee)
	den := new(big.Int).Add(reserveIn, inAfterFee)
	return num.Div(num, den)
}

func sqrtPriceX96(reserveOut, reserveIn *big.Int) *big.Int {
	ratio := new(big.Int).Lsh(reserveOut, 192)
	ratio.Div(ratio, reserveIn)
	return ratio.Sqrt(ratio)
}
