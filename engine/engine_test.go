package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/ledger"
	"github.com/michaelpento.lv/arbengine/lending"
	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

var (
	usdc       = common.HexToAddress("0xA1")
	weth       = common.HexToAddress("0xA2")
	poolAddr   = common.HexToAddress("0xB1")
	vaultAddr  = common.HexToAddress("0xB2")
	stubAddr   = common.HexToAddress("0xC1")
	unwindAddr = common.HexToAddress("0xC2")
	engineAddr = common.HexToAddress("0xD1")
	owner      = common.HexToAddress("0xD2")
	attacker   = common.HexToAddress("0xD3")
	borrower   = common.HexToAddress("0xE1")
)

// stubRouter executes scripted swaps: it pulls the input through its
// allowance like a real venue, then mints a fixed output.
type stubRouter struct {
	addr  common.Address
	led   *ledger.Ledger
	outs  map[common.Address]*big.Int // keyed by input token
	err   error
	calls int
}

func (s *stubRouter) Address() common.Address { return s.addr }
func (s *stubRouter) Name() string            { return "stub" }

func (s *stubRouter) Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if out, ok := s.outs[tokenIn]; ok {
		return new(big.Int).Set(out), nil
	}
	return nil, router.ErrNoLiquidity
}

func (s *stubRouter) Swap(caller common.Address, amountIn *big.Int, payload []byte) (*big.Int, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(payload) != 40 {
		return nil, router.ErrBadPayload
	}
	tokenIn := common.BytesToAddress(payload[:20])
	tokenOut := common.BytesToAddress(payload[20:])
	if err := s.led.TransferFrom(tokenIn, s.addr, caller, s.addr, amountIn); err != nil {
		return nil, err
	}
	out, ok := s.outs[tokenIn]
	if !ok {
		return nil, router.ErrNoLiquidity
	}
	s.led.Mint(tokenOut, caller, out)
	return new(big.Int).Set(out), nil
}

func stubPayload(tokenIn, tokenOut common.Address) []byte {
	return append(tokenIn.Bytes(), tokenOut.Bytes()...)
}

type fixture struct {
	led    *ledger.Ledger
	pool   *lending.Pool
	vault  *lending.Vault
	stub   *stubRouter
	unwind *router.SwapRouter
	eng    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led := ledger.New()
	log := zaptest.NewLogger(t)

	pool := lending.NewPool(poolAddr, led, 5, log)
	pool.AddReserve(usdc, lending.ReserveConfig{
		PriceWad:                math.Wad,
		LiquidationThresholdBps: 8_500,
		LiquidationBonusBps:     500,
	})
	pool.AddReserve(weth, lending.ReserveConfig{
		PriceWad:                big.NewInt(2000),
		LiquidationThresholdBps: 8_000,
		LiquidationBonusBps:     500,
	})
	pool.FundReserve(usdc, big.NewInt(10_000_000))

	vault := lending.NewVault(vaultAddr, led, log)
	vault.Fund(usdc, big.NewInt(5_000_000))

	stub := &stubRouter{addr: stubAddr, led: led, outs: make(map[common.Address]*big.Int)}

	unwind := router.NewSwapRouter(unwindAddr, "unwind-v3", led)
	unwind.AddPool(usdc, weth, 3000, big.NewInt(20_000_000), new(big.Int).Mul(big.NewInt(10_000), math.Wad))

	registry := router.NewRegistry()
	registry.Register(stub)
	registry.Register(unwind)

	eng := New(engineAddr, owner, led, pool, vault, registry, unwind, log)
	return &fixture{led: led, pool: pool, vault: vault, stub: stub, unwind: unwind, eng: eng}
}

func (f *fixture) twoHopParams(t *testing.T) []byte {
	t.Helper()
	params, err := EncodeArbitrage(ArbitrageDescriptor{Hops: []Hop{
		{Router: stubAddr, TokenIn: usdc, Payload: stubPayload(usdc, weth)},
		{Router: stubAddr, TokenIn: weth, Payload: stubPayload(weth, usdc)},
	}})
	require.NoError(t, err)
	return params
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.Counter.GetValue()
}

func TestArbitrageSettlesWithSurplus(t *testing.T) {
	f := newFixture(t)
	// borrow 1_000_000 at 5 bps: owed 1_000_500, cycle yields 1_000_520
	f.stub.outs[usdc] = big.NewInt(600)
	f.stub.outs[weth] = big.NewInt(1_000_520)

	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1_000_000), f.twoHopParams(t))
	require.NoError(t, err)

	assert.Equal(t, int64(20), f.led.BalanceOf(usdc, engineAddr).Int64())
	assert.Equal(t, int64(10_000_500), f.led.BalanceOf(usdc, poolAddr).Int64(), "pool keeps the premium")
	assert.Equal(t, int64(0), f.led.Allowance(usdc, engineAddr, poolAddr).Int64(),
		"settlement allowance is exact and fully consumed")
	assert.Equal(t, int64(0), f.led.BalanceOf(weth, engineAddr).Int64())

	assert.Equal(t, float64(1), counterValue(t, f.eng.metrics.executions.WithLabelValues("arbitrage", "success")))
}

func TestBreakEvenAborts(t *testing.T) {
	f := newFixture(t)
	// exactly principal plus premium back: still an abort
	f.stub.outs[usdc] = big.NewInt(600)
	f.stub.outs[weth] = big.NewInt(1_000_500)

	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1_000_000), f.twoHopParams(t))

	var notProfitable *NotProfitableError
	require.ErrorAs(t, err, &notProfitable)
	assert.Equal(t, int64(1_000_500), notProfitable.Final.Int64())
	assert.Equal(t, int64(1_000_500), notProfitable.Required.Int64())

	// full rollback, including the stub's side effects
	assert.Equal(t, int64(0), f.led.BalanceOf(usdc, engineAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(weth, engineAddr).Int64())
	assert.Equal(t, int64(10_000_000), f.led.BalanceOf(usdc, poolAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(usdc, stubAddr).Int64())
}

func TestLossAborts(t *testing.T) {
	f := newFixture(t)
	f.stub.outs[usdc] = big.NewInt(600)
	f.stub.outs[weth] = big.NewInt(999_000)

	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1_000_000), f.twoHopParams(t))

	var notProfitable *NotProfitableError
	require.ErrorAs(t, err, &notProfitable)
	assert.Equal(t, int64(10_000_000), f.led.BalanceOf(usdc, poolAddr).Int64())
}

func TestZeroHopBalanceAborts(t *testing.T) {
	f := newFixture(t)
	// second hop expects a token the first hop never produced
	other := common.HexToAddress("0xAF")
	params, err := EncodeArbitrage(ArbitrageDescriptor{Hops: []Hop{
		{Router: stubAddr, TokenIn: usdc, Payload: stubPayload(usdc, weth)},
		{Router: stubAddr, TokenIn: other, Payload: stubPayload(other, usdc)},
	}})
	require.NoError(t, err)
	f.stub.outs[usdc] = big.NewInt(600)

	err = f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1_000_000), params)
	require.ErrorIs(t, err, ErrZeroHopBalance)
	assert.Equal(t, int64(10_000_000), f.led.BalanceOf(usdc, poolAddr).Int64())
}

func TestUnknownRouterAborts(t *testing.T) {
	f := newFixture(t)
	params, err := EncodeArbitrage(ArbitrageDescriptor{Hops: []Hop{
		{Router: common.HexToAddress("0xCC"), TokenIn: usdc, Payload: stubPayload(usdc, weth)},
	}})
	require.NoError(t, err)

	err = f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1_000_000), params)
	require.ErrorIs(t, err, ErrUnknownRouter)
}

func TestSwapFailureWrapsRouter(t *testing.T) {
	f := newFixture(t)
	f.stub.err = errors.New("venue reverted")

	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1_000_000), f.twoHopParams(t))

	var swapErr *SwapFailedError
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, stubAddr, swapErr.Router)
	assert.Equal(t, int64(10_000_000), f.led.BalanceOf(usdc, poolAddr).Int64())
}

func TestBadDescriptorFailsClosed(t *testing.T) {
	f := newFixture(t)

	for name, params := range map[string][]byte{
		"empty":       {},
		"unknown tag": {0x7F, 0x01},
		"truncated":   {0x01, 0xDE, 0xAD},
	} {
		t.Run(name, func(t *testing.T) {
			err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1000), params)
			require.ErrorIs(t, err, ErrBadDescriptor)
		})
	}
	assert.Equal(t, 0, f.stub.calls)
}

func TestRequestGates(t *testing.T) {
	f := newFixture(t)
	params := f.twoHopParams(t)

	require.ErrorIs(t, f.eng.RequestFlashLoan(attacker, usdc, big.NewInt(1), params), ErrUnauthorized)
	require.ErrorIs(t, f.eng.RequestFlashLoan(owner, common.Address{}, big.NewInt(1), params), ErrZeroAddress)
	require.ErrorIs(t, f.eng.RequestFlashLoan(owner, usdc, new(big.Int), params), ErrZeroAmount)
	require.ErrorIs(t, f.eng.RequestFlashLoan(owner, usdc, nil, params), ErrZeroAmount)
	require.ErrorIs(t, f.eng.RequestVaultFlashLoan(attacker, usdc, big.NewInt(1), params), ErrUnauthorized)
	assert.Equal(t, 0, f.stub.calls)
}

func TestCallbackAuthGate(t *testing.T) {
	f := newFixture(t)
	params := f.twoHopParams(t)

	// wrong caller
	ok, err := f.eng.ExecuteOperation(attacker, usdc, big.NewInt(1000), big.NewInt(5), engineAddr, params)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, ok)

	// right caller, loan initiated by someone else
	ok, err = f.eng.ExecuteOperation(poolAddr, usdc, big.NewInt(1000), big.NewInt(5), attacker, params)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, ok)

	// nothing decoded, nothing moved
	assert.Equal(t, 0, f.stub.calls)
	assert.Equal(t, int64(0), f.led.BalanceOf(usdc, engineAddr).Int64())
}

func TestVaultCallbackGate(t *testing.T) {
	f := newFixture(t)
	err := f.eng.ReceiveFlashLoan(attacker, usdc, big.NewInt(1000), f.twoHopParams(t))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func seedUnderwater(f *fixture) {
	// 1 WETH collateral against 1900 USDC debt, hf ~0.84
	f.pool.SeedPosition(borrower, weth, math.Wad, usdc, big.NewInt(1900))
}

func liqParams(t *testing.T, minOut int64) []byte {
	t.Helper()
	params, err := EncodeLiquidation(LiquidationDescriptor{
		Target:     borrower,
		Collateral: weth,
		FeeTier:    big.NewInt(3000),
		MinSwapOut: big.NewInt(minOut),
		PriceLimit: new(big.Int),
	})
	require.NoError(t, err)
	return params
}

func TestLiquidationSettles(t *testing.T) {
	f := newFixture(t)
	seedUnderwater(f)

	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(950), liqParams(t, 900))
	require.NoError(t, err)

	// half the debt repaid, collateral fully unwound, surplus kept
	assert.Equal(t, int64(950), f.pool.DebtOf(borrower, usdc).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(weth, engineAddr).Int64())
	surplus := f.led.BalanceOf(usdc, engineAddr)
	assert.Positive(t, surplus.Int64(), "liquidation bonus must clear the premium")

	assert.Equal(t, float64(1), counterValue(t, f.eng.metrics.executions.WithLabelValues("liquidation", "success")))
}

func TestLiquidationViaVault(t *testing.T) {
	f := newFixture(t)
	seedUnderwater(f)

	err := f.eng.RequestVaultFlashLoan(owner, usdc, big.NewInt(950), liqParams(t, 900))
	require.NoError(t, err)

	assert.Equal(t, int64(5_000_000), f.led.BalanceOf(usdc, vaultAddr).Int64(), "vault is repaid exactly")
	assert.Positive(t, f.led.BalanceOf(usdc, engineAddr).Int64())
}

func TestLiquidationAbortRestoresBooks(t *testing.T) {
	f := newFixture(t)
	seedUnderwater(f)

	// unreachable minimum out: the unwind swap fails after the pool has
	// already written down the debt and released collateral
	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(950), liqParams(t, 10_000))

	var swapErr *SwapFailedError
	require.ErrorAs(t, err, &swapErr)

	// books and balances rewind together
	assert.Equal(t, int64(1900), f.pool.DebtOf(borrower, usdc).Int64())
	assert.Equal(t, 0, f.pool.CollateralOf(borrower, weth).Cmp(math.Wad))
	assert.Equal(t, int64(10_000_000), f.led.BalanceOf(usdc, poolAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(usdc, engineAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(weth, engineAddr).Int64())
}

func TestVaultLiquidationAbortRestoresBooks(t *testing.T) {
	f := newFixture(t)
	seedUnderwater(f)

	err := f.eng.RequestVaultFlashLoan(owner, usdc, big.NewInt(950), liqParams(t, 10_000))
	require.Error(t, err)

	// pool positions mutated under a vault loan rewind the same way
	assert.Equal(t, int64(1900), f.pool.DebtOf(borrower, usdc).Int64())
	assert.Equal(t, 0, f.pool.CollateralOf(borrower, weth).Cmp(math.Wad))
	assert.Equal(t, int64(5_000_000), f.led.BalanceOf(usdc, vaultAddr).Int64())
}

func TestOverBorrowLeavesNoPoolAllowance(t *testing.T) {
	f := newFixture(t)
	seedUnderwater(f)

	// 1200 borrowed, but the close factor caps the pull at 950
	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(1200), liqParams(t, 900))
	require.NoError(t, err)

	assert.Equal(t, int64(950), f.pool.DebtOf(borrower, usdc).Int64())
	assert.Equal(t, int64(0), f.led.Allowance(usdc, engineAddr, poolAddr).Int64(),
		"no residual spending power survives settlement")
}

func TestLiquidationPreflightRejectsHealthy(t *testing.T) {
	f := newFixture(t)
	// healthy: big collateral, tiny debt
	f.pool.SeedPosition(borrower, weth, math.Wad, usdc, big.NewInt(100))

	err := f.eng.RequestFlashLoan(owner, usdc, big.NewInt(50), liqParams(t, 1))

	var notLiq *NotLiquidatableError
	require.ErrorAs(t, err, &notLiq)
	assert.Equal(t, 1, notLiq.HealthFactor.Cmp(math.Wad))

	// rejected before any loan was taken
	assert.Equal(t, int64(10_000_000), f.led.BalanceOf(usdc, poolAddr).Int64())
	assert.Equal(t, int64(100), f.pool.DebtOf(borrower, usdc).Int64())
}

func TestWithdrawIdempotent(t *testing.T) {
	f := newFixture(t)
	f.led.Mint(usdc, engineAddr, big.NewInt(50))

	require.NoError(t, f.eng.Withdraw(owner, usdc))
	assert.Equal(t, int64(50), f.led.BalanceOf(usdc, owner).Int64())

	// nothing left: still succeeds, nothing changes
	require.NoError(t, f.eng.Withdraw(owner, usdc))
	assert.Equal(t, int64(50), f.led.BalanceOf(usdc, owner).Int64())

	require.ErrorIs(t, f.eng.Withdraw(attacker, usdc), ErrUnauthorized)
}

func TestWithdrawNative(t *testing.T) {
	f := newFixture(t)
	f.led.MintNative(engineAddr, big.NewInt(7))

	require.NoError(t, f.eng.WithdrawNative(owner))
	assert.Equal(t, int64(7), f.led.NativeBalanceOf(owner).Int64())
	require.NoError(t, f.eng.WithdrawNative(owner))
	require.ErrorIs(t, f.eng.WithdrawNative(attacker), ErrUnauthorized)
}

func TestCollectorsRegister(t *testing.T) {
	f := newFixture(t)

	reg := prometheus.NewRegistry()
	for _, c := range f.eng.Collectors() {
		require.NoError(t, reg.Register(c))
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.eng.TransferOwnership(attacker, attacker), ErrUnauthorized)
	require.ErrorIs(t, f.eng.TransferOwnership(owner, common.Address{}), ErrZeroAddress)

	newOwner := common.HexToAddress("0xD4")
	require.NoError(t, f.eng.TransferOwnership(owner, newOwner))
	assert.Equal(t, newOwner, f.eng.Owner())

	// old owner is locked out, new owner can act
	f.led.Mint(usdc, engineAddr, big.NewInt(10))
	require.ErrorIs(t, f.eng.Withdraw(owner, usdc), ErrUnauthorized)
	require.NoError(t, f.eng.Withdraw(newOwner, usdc))
}
