package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

// ExecuteOperation is the pool flash-loan callback. It accepts only calls
// made by the pool itself for loans the engine initiated; anything else is
// rejected before the descriptor is even decoded.
func (e *Engine) ExecuteOperation(caller, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error) {
	if caller != e.pool.Address() || initiator != e.addr {
		e.metrics.aborts.WithLabelValues("unauthorized").Inc()
		return false, fmt.Errorf("callback from %s for %s: %w", caller.Hex(), initiator.Hex(), ErrUnauthorized)
	}
	if err := e.runStrategy(asset, amount, premium, params, e.pool.Address()); err != nil {
		return false, err
	}
	return true, nil
}

// ReceiveFlashLoan is the vault callback. The vault passes no initiator, so
// the gate is the vault's caller identity alone.
func (e *Engine) ReceiveFlashLoan(caller, asset common.Address, amount *big.Int, userData []byte) error {
	if caller != e.vault.Address() {
		e.metrics.aborts.WithLabelValues("unauthorized").Inc()
		return fmt.Errorf("callback from %s: %w", caller.Hex(), ErrUnauthorized)
	}
	return e.runStrategy(asset, amount, new(big.Int), userData, e.vault.Address())
}

// runStrategy is the shared callback core: decode, execute, verify, settle.
// Every error propagates to the lender, which restores its snapshot, so no
// partial execution survives.
func (e *Engine) runStrategy(asset common.Address, amount, premium *big.Int, params []byte, lender common.Address) error {
	arb, liq, err := decodeDescriptor(params)
	if err != nil {
		e.metrics.aborts.WithLabelValues("bad_descriptor").Inc()
		return err
	}

	kind := "arbitrage"
	if liq != nil {
		kind = "liquidation"
	}
	e.logger.Debug("executing strategy",
		zap.String("kind", kind),
		zap.String("asset", asset.Hex()),
		zap.String("principal", amount.String()),
		zap.String("premium", premium.String()))

	if arb != nil {
		err = e.runArbitrage(arb)
	} else {
		err = e.runLiquidation(asset, amount, liq)
	}
	if err != nil {
		e.metrics.executions.WithLabelValues(kind, "failed").Inc()
		return err
	}

	required := math.TotalOwed(amount, premium)
	final := e.led.BalanceOf(asset, e.addr)
	if !math.IsStrictlyProfitable(final, required) {
		e.metrics.executions.WithLabelValues(kind, "unprofitable").Inc()
		return &NotProfitableError{Final: final, Required: required}
	}

	// Settle with an exact allowance; the lender pulls, nothing more.
	e.led.Approve(asset, e.addr, lender, required)

	surplus := new(big.Int).Sub(final, required)
	e.metrics.executions.WithLabelValues(kind, "success").Inc()
	e.metrics.surplus.Add(math.Float64(surplus))
	e.logger.Info("strategy settled",
		zap.String("kind", kind),
		zap.String("asset", asset.Hex()),
		zap.String("surplus", surplus.String()))
	return nil
}

// runArbitrage walks the hop cycle. Each hop spends the engine's live balance
// of its input token, read at hop time, never a cached figure, and grants the
// router an allowance for exactly that amount.
func (e *Engine) runArbitrage(desc *ArbitrageDescriptor) error {
	for i, hop := range desc.Hops {
		live := e.led.BalanceOf(hop.TokenIn, e.addr)
		if live.Sign() == 0 {
			return fmt.Errorf("hop %d token %s: %w", i, hop.TokenIn.Hex(), ErrZeroHopBalance)
		}
		r := e.routers.Lookup(hop.Router)
		if r == nil {
			return fmt.Errorf("hop %d router %s: %w", i, hop.Router.Hex(), ErrUnknownRouter)
		}

		e.led.Approve(hop.TokenIn, e.addr, r.Address(), live)
		out, err := r.Swap(e.addr, live, hop.Payload)
		if err != nil {
			return &SwapFailedError{Router: hop.Router, Err: err}
		}
		e.logger.Debug("hop executed",
			zap.Int("hop", i),
			zap.String("router", r.Name()),
			zap.String("in", live.String()),
			zap.String("out", out.String()))
	}
	return nil
}

// runLiquidation repays the target's debt with the borrowed asset, then
// swaps whatever collateral was seized back into it on the configured swap
// router, using the descriptor's fee tier, minimum out and price limit.
func (e *Engine) runLiquidation(asset common.Address, amount *big.Int, desc *LiquidationDescriptor) error {
	e.led.Approve(asset, e.addr, e.pool.Address(), amount)
	if _, err := e.pool.LiquidationCall(e.addr, desc.Collateral, asset, desc.Target, amount); err != nil {
		return fmt.Errorf("liquidation call: %w", err)
	}
	// the pool pulls at most the close-factor cover; drop whatever remains
	e.led.Approve(asset, e.addr, e.pool.Address(), new(big.Int))

	seized := e.led.BalanceOf(desc.Collateral, e.addr)
	if seized.Sign() == 0 {
		return fmt.Errorf("target %s: %w", desc.Target.Hex(), ErrNoCollateralSeized)
	}

	payload, err := router.EncodeExactInputSingle(router.ExactInputSingle{
		TokenIn:           desc.Collateral,
		TokenOut:          asset,
		Fee:               desc.FeeTier,
		Recipient:         e.addr,
		AmountIn:          seized,
		AmountOutMinimum:  desc.MinSwapOut,
		SqrtPriceLimitX96: desc.PriceLimit,
	})
	if err != nil {
		return fmt.Errorf("build unwind payload: %w", err)
	}

	e.led.Approve(desc.Collateral, e.addr, e.swapRouter.Address(), seized)
	if _, err := e.swapRouter.Swap(e.addr, seized, payload); err != nil {
		return &SwapFailedError{Router: e.swapRouter.Address(), Err: err}
	}
	return nil
}
