// Package liquidation plans liquidation descriptors: how much debt to cover,
// what the seized collateral should fetch on the unwind swap, and the bounds
// that protect the engine while it happens.
package liquidation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/engine"
	"github.com/michaelpento.lv/arbengine/lending"
	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

var (
	// ErrTargetHealthy is returned when planning against an account above the threshold
	ErrTargetHealthy = errors.New("target health factor above threshold")
	// ErrNoDebt is returned when the target owes nothing in the chosen asset
	ErrNoDebt = errors.New("target has no debt in asset")
)

// Plan is a ready-to-submit liquidation: the descriptor for the callback and
// the loan principal that funds the debt repayment.
type Plan struct {
	Descriptor  engine.LiquidationDescriptor
	DebtToCover *big.Int
}

// Planner sizes liquidations against a pool and prices the collateral unwind
// on a swap router.
type Planner struct {
	pool        *lending.Pool
	unwind      router.Router
	slippageBps uint16
}

// NewPlanner creates a planner that unwinds seized collateral on unwind.
func NewPlanner(pool *lending.Pool, unwind router.Router, slippageBps uint16) *Planner {
	return &Planner{pool: pool, unwind: unwind, slippageBps: slippageBps}
}

// MaxDebtToCover returns the largest repayment a single call can make:
// the close factor applied to the target's outstanding debt.
func (p *Planner) MaxDebtToCover(target, debtAsset common.Address) *big.Int {
	return math.BpsOf(p.pool.DebtOf(target, debtAsset), lending.CloseFactorBps)
}

// Build checks the target is liquidatable, sizes the repayment at the close
// factor, estimates the collateral the pool will release, and bounds the
// unwind swap by a slippage-adjusted quote. feeTier and priceLimit pass
// through to the swap payload.
func (p *Planner) Build(target, collateral, debtAsset common.Address, feeTier, priceLimit *big.Int) (*Plan, error) {
	hf := p.pool.AccountHealth(target)
	if hf.Cmp(math.Wad) >= 0 {
		return nil, fmt.Errorf("hf %s: %w", hf, ErrTargetHealthy)
	}

	cover := p.MaxDebtToCover(target, debtAsset)
	if cover.Sign() == 0 {
		return nil, fmt.Errorf("target %s: %w", target.Hex(), ErrNoDebt)
	}

	collCfg, ok := p.pool.Reserve(collateral)
	if !ok {
		return nil, fmt.Errorf("collateral %s: %w", collateral.Hex(), lending.ErrUnknownReserve)
	}
	debtCfg, ok := p.pool.Reserve(debtAsset)
	if !ok {
		return nil, fmt.Errorf("debt %s: %w", debtAsset.Hex(), lending.ErrUnknownReserve)
	}

	// Mirror the pool's seizure formula to size the unwind quote.
	seized := new(big.Int).Mul(cover, debtCfg.PriceWad)
	seized.Div(seized, collCfg.PriceWad)
	seized = math.BpsOf(seized, math.BpsDenominator+collCfg.LiquidationBonusBps)
	if held := p.pool.CollateralOf(target, collateral); seized.Cmp(held) > 0 {
		seized.Set(held)
	}

	quote, err := p.unwind.Quote(collateral, debtAsset, seized)
	if err != nil {
		return nil, fmt.Errorf("quote unwind: %w", err)
	}

	return &Plan{
		Descriptor: engine.LiquidationDescriptor{
			Target:     target,
			Collateral: collateral,
			FeeTier:    feeTier,
			MinSwapOut: math.MinOutWithSlippage(quote, p.slippageBps),
			PriceLimit: priceLimit,
		},
		DebtToCover: cover,
	}, nil
}
