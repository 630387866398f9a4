// Package engine implements the flash-loan execution engine: it requests
// loans it holds no capital for, runs a strategy descriptor inside the loan
// callback, and settles only when the outcome is strictly profitable. All
// state lives on the shared ledger; a failed execution is rolled back by the
// lender's snapshot and leaves nothing behind.
package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/ledger"
	"github.com/michaelpento.lv/arbengine/lending"
	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

// Engine is the on-ledger executor. Only the owner can request loans or
// withdraw; only the configured lenders can invoke the callbacks.
type Engine struct {
	mu      sync.Mutex
	metrics struct {
		executions prometheus.CounterVec
		surplus    prometheus.Counter
		aborts     prometheus.CounterVec
	}
	addr       common.Address
	owner      common.Address
	led        *ledger.Ledger
	pool       *lending.Pool
	vault      *lending.Vault
	routers    *router.Registry
	swapRouter router.Router // liquidation unwind venue
	logger     *zap.Logger
}

// New creates an engine at addr owned by owner. swapRouter is the venue used
// to unwind liquidation collateral.
func New(addr, owner common.Address, led *ledger.Ledger, pool *lending.Pool, vault *lending.Vault, routers *router.Registry, swapRouter router.Router, logger *zap.Logger) *Engine {
	e := &Engine{
		addr:       addr,
		owner:      owner,
		led:        led,
		pool:       pool,
		vault:      vault,
		routers:    routers,
		swapRouter: swapRouter,
		logger:     logger,
	}

	e.metrics.executions = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_executions_total",
		Help: "Strategy executions by kind and outcome",
	}, []string{"kind", "outcome"})

	e.metrics.surplus = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_surplus_total",
		Help: "Cumulative surplus kept after settlement",
	})

	e.metrics.aborts = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_aborts_total",
		Help: "Aborted executions by reason",
	}, []string{"reason"})

	return e
}

// Address returns the engine's ledger address.
func (e *Engine) Address() common.Address { return e.addr }

// Collectors exposes the engine's metrics for registration.
func (e *Engine) Collectors() []prometheus.Collector {
	return []prometheus.Collector{&e.metrics.executions, e.metrics.surplus, &e.metrics.aborts}
}

// Owner returns the current owner.
func (e *Engine) Owner() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// RequestFlashLoan asks the pool for a loan of amount and executes the
// descriptor in the callback. Owner only. Liquidation descriptors are
// pre-checked against the target's health factor so a healthy target costs
// nothing, not even a loan round trip.
func (e *Engine) RequestFlashLoan(caller, asset common.Address, amount *big.Int, params []byte) error {
	if err := e.checkRequest(caller, asset, amount); err != nil {
		return err
	}
	if err := e.preflight(params); err != nil {
		return err
	}
	return e.pool.FlashLoan(e.addr, e, asset, amount, params)
}

// RequestVaultFlashLoan is the zero-fee variant: the vault lends, the pool is
// still the liquidation venue. Owner only.
func (e *Engine) RequestVaultFlashLoan(caller, asset common.Address, amount *big.Int, params []byte) error {
	if err := e.checkRequest(caller, asset, amount); err != nil {
		return err
	}
	if err := e.preflight(params); err != nil {
		return err
	}
	return e.vault.FlashLoan(e.addr, e, asset, amount, params)
}

func (e *Engine) checkRequest(caller, asset common.Address, amount *big.Int) error {
	if caller != e.Owner() {
		return fmt.Errorf("request from %s: %w", caller.Hex(), ErrUnauthorized)
	}
	if asset == (common.Address{}) {
		return fmt.Errorf("asset: %w", ErrZeroAddress)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}

// preflight rejects liquidation descriptors whose target is healthy before
// any external call is made. Arbitrage descriptors pass through; their
// profitability is only knowable by executing.
func (e *Engine) preflight(params []byte) error {
	_, liq, err := decodeDescriptor(params)
	if err != nil {
		return err
	}
	if liq == nil {
		return nil
	}
	if hf := e.pool.AccountHealth(liq.Target); hf.Cmp(math.Wad) >= 0 {
		e.metrics.aborts.WithLabelValues("not_liquidatable").Inc()
		return &NotLiquidatableError{HealthFactor: hf}
	}
	return nil
}

// Withdraw sweeps the engine's full balance of asset to the owner. Owner
// only; a zero balance is a successful no-op, so repeated calls are safe.
func (e *Engine) Withdraw(caller, asset common.Address) error {
	if caller != e.Owner() {
		return fmt.Errorf("withdraw from %s: %w", caller.Hex(), ErrUnauthorized)
	}
	bal := e.led.BalanceOf(asset, e.addr)
	if bal.Sign() == 0 {
		return nil
	}
	if err := e.led.Transfer(asset, e.addr, e.Owner(), bal); err != nil {
		return fmt.Errorf("withdraw %s: %w", asset.Hex(), err)
	}
	e.logger.Info("withdrawal",
		zap.String("asset", asset.Hex()),
		zap.String("amount", bal.String()))
	return nil
}

// WithdrawNative sweeps the engine's native balance to the owner.
func (e *Engine) WithdrawNative(caller common.Address) error {
	if caller != e.Owner() {
		return fmt.Errorf("withdraw from %s: %w", caller.Hex(), ErrUnauthorized)
	}
	bal := e.led.NativeBalanceOf(e.addr)
	if bal.Sign() == 0 {
		return nil
	}
	if err := e.led.TransferNative(e.addr, e.Owner(), bal); err != nil {
		return fmt.Errorf("withdraw native: %w", err)
	}
	e.logger.Info("native withdrawal", zap.String("amount", bal.String()))
	return nil
}

// TransferOwnership hands the engine to newOwner. Owner only; the zero
// address is rejected so the engine can never be orphaned.
func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("transfer from %s: %w", caller.Hex(), ErrUnauthorized)
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("new owner: %w", ErrZeroAddress)
	}
	e.logger.Info("ownership transferred",
		zap.String("from", e.owner.Hex()),
		zap.String("to", newOwner.Hex()))
	e.owner = newOwner
	return nil
}
