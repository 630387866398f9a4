// Package lending simulates the loan sources the execution engine borrows
// from: a premium-charging pool with liquidatable positions and a zero-fee
// vault. Both run each flash loan inside a ledger snapshot so a failing
// callback leaves no trace.
package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/ledger"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

var (
	// ErrZeroAmount is returned when a loan or liquidation is requested for zero
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrUnknownReserve is returned for assets the pool does not list
	ErrUnknownReserve = errors.New("unknown reserve")
	// ErrInsufficientLiquidity is returned when the pool cannot fund the loan
	ErrInsufficientLiquidity = errors.New("insufficient reserve liquidity")
	// ErrCallbackRejected is returned when the receiver reports failure without an error
	ErrCallbackRejected = errors.New("receiver rejected the operation")
	// ErrRepaymentFailed is returned when the pool cannot pull principal plus premium
	ErrRepaymentFailed = errors.New("repayment pull failed")
	// ErrHealthyPosition is returned when liquidating an account above the threshold
	ErrHealthyPosition = errors.New("health factor above liquidation threshold")
	// ErrNoPosition is returned when the user has no debt in the given asset
	ErrNoPosition = errors.New("no position for user")
)

// CloseFactorBps caps a single liquidation at half the outstanding debt.
const CloseFactorBps = 5_000

// FlashLoanReceiver is the callback contract for pool flash loans. The pool
// passes its own address as caller and the requesting address as initiator.
// Returning false or an error aborts the loan and rolls the ledger back.
type FlashLoanReceiver interface {
	Address() common.Address
	ExecuteOperation(caller, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error)
}

// ReserveConfig holds per-asset pricing and liquidation parameters.
// PriceWad is the oracle value of one smallest unit of the asset, as a wad,
// which folds the asset's decimals into the price.
type ReserveConfig struct {
	PriceWad                *big.Int
	LiquidationThresholdBps uint16 // collateral weight toward health factor
	LiquidationBonusBps     uint16 // liquidator's bonus over par
}

// Book tags for the per-user accounts the pool keeps on the ledger.
const (
	debtBook       = 0x01
	collateralBook = 0x02
)

// Pool is an Aave-style lending pool: flash loans at a basis-point premium,
// collateralized positions, and liquidation of accounts whose health factor
// falls below 1e18. Position books live on the ledger itself, debt as shadow
// balances and collateral as per-user escrow at derived addresses, so a flash
// loan snapshot rewinds positions together with funds.
type Pool struct {
	mu      sync.Mutex
	metrics struct {
		flashLoans       prometheus.CounterVec
		liquidations     prometheus.Counter
		premiumCollected prometheus.Counter
		loanLatency      prometheus.Histogram
	}
	addr       common.Address
	led        *ledger.Ledger
	premiumBps uint16
	reserves   map[common.Address]ReserveConfig
	logger     *zap.Logger
}

// NewPool creates a pool at addr charging premiumBps on flash loans.
func NewPool(addr common.Address, led *ledger.Ledger, premiumBps uint16, logger *zap.Logger) *Pool {
	p := &Pool{
		addr:       addr,
		led:        led,
		premiumBps: premiumBps,
		reserves:   make(map[common.Address]ReserveConfig),
		logger:     logger,
	}

	p.metrics.flashLoans = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_pool_flash_loans_total",
		Help: "Flash loans served by the pool, by outcome",
	}, []string{"outcome"})

	p.metrics.liquidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lending_pool_liquidations_total",
		Help: "Liquidation calls executed by the pool",
	})

	p.metrics.premiumCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lending_pool_premium_collected",
		Help: "Cumulative flash loan premium collected",
	})

	p.metrics.loanLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lending_pool_loan_latency_seconds",
		Help:    "Latency of flash loan round trips",
		Buckets: prometheus.DefBuckets,
	})

	return p
}

// Address returns the pool's ledger address.
func (p *Pool) Address() common.Address { return p.addr }

// Collectors exposes the pool's metrics for registration.
func (p *Pool) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		&p.metrics.flashLoans,
		p.metrics.liquidations,
		p.metrics.premiumCollected,
		p.metrics.loanLatency,
	}
}

// PremiumBps returns the flash loan premium in basis points.
func (p *Pool) PremiumBps() uint16 { return p.premiumBps }

// PremiumOf returns the premium owed on a loan of amount.
func (p *Pool) PremiumOf(amount *big.Int) *big.Int {
	return math.FlashLoanPremium(amount, p.premiumBps)
}

// AddReserve lists an asset with its pricing and liquidation parameters.
func (p *Pool) AddReserve(asset common.Address, cfg ReserveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserves[asset] = cfg
}

// FundReserve mints amount of asset into the pool's reserve.
func (p *Pool) FundReserve(asset common.Address, amount *big.Int) {
	p.led.Mint(asset, p.addr, amount)
}

// SeedPosition records a borrower: collateral goes into the user's escrow
// account, the debt is mirrored in the user's debt book, and the borrowed
// amount is minted to the user.
func (p *Pool) SeedPosition(user, collateralAsset common.Address, collateralAmount *big.Int, debtAsset common.Address, debtAmount *big.Int) {
	p.led.Mint(collateralAsset, p.bookAccount(collateralBook, user), collateralAmount)
	p.led.Mint(debtAsset, p.bookAccount(debtBook, user), debtAmount)
	p.led.Mint(debtAsset, user, debtAmount)
}

// bookAccount derives the ledger address holding one of the user's books,
// the moral equivalent of a debt token or aToken account.
func (p *Pool) bookAccount(tag byte, user common.Address) common.Address {
	data := make([]byte, 0, 41)
	data = append(data, p.addr.Bytes()...)
	data = append(data, tag)
	data = append(data, user.Bytes()...)
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// Reserve returns the configuration for asset, if listed.
func (p *Pool) Reserve(asset common.Address) (ReserveConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.reserves[asset]
	return cfg, ok
}

// DebtOf returns the user's outstanding debt in asset.
func (p *Pool) DebtOf(user, asset common.Address) *big.Int {
	return p.led.BalanceOf(asset, p.bookAccount(debtBook, user))
}

// CollateralOf returns the user's collateral held in escrow in asset.
func (p *Pool) CollateralOf(user, asset common.Address) *big.Int {
	return p.led.BalanceOf(asset, p.bookAccount(collateralBook, user))
}

// AccountHealth returns the user's health factor as a wad. Accounts with no
// debt report the maximum value; below 1e18 the account is liquidatable.
func (p *Pool) AccountHealth(user common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountHealthLocked(user)
}

func (p *Pool) accountHealthLocked(user common.Address) *big.Int {
	weighted := new(big.Int)
	debt := new(big.Int)
	for asset, cfg := range p.reserves {
		if held := p.led.BalanceOf(asset, p.bookAccount(collateralBook, user)); held.Sign() > 0 {
			value := held.Mul(held, cfg.PriceWad)
			weighted.Add(weighted, math.BpsOf(value, cfg.LiquidationThresholdBps))
		}
		if owed := p.led.BalanceOf(asset, p.bookAccount(debtBook, user)); owed.Sign() > 0 {
			debt.Add(debt, owed.Mul(owed, cfg.PriceWad))
		}
	}
	return math.HealthFactor(weighted, debt)
}

// FlashLoan lends amount of asset to the receiver, invokes its callback, and
// pulls back principal plus premium through the receiver's allowance. The
// whole round trip runs inside one ledger snapshot: any callback error, a
// false success flag, or a failed repayment pull restores the ledger exactly
// as it was.
func (p *Pool) FlashLoan(caller common.Address, receiver FlashLoanReceiver, asset common.Address, amount *big.Int, params []byte) error {
	start := time.Now()
	defer func() {
		p.metrics.loanLatency.Observe(time.Since(start).Seconds())
	}()

	if amount == nil || amount.Sign() <= 0 {
		p.metrics.flashLoans.WithLabelValues("rejected").Inc()
		return ErrZeroAmount
	}
	if _, ok := p.Reserve(asset); !ok {
		p.metrics.flashLoans.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownReserve)
	}
	if p.led.BalanceOf(asset, p.addr).Cmp(amount) < 0 {
		p.metrics.flashLoans.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%s: %w", asset.Hex(), ErrInsufficientLiquidity)
	}

	premium := p.PremiumOf(amount)
	snap := p.led.Snapshot()

	if err := p.led.Transfer(asset, p.addr, receiver.Address(), amount); err != nil {
		p.metrics.flashLoans.WithLabelValues("failed").Inc()
		return fmt.Errorf("disburse loan: %w", err)
	}

	ok, err := receiver.ExecuteOperation(p.addr, asset, amount, premium, caller, params)
	if err != nil {
		p.led.Restore(snap)
		p.metrics.flashLoans.WithLabelValues("failed").Inc()
		p.logger.Debug("flash loan callback failed, ledger restored",
			zap.String("asset", asset.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return err
	}
	if !ok {
		p.led.Restore(snap)
		p.metrics.flashLoans.WithLabelValues("failed").Inc()
		return ErrCallbackRejected
	}

	owed := math.TotalOwed(amount, premium)
	if err := p.led.TransferFrom(asset, p.addr, receiver.Address(), p.addr, owed); err != nil {
		p.led.Restore(snap)
		p.metrics.flashLoans.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrRepaymentFailed, err)
	}

	p.metrics.flashLoans.WithLabelValues("success").Inc()
	p.metrics.premiumCollected.Add(math.Float64(premium))
	p.logger.Info("flash loan settled",
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", premium.String()),
		zap.String("initiator", caller.Hex()))
	return nil
}

// LiquidationCall repays up to the close factor of user's debt in debtAsset,
// pulled from the caller's allowance, and releases collateral at oracle
// prices plus the reserve's liquidation bonus. Returns the collateral seized.
func (p *Pool) LiquidationCall(caller, collateralAsset, debtAsset, user common.Address, debtToCover *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	collCfg, ok := p.reserves[collateralAsset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", collateralAsset.Hex(), ErrUnknownReserve)
	}
	debtCfg, ok := p.reserves[debtAsset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", debtAsset.Hex(), ErrUnknownReserve)
	}

	hf := p.accountHealthLocked(user)
	if hf.Cmp(math.Wad) >= 0 {
		return nil, fmt.Errorf("user %s hf %s: %w", user.Hex(), hf, ErrHealthyPosition)
	}

	debt := p.led.BalanceOf(debtAsset, p.bookAccount(debtBook, user))
	if debt.Sign() == 0 {
		return nil, fmt.Errorf("user %s asset %s: %w", user.Hex(), debtAsset.Hex(), ErrNoPosition)
	}

	maxCover := math.BpsOf(debt, CloseFactorBps)
	cover := new(big.Int).Set(debtToCover)
	if cover.Cmp(maxCover) > 0 {
		cover = maxCover
	}

	// collateral = cover * priceDebt / priceCollateral, plus the bonus
	seized := new(big.Int).Mul(cover, debtCfg.PriceWad)
	seized.Div(seized, collCfg.PriceWad)
	seized = math.BpsOf(seized, math.BpsDenominator+collCfg.LiquidationBonusBps)

	escrow := p.bookAccount(collateralBook, user)
	held := p.led.BalanceOf(collateralAsset, escrow)
	if held.Sign() == 0 {
		return nil, fmt.Errorf("user %s asset %s: %w", user.Hex(), collateralAsset.Hex(), ErrNoPosition)
	}
	if seized.Cmp(held) > 0 {
		seized.Set(held)
	}

	if err := p.led.TransferFrom(debtAsset, p.addr, caller, p.addr, cover); err != nil {
		return nil, fmt.Errorf("pull debt repayment: %w", err)
	}
	if err := p.led.Burn(debtAsset, p.bookAccount(debtBook, user), cover); err != nil {
		return nil, fmt.Errorf("write down debt: %w", err)
	}
	// escrow release reduces the book and pays the liquidator in one move
	if err := p.led.Transfer(collateralAsset, escrow, caller, seized); err != nil {
		return nil, fmt.Errorf("release collateral: %w", err)
	}

	p.metrics.liquidations.Inc()
	p.logger.Info("liquidation executed",
		zap.String("user", user.Hex()),
		zap.String("debt_covered", cover.String()),
		zap.String("collateral_seized", seized.String()),
		zap.String("liquidator", caller.Hex()))
	return seized, nil
}
