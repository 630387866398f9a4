package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/ledger"
)

// VaultReceiver is the callback contract for vault flash loans. The vault has
// no premium; the receiver only has to grant an allowance covering the
// principal before returning.
type VaultReceiver interface {
	Address() common.Address
	ReceiveFlashLoan(caller, asset common.Address, amount *big.Int, userData []byte) error
}

// Vault is a Balancer-style loan source: single asset per loan, zero fee, a
// different receiver interface than Pool. It keeps the same atomicity
// contract, snapshotting the ledger around the callback.
type Vault struct {
	metrics struct {
		flashLoans prometheus.CounterVec
	}
	addr   common.Address
	led    *ledger.Ledger
	logger *zap.Logger
}

// NewVault creates a vault at addr.
func NewVault(addr common.Address, led *ledger.Ledger, logger *zap.Logger) *Vault {
	v := &Vault{
		addr:   addr,
		led:    led,
		logger: logger,
	}
	v.metrics.flashLoans = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_vault_flash_loans_total",
		Help: "Flash loans served by the vault, by outcome",
	}, []string{"outcome"})
	return v
}

// Address returns the vault's ledger address.
func (v *Vault) Address() common.Address { return v.addr }

// Collectors exposes the vault's metrics for registration.
func (v *Vault) Collectors() []prometheus.Collector {
	return []prometheus.Collector{&v.metrics.flashLoans}
}

// Fund mints amount of asset into the vault.
func (v *Vault) Fund(asset common.Address, amount *big.Int) {
	v.led.Mint(asset, v.addr, amount)
}

// FlashLoan lends amount of asset to the receiver and pulls back exactly the
// principal. Any callback error or failed repayment pull restores the ledger
// snapshot taken before disbursement.
func (v *Vault) FlashLoan(caller common.Address, receiver VaultReceiver, asset common.Address, amount *big.Int, userData []byte) error {
	if amount == nil || amount.Sign() <= 0 {
		v.metrics.flashLoans.WithLabelValues("rejected").Inc()
		return ErrZeroAmount
	}
	if v.led.BalanceOf(asset, v.addr).Cmp(amount) < 0 {
		v.metrics.flashLoans.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%s: %w", asset.Hex(), ErrInsufficientLiquidity)
	}

	snap := v.led.Snapshot()

	if err := v.led.Transfer(asset, v.addr, receiver.Address(), amount); err != nil {
		v.metrics.flashLoans.WithLabelValues("failed").Inc()
		return fmt.Errorf("disburse loan: %w", err)
	}

	if err := receiver.ReceiveFlashLoan(v.addr, asset, amount, userData); err != nil {
		v.led.Restore(snap)
		v.metrics.flashLoans.WithLabelValues("failed").Inc()
		v.logger.Debug("vault callback failed, ledger restored",
			zap.String("asset", asset.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return err
	}

	if err := v.led.TransferFrom(asset, v.addr, receiver.Address(), v.addr, amount); err != nil {
		v.led.Restore(snap)
		v.metrics.flashLoans.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrRepaymentFailed, err)
	}

	v.metrics.flashLoans.WithLabelValues("success").Inc()
	v.logger.Info("vault loan settled",
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("initiator", caller.Hex()))
	return nil
}
