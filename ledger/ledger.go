package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the holder's balance
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when a TransferFrom exceeds the granted allowance
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// holding identifies one (owner, spender) allowance slot for an asset
type holding struct {
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory token ledger standing in for the host chain's state.
// Balances and allowances follow ERC20 semantics; native balances are tracked
// separately. Every mutation happens inside one atomic execution, so callers
// that need transaction semantics take a Snapshot first and Restore on failure.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int // asset -> holder -> balance
	allowances map[common.Address]map[holding]*big.Int        // asset -> (owner,spender) -> remaining
	native     map[common.Address]*big.Int                    // holder -> native balance
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[holding]*big.Int),
		native:     make(map[common.Address]*big.Int),
	}
}

// BalanceOf returns the holder's balance of asset. The returned value is a copy.
func (l *Ledger) BalanceOf(asset, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.balances[asset][holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// NativeBalanceOf returns the holder's native coin balance. The returned value is a copy.
func (l *Ledger) NativeBalanceOf(holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.native[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Allowance returns the remaining allowance granted by owner to spender for asset.
func (l *Ledger) Allowance(asset, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.allowances[asset][holding{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint credits amount of asset to holder.
func (l *Ledger) Mint(asset, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, holder, amount)
}

// MintNative credits amount of the native coin to holder.
func (l *Ledger) MintNative(holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.native[holder]
	if !ok {
		bal = new(big.Int)
		l.native[holder] = bal
	}
	bal.Add(bal, amount)
}

// Burn removes amount of asset from holder.
func (l *Ledger) Burn(asset, holder common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(asset, holder, amount); err != nil {
		return fmt.Errorf("burn %s: %w", asset.Hex(), err)
	}
	return nil
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(asset, from, amount); err != nil {
		return fmt.Errorf("transfer %s: %w", asset.Hex(), err)
	}
	l.credit(asset, to, amount)
	return nil
}

// TransferNative moves amount of the native coin between holders.
func (l *Ledger) TransferNative(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.native[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("native transfer: %w", ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)

	toBal, ok := l.native[to]
	if !ok {
		toBal = new(big.Int)
		l.native[to] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}

// Approve sets spender's allowance over owner's asset balance to exactly amount,
// replacing any previous grant.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slots, ok := l.allowances[asset]
	if !ok {
		slots = make(map[holding]*big.Int)
		l.allowances[asset] = slots
	}
	slots[holding{owner, spender}] = new(big.Int).Set(amount)
}

// TransferFrom moves amount of asset from `from` to `to` on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := holding{from, spender}
	remaining, ok := l.allowances[asset][slot]
	if !ok || remaining.Cmp(amount) < 0 {
		return fmt.Errorf("transferFrom %s: %w", asset.Hex(), ErrInsufficientAllowance)
	}
	if err := l.debit(asset, from, amount); err != nil {
		return fmt.Errorf("transferFrom %s: %w", asset.Hex(), err)
	}
	remaining.Sub(remaining, amount)
	l.credit(asset, to, amount)
	return nil
}

func (l *Ledger) credit(asset, holder common.Address, amount *big.Int) {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[asset] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	bal.Add(bal, amount)
}

func (l *Ledger) debit(asset, holder common.Address, amount *big.Int) error {
	bal, ok := l.balances[asset][holder]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}
