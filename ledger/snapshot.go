package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a deep copy of the ledger taken at the start of an atomic
// execution. Restoring it undoes every balance and allowance change made
// since, reproducing the host chain's full-revert semantics.
type Snapshot struct {
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[holding]*big.Int
	native     map[common.Address]*big.Int
}

// Snapshot captures the complete ledger state.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &Snapshot{
		balances:   make(map[common.Address]map[common.Address]*big.Int, len(l.balances)),
		allowances: make(map[common.Address]map[holding]*big.Int, len(l.allowances)),
		native:     make(map[common.Address]*big.Int, len(l.native)),
	}
	for asset, holders := range l.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		snap.balances[asset] = copied
	}
	for asset, slots := range l.allowances {
		copied := make(map[holding]*big.Int, len(slots))
		for slot, remaining := range slots {
			copied[slot] = new(big.Int).Set(remaining)
		}
		snap.allowances[asset] = copied
	}
	for holder, bal := range l.native {
		snap.native[holder] = new(big.Int).Set(bal)
	}
	return snap
}

// Restore replaces the ledger state with the snapshot, discarding everything
// that happened after it was taken.
func (l *Ledger) Restore(snap *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[common.Address]map[common.Address]*big.Int, len(snap.balances))
	for asset, holders := range snap.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		l.balances[asset] = copied
	}
	l.allowances = make(map[common.Address]map[holding]*big.Int, len(snap.allowances))
	for asset, slots := range snap.allowances {
		copied := make(map[holding]*big.Int, len(slots))
		for slot, remaining := range slots {
			copied[slot] = new(big.Int).Set(remaining)
		}
		l.allowances[asset] = copied
	}
	l.native = make(map[common.Address]*big.Int, len(snap.native))
	for holder, bal := range snap.native {
		l.native[holder] = new(big.Int).Set(bal)
	}
}
