// Package router provides simulated swap venues backed by the in-memory
// ledger. Each venue exposes the same polymorphic surface: an opaque payload
// built by the strategy layer, executed against the venue's own pricing model.
package router

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoLiquidity is returned when no pool exists for the requested pair
	ErrNoLiquidity = errors.New("no liquidity for pair")
	// ErrBadPayload is returned when a swap payload does not decode
	ErrBadPayload = errors.New("malformed swap payload")
)

// SlippageError is returned when a swap's output falls below the minimum the
// payload demanded.
type SlippageError struct {
	Got *big.Int
	Min *big.Int
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("slippage: got %s, minimum %s", e.Got, e.Min)
}

// Router is a swap venue. Swap executes the opaque payload on behalf of
// caller, pulling amountIn of the input token from caller's allowance and
// crediting the output to the payload's recipient. amountIn overrides any
// amount the payload itself carries, so the caller can spend its live balance
// rather than a stale estimate.
type Router interface {
	Address() common.Address
	Name() string
	Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(caller common.Address, amountIn *big.Int, payload []byte) (*big.Int, error)
}

// Registry resolves router addresses to implementations, standing in for the
// chain's ability to call any address.
type Registry struct {
	routers map[common.Address]Router
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routers: make(map[common.Address]Router)}
}

// Register adds a router, keyed by its address.
func (r *Registry) Register(router Router) {
	r.routers[router.Address()] = router
}

// Lookup returns the router at addr, or nil if none is registered.
func (r *Registry) Lookup(addr common.Address) Router {
	return r.routers[addr]
}

// All returns every registered router.
func (r *Registry) All() []Router {
	out := make([]Router, 0, len(r.routers))
	for _, router := range r.routers {
		out = append(out, router)
	}
	return out
}
