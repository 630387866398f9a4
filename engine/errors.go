package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnauthorized is returned when a privileged call comes from the wrong caller
	ErrUnauthorized = errors.New("unauthorized caller")
	// ErrZeroAmount is returned when a request names a zero principal
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrZeroAddress is returned when a request names the zero address
	ErrZeroAddress = errors.New("zero address")
	// ErrBadDescriptor is returned when callback params fail to decode
	ErrBadDescriptor = errors.New("malformed strategy descriptor")
	// ErrZeroHopBalance is returned when a hop finds no balance of its input token
	ErrZeroHopBalance = errors.New("zero balance entering hop")
	// ErrNoCollateralSeized is returned when a liquidation yields no collateral
	ErrNoCollateralSeized = errors.New("liquidation seized no collateral")
	// ErrUnknownRouter is returned when a hop names an unregistered router
	ErrUnknownRouter = errors.New("unknown router")
)

// NotProfitableError aborts settlement when the final balance does not
// strictly exceed principal plus premium. Breaking even still loses gas, so
// equality aborts too.
type NotProfitableError struct {
	Final    *big.Int
	Required *big.Int
}

func (e *NotProfitableError) Error() string {
	return fmt.Sprintf("not profitable: final %s, required > %s", e.Final, e.Required)
}

// NotLiquidatableError rejects a liquidation request whose target is still
// healthy, before any loan is taken.
type NotLiquidatableError struct {
	HealthFactor *big.Int
}

func (e *NotLiquidatableError) Error() string {
	return fmt.Sprintf("target not liquidatable: health factor %s", e.HealthFactor)
}

// SwapFailedError wraps a router failure with the router it came from.
type SwapFailedError struct {
	Router common.Address
	Err    error
}

func (e *SwapFailedError) Error() string {
	return fmt.Sprintf("swap via %s failed: %v", e.Router.Hex(), e.Err)
}

func (e *SwapFailedError) Unwrap() error { return e.Err }
