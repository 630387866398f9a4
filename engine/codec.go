package engine

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Strategy kind tags, the first byte of every descriptor.
const (
	kindArbitrage   = 0x01
	kindLiquidation = 0x02
)

// Hop is one swap leg of an arbitrage: the router to call, the token spent
// into it, and the router-specific payload. The engine substitutes its live
// balance of TokenIn for whatever amount the payload carries.
type Hop struct {
	Router  common.Address
	TokenIn common.Address
	Payload []byte
}

// ArbitrageDescriptor is a closed cycle of swaps that must end back in the
// borrowed asset.
type ArbitrageDescriptor struct {
	Hops []Hop
}

// LiquidationDescriptor names an underwater account and how to unwind the
// seized collateral: the swap back to the borrowed asset uses FeeTier,
// MinSwapOut and PriceLimit on the engine's configured swap router.
type LiquidationDescriptor struct {
	Target     common.Address
	Collateral common.Address
	FeeTier    *big.Int // uint24
	MinSwapOut *big.Int
	PriceLimit *big.Int // uint160 sqrt price limit
}

var hopArgs = abi.Arguments{{
	Name: "hops",
	Type: mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "router", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "payload", Type: "bytes"},
	}),
}}

var liquidationArgs = abi.Arguments{
	{Name: "target", Type: mustType("address", nil)},
	{Name: "collateral", Type: mustType("address", nil)},
	{Name: "feeTier", Type: mustType("uint24", nil)},
	{Name: "minSwapOut", Type: mustType("uint256", nil)},
	{Name: "priceLimit", Type: mustType("uint160", nil)},
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

type hopTuple struct {
	Router  common.Address
	TokenIn common.Address
	Payload []byte
}

// EncodeArbitrage packs an arbitrage descriptor into callback params.
func EncodeArbitrage(desc ArbitrageDescriptor) ([]byte, error) {
	hops := make([]hopTuple, len(desc.Hops))
	for i, hop := range desc.Hops {
		hops[i] = hopTuple(hop)
	}
	packed, err := hopArgs.Pack(hops)
	if err != nil {
		return nil, fmt.Errorf("encode arbitrage: %w", err)
	}
	return append([]byte{kindArbitrage}, packed...), nil
}

// EncodeLiquidation packs a liquidation descriptor into callback params.
func EncodeLiquidation(desc LiquidationDescriptor) ([]byte, error) {
	packed, err := liquidationArgs.Pack(
		desc.Target, desc.Collateral, desc.FeeTier, desc.MinSwapOut, desc.PriceLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("encode liquidation: %w", err)
	}
	return append([]byte{kindLiquidation}, packed...), nil
}

// decodeDescriptor fails closed: any unknown tag, truncation, or ABI mismatch
// yields ErrBadDescriptor so the callback aborts before touching balances.
func decodeDescriptor(params []byte) (*ArbitrageDescriptor, *LiquidationDescriptor, error) {
	if len(params) < 1 {
		return nil, nil, fmt.Errorf("empty params: %w", ErrBadDescriptor)
	}
	switch params[0] {
	case kindArbitrage:
		desc, err := decodeArbitrage(params[1:])
		return desc, nil, err
	case kindLiquidation:
		desc, err := decodeLiquidation(params[1:])
		return nil, desc, err
	default:
		return nil, nil, fmt.Errorf("unknown kind 0x%02x: %w", params[0], ErrBadDescriptor)
	}
}

func decodeArbitrage(data []byte) (*ArbitrageDescriptor, error) {
	values, err := hopArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	hops := *abi.ConvertType(values[0], new([]hopTuple)).(*[]hopTuple)
	if len(hops) == 0 {
		return nil, fmt.Errorf("no hops: %w", ErrBadDescriptor)
	}
	// Unpack tolerates dropped tail padding and trailing bytes; only the
	// canonical encoding of what was decoded is accepted.
	repacked, err := hopArgs.Pack(hops)
	if err != nil || !bytes.Equal(repacked, data) {
		return nil, fmt.Errorf("inexact encoding: %w", ErrBadDescriptor)
	}
	desc := &ArbitrageDescriptor{Hops: make([]Hop, len(hops))}
	for i, hop := range hops {
		desc.Hops[i] = Hop(hop)
	}
	return desc, nil
}

func decodeLiquidation(data []byte) (*LiquidationDescriptor, error) {
	values, err := liquidationArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	desc := &LiquidationDescriptor{
		Target:     values[0].(common.Address),
		Collateral: values[1].(common.Address),
		FeeTier:    values[2].(*big.Int),
		MinSwapOut: values[3].(*big.Int),
		PriceLimit: values[4].(*big.Int),
	}
	repacked, err := liquidationArgs.Pack(
		desc.Target, desc.Collateral, desc.FeeTier, desc.MinSwapOut, desc.PriceLimit,
	)
	if err != nil || !bytes.Equal(repacked, data) {
		return nil, fmt.Errorf("inexact encoding: %w", ErrBadDescriptor)
	}
	return desc, nil
}
