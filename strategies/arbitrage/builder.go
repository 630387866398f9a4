// Package arbitrage builds arbitrage descriptors the way the engine's
// callback consumes them: a closed cycle of hops, each carrying a
// venue-specific payload with a slippage-bounded minimum output.
package arbitrage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/engine"
	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

var (
	// ErrOpenCycle is returned when the last leg does not return to the start asset
	ErrOpenCycle = errors.New("legs do not close the cycle")
	// ErrUnsupportedVenue is returned for router types the builder cannot encode for
	ErrUnsupportedVenue = errors.New("unsupported venue type")
)

// Leg is one edge of a planned cycle. FeeTier applies to V3-style venues and
// is ignored for curve pools.
type Leg struct {
	Router   router.Router
	TokenIn  common.Address
	TokenOut common.Address
	FeeTier  *big.Int
}

// Builder constructs descriptors for a fixed engine address and slippage
// tolerance.
type Builder struct {
	engineAddr  common.Address
	slippageBps uint16
}

// NewBuilder creates a builder. Payload recipients and curve outputs resolve
// to engineAddr; every minimum output is the leg's quote minus slippageBps.
func NewBuilder(engineAddr common.Address, slippageBps uint16) *Builder {
	return &Builder{engineAddr: engineAddr, slippageBps: slippageBps}
}

// Plan quotes the cycle leg by leg and builds the descriptor. It returns the
// descriptor and the expected final amount of the start asset; callers decide
// whether that clears principal plus premium before requesting the loan.
func (b *Builder) Plan(asset common.Address, principal *big.Int, legs []Leg) (engine.ArbitrageDescriptor, *big.Int, error) {
	if len(legs) == 0 {
		return engine.ArbitrageDescriptor{}, nil, ErrOpenCycle
	}
	if legs[0].TokenIn != asset || legs[len(legs)-1].TokenOut != asset {
		return engine.ArbitrageDescriptor{}, nil, fmt.Errorf("start %s: %w", asset.Hex(), ErrOpenCycle)
	}

	desc := engine.ArbitrageDescriptor{Hops: make([]engine.Hop, len(legs))}
	amount := new(big.Int).Set(principal)
	for i, leg := range legs {
		if i > 0 && leg.TokenIn != legs[i-1].TokenOut {
			return engine.ArbitrageDescriptor{}, nil, fmt.Errorf("leg %d: %w", i, ErrOpenCycle)
		}

		quote, err := leg.Router.Quote(leg.TokenIn, leg.TokenOut, amount)
		if err != nil {
			return engine.ArbitrageDescriptor{}, nil, fmt.Errorf("quote leg %d: %w", i, err)
		}
		minOut := math.MinOutWithSlippage(quote, b.slippageBps)

		payload, err := b.encodeLeg(leg, amount, minOut)
		if err != nil {
			return engine.ArbitrageDescriptor{}, nil, fmt.Errorf("encode leg %d: %w", i, err)
		}
		desc.Hops[i] = engine.Hop{
			Router:  leg.Router.Address(),
			TokenIn: leg.TokenIn,
			Payload: payload,
		}
		amount = quote
	}
	return desc, amount, nil
}

// TwoLeg plans the classic buy-low sell-high pair: asset -> mid on buyLeg,
// mid -> asset on sellLeg.
func (b *Builder) TwoLeg(asset, mid common.Address, principal *big.Int, buy, sell router.Router, feeTier *big.Int) (engine.ArbitrageDescriptor, *big.Int, error) {
	return b.Plan(asset, principal, []Leg{
		{Router: buy, TokenIn: asset, TokenOut: mid, FeeTier: feeTier},
		{Router: sell, TokenIn: mid, TokenOut: asset, FeeTier: feeTier},
	})
}

func (b *Builder) encodeLeg(leg Leg, amountIn, minOut *big.Int) ([]byte, error) {
	switch venue := leg.Router.(type) {
	case *router.SwapRouter:
		return router.EncodeExactInputSingle(router.ExactInputSingle{
			TokenIn:           leg.TokenIn,
			TokenOut:          leg.TokenOut,
			Fee:               leg.FeeTier,
			Recipient:         b.engineAddr,
			AmountIn:          amountIn,
			AmountOutMinimum:  minOut,
			SqrtPriceLimitX96: new(big.Int),
		})
	case *router.CurvePool:
		i, j := venue.CoinIndex(leg.TokenIn), venue.CoinIndex(leg.TokenOut)
		if i < 0 || j < 0 {
			return nil, fmt.Errorf("%s not in %s: %w", leg.TokenIn.Hex(), venue.Name(), router.ErrNoLiquidity)
		}
		return router.EncodeExchange(router.Exchange{
			I:     big.NewInt(int64(i)),
			J:     big.NewInt(int64(j)),
			Dx:    amountIn,
			MinDy: minOut,
		})
	default:
		return nil, fmt.Errorf("%T: %w", leg.Router, ErrUnsupportedVenue)
	}
}
