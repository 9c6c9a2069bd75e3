// Package plan defines billing plans: who is paid, in which token, how much
// and how often.
package plan

import (
	"time"

	"github.com/xraph/recur/pricing"
	"github.com/xraph/recur/types"
)

// Plan is a recurring-billing offer created by the engine owner.
//
// Exactly one pricing mode is meaningful: a fixed Price in token units, or a
// USDPrice in cents converted through PriceFeed at charge time.
type Plan struct {
	types.Entity
	ID            uint64        `json:"id"`
	Merchant      types.Address `json:"merchant"`
	Token         types.Address `json:"token"`
	TokenDecimals uint8         `json:"token_decimals"`
	Price         types.Amount  `json:"price"`
	BillingCycle  time.Duration `json:"billing_cycle"`
	PriceInUSD    bool          `json:"price_in_usd"`
	USDPrice      types.Amount  `json:"usd_price"`
	PriceFeed     types.Address `json:"price_feed"`
	Active        bool          `json:"active"`
}

// Terms returns the pricing inputs of the plan.
func (p *Plan) Terms() pricing.Terms {
	return pricing.Terms{
		Price:         p.Price,
		PriceInUSD:    p.PriceInUSD,
		USDPrice:      p.USDPrice,
		PriceFeed:     p.PriceFeed,
		TokenDecimals: p.TokenDecimals,
	}
}

// Clone returns a copy of p.
func (p *Plan) Clone() *Plan {
	cp := *p
	return &cp
}

// Spec describes a plan to create.
type Spec struct {
	Merchant      types.Address `json:"merchant"`
	Token         types.Address `json:"token"`
	TokenDecimals uint8         `json:"token_decimals"`
	Price         types.Amount  `json:"price"`
	BillingCycle  time.Duration `json:"billing_cycle"`
	PriceInUSD    bool          `json:"price_in_usd"`
	USDPrice      types.Amount  `json:"usd_price"`
	PriceFeed     types.Address `json:"price_feed"`
}

// Update replaces the pricing and cadence of an existing plan. Merchant,
// token and active flag are left untouched.
type Update struct {
	BillingCycle time.Duration `json:"billing_cycle"`
	Price        types.Amount  `json:"price"`
	PriceInUSD   bool          `json:"price_in_usd"`
	USDPrice     types.Amount  `json:"usd_price"`
	PriceFeed    types.Address `json:"price_feed"`
}

// Apply copies u onto p.
func (u Update) Apply(p *Plan) {
	p.BillingCycle = u.BillingCycle
	p.Price = u.Price
	p.PriceInUSD = u.PriceInUSD
	p.USDPrice = u.USDPrice
	p.PriceFeed = u.PriceFeed
}
