package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/recur/pricing"
	"github.com/xraph/recur/types"
)

// Validation errors.
var (
	ErrInvalidBillingCycle = errors.New("recur: invalid billing cycle")
	ErrPriceFeedRequired   = errors.New("recur: price feed required for USD pricing")
	ErrInvalidPricing      = errors.New("recur: invalid pricing configuration")
	ErrInvalidMerchant     = errors.New("recur: invalid merchant address")
	ErrInvalidToken        = errors.New("recur: invalid token address")
)

// Validate checks s.
func (s Spec) Validate() error {
	if s.Merchant.IsZero() {
		return ErrInvalidMerchant
	}
	if s.Token.IsZero() {
		return ErrInvalidToken
	}
	if s.TokenDecimals > pricing.MaxDecimals {
		return pricing.ErrDecimalsTooLarge
	}
	return ValidatePricing(s.BillingCycle, s.Price, s.PriceInUSD, s.USDPrice, s.PriceFeed)
}

// Validate checks u.
func (u Update) Validate() error {
	return ValidatePricing(u.BillingCycle, u.Price, u.PriceInUSD, u.USDPrice, u.PriceFeed)
}

// ValidatePricing enforces the pricing discriminator: fixed plans carry a
// non-zero Price and no feed or USD price; USD plans carry a non-zero USD
// price and a feed and no fixed price.
func ValidatePricing(cycle time.Duration, price types.Amount, inUSD bool, usdPrice types.Amount, feed types.Address) error {
	if cycle <= 0 || cycle%time.Second != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBillingCycle, cycle)
	}

	if inUSD {
		if feed.IsZero() {
			return ErrPriceFeedRequired
		}
		if usdPrice.IsZero() || !price.IsZero() {
			return ErrInvalidPricing
		}
		return nil
	}

	if price.IsZero() || !usdPrice.IsZero() || !feed.IsZero() {
		return ErrInvalidPricing
	}
	return nil
}
