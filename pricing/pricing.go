// Package pricing turns a plan's price terms into the token amount to charge.
//
// Fixed plans charge their token price verbatim. USD plans convert cents
// through a price feed:
//
//	amount = usdCents * 10^tokenDecimals * 10^feedDecimals / (100 * answer)
//
// in unsigned 256-bit arithmetic. Multiplication overflow is rejected, never
// wrapped, and the division truncates.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/types"
)

// MaxDecimals bounds token and feed decimals.
const MaxDecimals = 38

// DefaultMaxPriceAge is how old a feed reading may be before it is rejected.
const DefaultMaxPriceAge = time.Hour

var (
	ErrDecimalsTooLarge   = errors.New("recur: decimals too large")
	ErrPriceOverflow      = errors.New("recur: price overflow")
	ErrInvalidOraclePrice = errors.New("recur: invalid oracle price")
	ErrStalePrice         = errors.New("recur: stale price")
)

var (
	ten     = uint256.NewInt(10)
	hundred = uint256.NewInt(100)
)

// Terms are the pricing inputs of a plan.
type Terms struct {
	Price         types.Amount
	PriceInUSD    bool
	USDPrice      types.Amount
	PriceFeed     types.Address
	TokenDecimals uint8
}

// TokenAmount converts usdCents into token units given a feed answer.
// answer must be positive.
func TokenAmount(usdCents *uint256.Int, tokenDecimals, feedDecimals uint8, answer *uint256.Int) (*uint256.Int, error) {
	if tokenDecimals > MaxDecimals || feedDecimals > MaxDecimals {
		return nil, ErrDecimalsTooLarge
	}
	if answer.IsZero() {
		return nil, ErrInvalidOraclePrice
	}

	// 10^76 is the largest scale reachable and still fits.
	scale := new(uint256.Int).Exp(ten, uint256.NewInt(uint64(tokenDecimals)+uint64(feedDecimals)))

	num, overflow := new(uint256.Int).MulOverflow(usdCents, scale)
	if overflow {
		return nil, ErrPriceOverflow
	}
	den, overflow := new(uint256.Int).MulOverflow(hundred, answer)
	if overflow {
		return nil, ErrPriceOverflow
	}

	return num.Div(num, den), nil
}

// Resolver prices charges, reading feeds through a Provider.
type Resolver struct {
	feeds  oracle.Provider
	maxAge time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxPriceAge overrides DefaultMaxPriceAge.
func WithMaxPriceAge(d time.Duration) Option {
	return func(r *Resolver) {
		r.maxAge = d
	}
}

// NewResolver creates a Resolver. feeds may be nil if only fixed plans are
// priced.
func NewResolver(feeds oracle.Provider, opts ...Option) *Resolver {
	r := &Resolver{
		feeds:  feeds,
		maxAge: DefaultMaxPriceAge,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxPriceAge returns the staleness bound in use.
func (r *Resolver) MaxPriceAge() time.Duration {
	return r.maxAge
}

// Resolve returns the token amount to charge for t at now.
func (r *Resolver) Resolve(ctx context.Context, t Terms, now time.Time) (types.Amount, error) {
	if !t.PriceInUSD {
		return t.Price, nil
	}
	if t.TokenDecimals > MaxDecimals {
		return types.Amount{}, ErrDecimalsTooLarge
	}
	if r.feeds == nil {
		return types.Amount{}, oracle.ErrFeedNotFound
	}

	feed, err := r.feeds.Feed(ctx, t.PriceFeed)
	if err != nil {
		return types.Amount{}, fmt.Errorf("resolve feed %s: %w", t.PriceFeed, err)
	}

	round, err := feed.LatestRoundData(ctx)
	if err != nil {
		return types.Amount{}, fmt.Errorf("read feed %s: %w", t.PriceFeed, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return types.Amount{}, ErrInvalidOraclePrice
	}
	if round.UpdatedAt.After(now) || now.Sub(round.UpdatedAt) > r.maxAge {
		return types.Amount{}, ErrStalePrice
	}

	feedDecimals, err := feed.Decimals(ctx)
	if err != nil {
		return types.Amount{}, fmt.Errorf("read feed %s decimals: %w", t.PriceFeed, err)
	}

	answer, overflow := uint256.FromBig(round.Answer)
	if overflow {
		return types.Amount{}, ErrPriceOverflow
	}

	amount, err := TokenAmount(t.USDPrice.Int(), t.TokenDecimals, feedDecimals, answer)
	if err != nil {
		return types.Amount{}, err
	}
	return types.AmountFromInt(amount), nil
}
