package pricing_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/pricing"
	"github.com/xraph/recur/types"
)

var (
	feedAddr = types.MustParseAddress("0x00000000000000000000000000000000000000fe")
	now      = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func usdTerms(cents uint64, tokenDecimals uint8) pricing.Terms {
	return pricing.Terms{
		PriceInUSD:    true,
		USDPrice:      types.NewAmount(cents),
		PriceFeed:     feedAddr,
		TokenDecimals: tokenDecimals,
	}
}

func resolverWith(feed oracle.PriceFeed) *pricing.Resolver {
	reg := oracle.NewRegistry()
	reg.Register(feedAddr, feed)
	return pricing.NewResolver(reg)
}

func TestTokenAmount(t *testing.T) {
	tests := []struct {
		name          string
		usdCents      uint64
		tokenDecimals uint8
		feedDecimals  uint8
		answer        *uint256.Int
		want          string
		wantErr       error
	}{
		{"ten dollars at 2000", 1000, 18, 8, uint256.NewInt(2000_00000000), "5000000000000000", nil},
		{"ten dollars at 4000", 1000, 18, 8, uint256.NewInt(4000_00000000), "2500000000000000", nil},
		{"truncates", 1, 0, 0, uint256.NewInt(3), "0", nil},
		{"max decimals fit", 1, 38, 38, uint256.NewInt(1), "1" + zeros(74), nil},
		{"max decimals overflow", 12, 38, 38, uint256.NewInt(1), "", pricing.ErrPriceOverflow},
		{"token decimals too large", 1, 39, 0, uint256.NewInt(1), "", pricing.ErrDecimalsTooLarge},
		{"feed decimals too large", 1, 0, 39, uint256.NewInt(1), "", pricing.ErrDecimalsTooLarge},
		{"zero answer", 1, 0, 0, uint256.NewInt(0), "", pricing.ErrInvalidOraclePrice},
		{"denominator overflow", 1, 0, 0, new(uint256.Int).Lsh(uint256.NewInt(1), 255), "", pricing.ErrPriceOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pricing.TokenAmount(uint256.NewInt(tt.usdCents), tt.tokenDecimals, tt.feedDecimals, tt.answer)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestTokenAmountHalvesWhenAnswerDoubles(t *testing.T) {
	for _, answer := range []uint64{1, 7, 1999_12345678, 3_00000000} {
		a, err := pricing.TokenAmount(uint256.NewInt(4999), 18, 8, uint256.NewInt(answer))
		require.NoError(t, err)
		b, err := pricing.TokenAmount(uint256.NewInt(4999), 18, 8, uint256.NewInt(answer*2))
		require.NoError(t, err)

		// b == floor(a/2) up to one unit of rounding.
		half := new(uint256.Int).Rsh(a, 1)
		diff := new(uint256.Int)
		if half.Gt(b) {
			diff.Sub(half, b)
		} else {
			diff.Sub(b, half)
		}
		assert.True(t, diff.Cmp(uint256.NewInt(1)) <= 0, "answer=%d a=%s b=%s", answer, a.Dec(), b.Dec())
	}
}

func TestResolveFixed(t *testing.T) {
	r := pricing.NewResolver(nil)
	got, err := r.Resolve(context.Background(), pricing.Terms{Price: types.NewAmount(10)}, now)
	require.NoError(t, err)
	assert.Equal(t, "10", got.String())
}

func TestResolveUSD(t *testing.T) {
	feed := oracle.NewStaticFeed(8, 2000_00000000, now.Add(-time.Minute))
	r := resolverWith(feed)

	got, err := r.Resolve(context.Background(), usdTerms(1000, 18), now)
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000", got.String())

	// The price is read at charge time.
	feed.Set(big.NewInt(4000_00000000), now)
	got, err = r.Resolve(context.Background(), usdTerms(1000, 18), now)
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000", got.String())
}

func TestResolveRejectsBadReadings(t *testing.T) {
	tests := []struct {
		name      string
		answer    *big.Int
		updatedAt time.Time
		wantErr   error
	}{
		{"zero", big.NewInt(0), now, pricing.ErrInvalidOraclePrice},
		{"negative", big.NewInt(-5), now, pricing.ErrInvalidOraclePrice},
		{"stale", big.NewInt(1), now.Add(-time.Hour - time.Second), pricing.ErrStalePrice},
		{"from the future", big.NewInt(1), now.Add(time.Second), pricing.ErrStalePrice},
		{"wider than 256 bits", new(big.Int).Lsh(big.NewInt(1), 256), now, pricing.ErrPriceOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := oracle.NewStaticFeed(8, 1, now)
			feed.Set(tt.answer, tt.updatedAt)
			_, err := resolverWith(feed).Resolve(context.Background(), usdTerms(100, 6), now)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolveAcceptsReadingAtMaxAge(t *testing.T) {
	feed := oracle.NewStaticFeed(8, 1_00000000, now.Add(-time.Hour))
	_, err := resolverWith(feed).Resolve(context.Background(), usdTerms(100, 6), now)
	require.NoError(t, err)
}

func TestResolveMaxPriceAgeOption(t *testing.T) {
	reg := oracle.NewRegistry()
	reg.Register(feedAddr, oracle.NewStaticFeed(8, 1_00000000, now.Add(-2*time.Minute)))
	r := pricing.NewResolver(reg, pricing.WithMaxPriceAge(time.Minute))

	_, err := r.Resolve(context.Background(), usdTerms(100, 6), now)
	require.ErrorIs(t, err, pricing.ErrStalePrice)
}

func TestResolveTokenDecimalsCheckedFirst(t *testing.T) {
	// No feed is registered: the decimals check must fire before any lookup.
	r := pricing.NewResolver(oracle.NewRegistry())
	_, err := r.Resolve(context.Background(), usdTerms(1, 39), now)
	require.ErrorIs(t, err, pricing.ErrDecimalsTooLarge)
}

func TestResolveUnknownFeed(t *testing.T) {
	r := pricing.NewResolver(oracle.NewRegistry())
	_, err := r.Resolve(context.Background(), usdTerms(1, 6), now)
	require.ErrorIs(t, err, oracle.ErrFeedNotFound)
}

func zeros(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
