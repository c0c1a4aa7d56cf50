package flux_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/flux/store"
	"github.com/StrathCole/flux-aggregator/pkg/timer"
)

type echoAuthenticator struct {
	calls int
}

func (a *echoAuthenticator) AuthenticateQuote(_ context.Context, d []flux.PriceDescription) (*flux.PriceQuote, error) {
	a.calls++
	return &flux.PriceQuote{Descriptions: d, Issuer: "test"}, nil
}

func newQuoteManager(t *testing.T, unitIn uint64) (*flux.RoundsManager, *timer.Manual, *echoAuthenticator) {
	t.Helper()
	clock := timer.NewManual(0)
	auth := &echoAuthenticator{}
	m, err := flux.NewRoundsManager(flux.Config{
		Name:         "LINK-USD",
		Params:       defaultParams(),
		BrandIn:      "LINK",
		BrandOut:     "USD",
		UnitAmountIn: nat(unitIn),
		TimerName:    "manual",
	}, flux.Deps{Backend: store.NewMemory(), Timer: clock, Authenticator: auth})
	require.NoError(t, err)
	return m, clock, auth
}

func answerRound(t *testing.T, m *flux.RoundsManager, a, b uint64) {
	t.Helper()
	ctx := context.Background()
	_, err := m.HandlePush(ctx, flux.NewOracleStatus(oracleA), flux.PriceRound{RoundID: 1, UnitPrice: nat(a)})
	require.NoError(t, err)
	_, err = m.HandlePush(ctx, flux.NewOracleStatus(oracleB), flux.PriceRound{RoundID: 1, UnitPrice: nat(b)})
	require.NoError(t, err)
}

func TestCreateQuoteWithoutAnswer(t *testing.T) {
	m, _, auth := newQuoteManager(t, 1)

	q, err := m.MakeCreateQuote(flux.QuoteOptions{})(context.Background(),
		flux.QuoteGiven(flux.Amount{Brand: "LINK", Value: nat(1)}))
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Zero(t, auth.calls)
}

func TestCreateQuoteUsesLatestAnswer(t *testing.T) {
	m, clock, _ := newQuoteManager(t, 1)
	clock.Tick()
	answerRound(t, m, 100, 200)

	createQuote := m.MakeCreateQuote(flux.QuoteOptions{})
	q, err := createQuote(context.Background(), flux.QuoteGiven(flux.Amount{Brand: "LINK", Value: nat(1)}))
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Len(t, q.Descriptions, 1)

	d := q.Descriptions[0]
	assert.Equal(t, "LINK", d.AmountIn.Brand)
	assert.Equal(t, uint64(1), d.AmountIn.Value.Uint64())
	assert.Equal(t, "USD", d.AmountOut.Brand)
	assert.Equal(t, uint64(150), d.AmountOut.Value.Uint64())
	assert.Equal(t, "manual", d.Timer)
	assert.Equal(t, flux.Timestamp(1), d.Timestamp)

	// the same function follows later answers
	clock.Tick()
	_, err = m.HandlePush(context.Background(), flux.NewOracleStatus(oracleC), flux.PriceRound{RoundID: 1, UnitPrice: nat(300)})
	require.NoError(t, err)
	q, err = createQuote(context.Background(), flux.QuoteGiven(flux.Amount{Brand: "LINK", Value: nat(3)}))
	require.NoError(t, err)
	assert.Equal(t, uint64(600), q.Descriptions[0].AmountOut.Value.Uint64())
	assert.Equal(t, flux.Timestamp(2), q.Descriptions[0].Timestamp)
}

func TestCreateQuoteRounding(t *testing.T) {
	m, _, _ := newQuoteManager(t, 1000)
	override := nat(333)
	createQuote := m.MakeCreateQuote(flux.QuoteOptions{OverrideValueOut: &override, Timestamp: 42})
	ctx := context.Background()

	// floor(10 * 333 / 1000) = 3
	q, err := createQuote(ctx, flux.QuoteGiven(flux.Amount{Brand: "LINK", Value: nat(10)}))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), q.Descriptions[0].AmountOut.Value.Uint64())
	assert.Equal(t, flux.Timestamp(42), q.Descriptions[0].Timestamp)

	// ceil(1 * 1000 / 333) = 4
	q, err = createQuote(ctx, flux.QuoteWanted(flux.Amount{Brand: "USD", Value: nat(1)}))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), q.Descriptions[0].AmountIn.Value.Uint64())
	assert.Equal(t, "LINK", q.Descriptions[0].AmountIn.Brand)

	// exact division does not round up
	q, err = createQuote(ctx, flux.QuoteWanted(flux.Amount{Brand: "USD", Value: nat(333)}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), q.Descriptions[0].AmountIn.Value.Uint64())
}

func TestCreateQuoteTimestampFromQuery(t *testing.T) {
	m, _, _ := newQuoteManager(t, 1)
	override := nat(5)
	createQuote := m.MakeCreateQuote(flux.QuoteOptions{OverrideValueOut: &override, Timestamp: 42})

	q, err := createQuote(context.Background(), func(calcAmountOut, _ flux.CalcAmount) (*flux.QuoteRequest, error) {
		in := flux.Amount{Brand: "LINK", Value: nat(2)}
		out, err := calcAmountOut(in)
		if err != nil {
			return nil, err
		}
		return &flux.QuoteRequest{AmountIn: in, AmountOut: out, Timestamp: 7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, flux.Timestamp(7), q.Descriptions[0].Timestamp)
	assert.Equal(t, uint64(10), q.Descriptions[0].AmountOut.Value.Uint64())
}

func TestCreateQuoteAbortedQuery(t *testing.T) {
	m, _, auth := newQuoteManager(t, 1)
	override := nat(5)
	createQuote := m.MakeCreateQuote(flux.QuoteOptions{OverrideValueOut: &override})

	q, err := createQuote(context.Background(), func(_, _ flux.CalcAmount) (*flux.QuoteRequest, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Zero(t, auth.calls)
}

func TestCreateQuoteBrandMismatch(t *testing.T) {
	m, _, _ := newQuoteManager(t, 1)
	override := nat(5)
	createQuote := m.MakeCreateQuote(flux.QuoteOptions{OverrideValueOut: &override})

	_, err := createQuote(context.Background(), flux.QuoteGiven(flux.Amount{Brand: "USD", Value: nat(1)}))
	require.ErrorIs(t, err, flux.ErrBrandMismatch)

	_, err = createQuote(context.Background(), func(_, _ flux.CalcAmount) (*flux.QuoteRequest, error) {
		return &flux.QuoteRequest{
			AmountIn:  flux.Amount{Brand: "LINK", Value: nat(1)},
			AmountOut: flux.Amount{Brand: "EUR", Value: nat(1)},
		}, nil
	})
	require.ErrorIs(t, err, flux.ErrBrandMismatch)
}

func TestCreateQuoteZeroOverride(t *testing.T) {
	m, _, _ := newQuoteManager(t, 1)
	var zero uint256.Int
	createQuote := m.MakeCreateQuote(flux.QuoteOptions{OverrideValueOut: &zero})

	_, err := createQuote(context.Background(), flux.QuoteWanted(flux.Amount{Brand: "USD", Value: nat(1)}))
	require.ErrorIs(t, err, flux.ErrZeroDivisor)
}
