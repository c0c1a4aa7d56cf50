package flux

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/StrathCole/flux-aggregator/pkg/metrics"
)

// Amount is a quantity of a brand.
type Amount struct {
	Brand string
	Value uint256.Int
}

// PriceDescription states that AmountIn was worth AmountOut at Timestamp on Timer.
type PriceDescription struct {
	AmountIn  Amount
	AmountOut Amount
	Timer     string
	Timestamp Timestamp
}

// PriceQuote is a set of price descriptions vouched for by Issuer.
type PriceQuote struct {
	Descriptions []PriceDescription
	Issuer       string
	Signature    []byte
}

// QuoteAuthenticator turns price descriptions into an authenticated quote.
type QuoteAuthenticator interface {
	AuthenticateQuote(ctx context.Context, descriptions []PriceDescription) (*PriceQuote, error)
}

// QuoteRequest is the outcome of a PriceQuery. A zero Timestamp leaves the choice to the
// quote options or the timer.
type QuoteRequest struct {
	AmountIn  Amount
	AmountOut Amount
	Timestamp Timestamp
}

// CalcAmount converts an amount of one brand of the feed into the other.
type CalcAmount func(Amount) (Amount, error)

// PriceQuery describes a quote in terms of the feed's conversion functions. Returning nil
// aborts the quote.
type PriceQuery func(calcAmountOut, calcAmountIn CalcAmount) (*QuoteRequest, error)

// CreateQuote produces an authenticated quote for a query. It returns nil without error
// when no price is known yet or the query aborted.
type CreateQuote func(ctx context.Context, query PriceQuery) (*PriceQuote, error)

// QuoteOptions tune a CreateQuote.
type QuoteOptions struct {
	// OverrideValueOut replaces the latest answer as the price of one unit in.
	OverrideValueOut *uint256.Int
	// Timestamp is used when the query does not set one.
	Timestamp Timestamp
}

// AuthenticateQuote vouches for the descriptions with the configured authenticator.
func (m *RoundsManager) AuthenticateQuote(ctx context.Context, descriptions []PriceDescription) (*PriceQuote, error) {
	if m.authenticator == nil {
		return nil, errors.New("no quote authenticator configured")
	}
	q, err := m.authenticator.AuthenticateQuote(ctx, descriptions)
	if err != nil {
		metrics.RecordQuote(m.cfg.Name, "error")
		return nil, err
	}
	metrics.RecordQuote(m.cfg.Name, "ok")
	return q, nil
}

// MakeCreateQuote returns a quote function priced at the latest answer, or at
// opts.OverrideValueOut. The latest answer is read when the quote is made.
func (m *RoundsManager) MakeCreateQuote(opts QuoteOptions) CreateQuote {
	brandIn, brandOut := m.cfg.BrandIn, m.cfg.BrandOut
	unitIn := m.cfg.UnitAmountIn

	return func(ctx context.Context, query PriceQuery) (*PriceQuote, error) {
		var valueOut uint256.Int
		if opts.OverrideValueOut != nil {
			valueOut = *opts.OverrideValueOut
		} else {
			v, ok := m.LastValueOut()
			if !ok {
				return nil, nil
			}
			valueOut = v
		}

		calcAmountOut := func(in Amount) (Amount, error) {
			if in.Brand != brandIn {
				return Amount{}, fmt.Errorf("%w: got %s, want %s", ErrBrandMismatch, in.Brand, brandIn)
			}
			out, err := mulDivFloor(&in.Value, &valueOut, &unitIn)
			if err != nil {
				return Amount{}, err
			}
			return Amount{Brand: brandOut, Value: out}, nil
		}
		calcAmountIn := func(out Amount) (Amount, error) {
			if out.Brand != brandOut {
				return Amount{}, fmt.Errorf("%w: got %s, want %s", ErrBrandMismatch, out.Brand, brandOut)
			}
			in, err := mulDivCeil(&out.Value, &unitIn, &valueOut)
			if err != nil {
				return Amount{}, err
			}
			return Amount{Brand: brandIn, Value: in}, nil
		}

		req, err := query(calcAmountOut, calcAmountIn)
		if err != nil || req == nil {
			return nil, err
		}
		if req.AmountIn.Brand != brandIn {
			return nil, fmt.Errorf("%w: amount in %s, want %s", ErrBrandMismatch, req.AmountIn.Brand, brandIn)
		}
		if req.AmountOut.Brand != brandOut {
			return nil, fmt.Errorf("%w: amount out %s, want %s", ErrBrandMismatch, req.AmountOut.Brand, brandOut)
		}

		ts := req.Timestamp
		if ts == 0 {
			ts = opts.Timestamp
		}
		if ts == 0 {
			if ts, err = m.timer.Now(ctx); err != nil {
				return nil, fmt.Errorf("failed to get current time: %w", err)
			}
		}

		return m.AuthenticateQuote(ctx, []PriceDescription{{
			AmountIn:  req.AmountIn,
			AmountOut: req.AmountOut,
			Timer:     m.cfg.TimerName,
			Timestamp: ts,
		}})
	}
}

// QuoteGiven is a PriceQuery for the value of amountIn.
func QuoteGiven(amountIn Amount) PriceQuery {
	return func(calcAmountOut, _ CalcAmount) (*QuoteRequest, error) {
		out, err := calcAmountOut(amountIn)
		if err != nil {
			return nil, err
		}
		return &QuoteRequest{AmountIn: amountIn, AmountOut: out}, nil
	}
}

// QuoteWanted is a PriceQuery for the amount in needed to obtain amountOut.
func QuoteWanted(amountOut Amount) PriceQuery {
	return func(_, calcAmountIn CalcAmount) (*QuoteRequest, error) {
		in, err := calcAmountIn(amountOut)
		if err != nil {
			return nil, err
		}
		return &QuoteRequest{AmountIn: in, AmountOut: amountOut}, nil
	}
}

func mulDivFloor(x, y, d *uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if d.IsZero() {
		return z, ErrZeroDivisor
	}
	if _, overflow := z.MulDivOverflow(x, y, d); overflow {
		return z, ErrAmountOverflow
	}
	return z, nil
}

func mulDivCeil(x, y, d *uint256.Int) (uint256.Int, error) {
	z, err := mulDivFloor(x, y, d)
	if err != nil {
		return z, err
	}
	var rem uint256.Int
	rem.MulMod(x, y, d)
	if !rem.IsZero() {
		var one uint256.Int
		one.SetOne()
		if _, overflow := z.AddOverflow(&z, &one); overflow {
			return z, ErrAmountOverflow
		}
	}
	return z, nil
}
