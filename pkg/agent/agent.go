// Package agent runs an oracle's submission loop: it polls the feed for the round it
// should report on, observes the price from its sources and pushes it when the round is
// open or the price moved past the deviation thresholds.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
)

// Poll outcomes, also used as metric labels.
const (
	ResultSubmitted       = "submitted"
	ResultNotEligible     = "not_eligible"
	ResultNoPrice         = "no_price"
	ResultOutOfRange      = "out_of_range"
	ResultWithinDeviation = "within_deviation"
	ResultRejected        = "rejected"
	ResultError           = "error"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
	defaultRetryElapsed  = 15 * time.Second
)

// Client is an oracle's handle on a feed. *feed.Oracle implements it in process and
// HTTPClient over the API.
type Client interface {
	RoundState(ctx context.Context, queried uint64) (feed.RoundState, error)
	PushPrice(ctx context.Context, push flux.PriceRound) error
}

// Observer produces the current price of a symbol.
type Observer interface {
	Observe(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

// Config configures one agent.
type Config struct {
	Oracle string
	Feed   string
	Symbol string
	// Decimals scales observations: a price p is submitted as floor(p * 10^Decimals).
	Decimals int32

	PollInterval time.Duration
	Deviation    DeviationThresholds

	MinSubmissionValue uint256.Int
	MaxSubmissionValue uint256.Int

	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

// Agent submits observations for one oracle on one feed.
type Agent struct {
	cfg        Config
	client     Client
	observer   Observer
	deviation  *DeviationChecker
	submission *SubmissionChecker
	rounds     <-chan flux.LatestRound
	logger     *logging.Logger
}

// New returns an agent. The submission bounds should match the feed parameters.
func New(cfg Config, client Client, observer Observer, logger *logging.Logger) (*Agent, error) {
	if client == nil || observer == nil {
		return nil, errors.New("agent requires a client and an observer")
	}
	if cfg.Symbol == "" {
		return nil, errors.New("agent symbol must not be empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInterval
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = defaultRetryElapsed
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &Agent{
		cfg:        cfg,
		client:     client,
		observer:   observer,
		deviation:  NewDeviationChecker(cfg.Deviation.Rel, cfg.Deviation.Abs),
		submission: NewSubmissionChecker(&cfg.MinSubmissionValue, &cfg.MaxSubmissionValue),
		logger:     logger.With("oracle", cfg.Oracle, "feed", cfg.Feed),
	}, nil
}

// SetRoundNotifications makes the agent poll as soon as a round starts, in addition to
// its interval.
func (a *Agent) SetRoundNotifications(rounds <-chan flux.LatestRound) {
	a.rounds = rounds
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting oracle agent", "symbol", a.cfg.Symbol, "interval", a.cfg.PollInterval)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Oracle agent stopped")
			return nil
		case <-ticker.C:
			a.poll(ctx)
		case lr, ok := <-a.rounds:
			if !ok {
				a.rounds = nil
				continue
			}
			if lr.StartedBy == a.cfg.Oracle {
				continue
			}
			a.poll(ctx)
		}
	}
}

func (a *Agent) poll(ctx context.Context) {
	result, err := a.Poll(ctx)
	metrics.RecordAgentPoll(a.cfg.Oracle, result)
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("Poll failed", "result", result, "error", err)
	}
}

// Poll runs one submission cycle and returns its outcome.
func (a *Agent) Poll(ctx context.Context) (string, error) {
	state, err := a.client.RoundState(ctx, 0)
	if err != nil {
		return ResultError, fmt.Errorf("failed to get round state: %w", err)
	}
	l := a.logger.With("round", state.QueriedRoundID)

	// Before any round exists the suggestion is round 0 and never eligible. Pushing without
	// a round lets the feed open round 1.
	bootstrap := !state.EligibleForSpecificRound && state.QueriedRoundID == 0
	if !state.EligibleForSpecificRound && !bootstrap {
		l.Debug("Not eligible to submit")
		return ResultNotEligible, nil
	}

	price, err := a.observer.Observe(ctx, a.cfg.Symbol)
	if err != nil {
		return ResultNoPrice, fmt.Errorf("failed to observe %s: %w", a.cfg.Symbol, err)
	}
	scaled := price.Shift(a.cfg.Decimals).Floor()

	if !a.submission.IsValid(scaled) {
		l.Error("Answer is outside acceptable range",
			"min", a.submission.Min.String(),
			"max", a.submission.Max.String(),
			"answer", scaled.String())
		return ResultOutOfRange, nil
	}

	// Joining a round another oracle opened needs no deviation; opening one does.
	opening := state.StartedAt == 0
	if opening && state.QueriedRoundID > 1 {
		latest := decimal.NewFromBigInt(state.LatestSubmission.ToBig(), 0)
		if !a.deviation.OutsideDeviation(latest, scaled) {
			l.Debug("Deviation below threshold, not submitting",
				"latest", latest.String(),
				"answer", scaled.String())
			return ResultWithinDeviation, nil
		}
	}

	value, err := toNat(scaled)
	if err != nil {
		return ResultOutOfRange, err
	}

	push := flux.PriceRound{RoundID: state.QueriedRoundID, UnitPrice: value}
	if err := a.pushWithRetry(ctx, push); err != nil {
		if isPermanent(err) {
			l.Info("Submission rejected", "answer", value.Dec(), "error", err)
			return ResultRejected, err
		}
		return ResultError, err
	}

	l.Info("Submitted answer", "answer", value.Dec(), "opened_round", opening)
	return ResultSubmitted, nil
}

func (a *Agent) pushWithRetry(ctx context.Context, push flux.PriceRound) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.RetryInitialInterval
	policy.MaxElapsedTime = a.cfg.RetryMaxElapsed

	op := func() error {
		err := a.client.PushPrice(ctx, push)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		a.logger.Debug("Retrying push", "round", push.RoundID, "error", err, "next", next)
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

func isPermanent(err error) bool {
	return flux.IsProtocolError(err) ||
		errors.Is(err, feed.ErrDisabledOracle) ||
		errors.Is(err, feed.ErrUnknownOracle) ||
		errors.Is(err, ErrRejected)
}

func toNat(d decimal.Decimal) (uint256.Int, error) {
	var v uint256.Int
	if d.IsNegative() {
		return v, ErrNegativeObservation
	}
	if overflow := v.SetFromBig(d.BigInt()); overflow {
		return v, ErrScaledOverflow
	}
	return v, nil
}
