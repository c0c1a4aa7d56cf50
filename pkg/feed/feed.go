// Package feed is the oracle-facing side of a price feed. It registers oracles, keeps and
// persists their statuses, forwards their pushes to the rounds manager and publishes
// round starts and unit price quotes.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/pubsub"
)

// StatusStore persists oracle statuses.
type StatusStore interface {
	LoadStatuses() ([]flux.OracleStatus, error)
	PutStatus(flux.OracleStatus) error
	DeleteStatus(oracleID string) error
}

// Store keeps both the round state and the oracle statuses of a feed. The status settled
// by a push is part of the round change set, so both land in one commit.
type Store interface {
	flux.Backend
	StatusStore
}

// Deps are the collaborators of a Feed.
type Deps struct {
	Backend       Store
	Timer         flux.Timer
	Authenticator flux.QuoteAuthenticator
	Logger        *logging.Logger
}

// RoundState is what an oracle needs to decide where to submit.
type RoundState struct {
	flux.Suggestion
	OracleCount int
}

// Feed is one price feed.
type Feed struct {
	name     string
	manager  *flux.RoundsManager
	statuses StatusStore
	logger   *logging.Logger

	oracles cmap.ConcurrentMap[string, *oracleEntry]

	latestRounds *pubsub.Topic[flux.LatestRound]
	quotes       *pubsub.Topic[*flux.PriceQuote]

	unitAmountIn flux.Amount
	createQuote  flux.CreateQuote
	answered     chan struct{}
}

type oracleEntry struct {
	// mu serializes pushes of one oracle so each starts from the status the previous one
	// returned.
	mu     sync.Mutex
	status flux.OracleStatus
}

// New builds a feed and restores its registered oracles.
func New(cfg flux.Config, deps Deps) (*Feed, error) {
	if deps.Backend == nil {
		return nil, errors.New("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoopLogger()
	}

	f := &Feed{
		name:         cfg.Name,
		statuses:     deps.Backend,
		logger:       deps.Logger.With("feed", cfg.Name),
		oracles:      cmap.New[*oracleEntry](),
		latestRounds: pubsub.NewTopic[flux.LatestRound](true),
		quotes:       pubsub.NewTopic[*flux.PriceQuote](true),
		unitAmountIn: flux.Amount{Brand: cfg.BrandIn, Value: cfg.UnitAmountIn},
		answered:     make(chan struct{}, 1),
	}

	manager, err := flux.NewRoundsManager(cfg, flux.Deps{
		Backend:       deps.Backend,
		Timer:         deps.Timer,
		Answers:       f,
		LatestRounds:  f,
		Authenticator: deps.Authenticator,
		Logger:        deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	f.manager = manager
	f.createQuote = manager.MakeCreateQuote(flux.QuoteOptions{})

	statuses, err := deps.Backend.LoadStatuses()
	if err != nil {
		return nil, fmt.Errorf("failed to load oracle statuses: %w", err)
	}
	for _, s := range statuses {
		f.oracles.Set(s.OracleID, &oracleEntry{status: s})
	}

	// a restarted feed republishes the quote of the answer it already has
	if _, ok := manager.LastValueOut(); ok {
		f.PublishAnswer()
	}

	f.logger.Info("Feed ready", "oracles", len(statuses), "reporting_round", manager.ReportingRoundID())
	return f, nil
}

// Name returns the feed name.
func (f *Feed) Name() string {
	return f.name
}

// Manager returns the feed's rounds manager.
func (f *Feed) Manager() *flux.RoundsManager {
	return f.manager
}

// InitOracle registers an oracle and returns its capabilities.
func (f *Feed) InitOracle(oracleID string) (*OracleKit, error) {
	if oracleID == "" {
		return nil, errors.New("oracle id must not be empty")
	}

	entry := &oracleEntry{status: flux.NewOracleStatus(oracleID)}
	if !f.oracles.SetIfAbsent(oracleID, entry) {
		return nil, fmt.Errorf("%w: %s", ErrOracleExists, oracleID)
	}
	if err := f.statuses.PutStatus(entry.status); err != nil {
		f.oracles.Remove(oracleID)
		return nil, fmt.Errorf("failed to persist oracle %s: %w", oracleID, err)
	}

	f.logger.Info("Oracle registered", "oracle", oracleID)
	return f.kit(oracleID, entry), nil
}

// Oracle returns the capabilities of a registered oracle.
func (f *Feed) Oracle(oracleID string) (*OracleKit, error) {
	entry, ok := f.oracles.Get(oracleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
	}
	return f.kit(oracleID, entry), nil
}

func (f *Feed) kit(oracleID string, entry *oracleEntry) *OracleKit {
	return &OracleKit{
		Oracle: &Oracle{feed: f, id: oracleID, entry: entry},
		Admin:  &OracleAdmin{feed: f, id: oracleID, entry: entry},
	}
}

// RemoveOracle permanently disables an oracle. Its status is kept so the id cannot be
// registered again.
func (f *Feed) RemoveOracle(oracleID string) error {
	entry, ok := f.oracles.Get(oracleID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
	}
	return f.disable(oracleID, entry)
}

// OracleCount returns the number of registered oracles, disabled ones included.
func (f *Feed) OracleCount() int {
	return f.oracles.Count()
}

// Statuses returns the statuses of all registered oracles.
func (f *Feed) Statuses() []flux.OracleStatus {
	out := make([]flux.OracleStatus, 0, f.oracles.Count())
	for _, entry := range f.oracles.Items() {
		entry.mu.Lock()
		out = append(out, entry.status)
		entry.mu.Unlock()
	}
	return out
}

// OracleRoundState returns the round the oracle should report on when queried is zero,
// and the state of round queried otherwise.
func (f *Feed) OracleRoundState(ctx context.Context, oracleID string, queried uint64) (RoundState, error) {
	entry, ok := f.oracles.Get(oracleID)
	if !ok {
		return RoundState{}, fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
	}

	now, err := f.manager.Now(ctx)
	if err != nil {
		return RoundState{}, fmt.Errorf("failed to get current time: %w", err)
	}

	entry.mu.Lock()
	status := entry.status
	entry.mu.Unlock()

	state := RoundState{OracleCount: f.OracleCount()}
	if queried == 0 {
		state.Suggestion = f.manager.OracleRoundStateSuggestRound(status, now)
		return state, nil
	}

	round, err := f.manager.GetRoundStatus(queried)
	if err != nil {
		return RoundState{}, err
	}
	state.Suggestion = flux.Suggestion{
		QueriedRoundID:           queried,
		EligibleForSpecificRound: f.manager.EligibleForSpecificRound(status, queried, now),
		LatestSubmission:         status.LatestSubmission,
		StartedAt:                round.StartedAt,
		RoundTimeout:             round.RoundTimeout,
	}
	return state, nil
}

// GetRoundData returns the answer of a round.
func (f *Feed) GetRoundData(roundID uint64) (flux.RoundData, error) {
	return f.manager.GetRoundData(roundID)
}

// LatestRoundData returns the answer of the reporting round.
func (f *Feed) LatestRoundData() (flux.RoundData, error) {
	return f.manager.LatestRoundData()
}

// GetRoundStatus returns a round with its details while it is open.
func (f *Feed) GetRoundStatus(roundID uint64) (flux.RoundStatus, error) {
	return f.manager.GetRoundStatus(roundID)
}

// Quote returns an authenticated quote for amountIn at the latest answer. It returns nil
// when the feed has no answer yet.
func (f *Feed) Quote(ctx context.Context, amountIn flux.Amount) (*flux.PriceQuote, error) {
	return f.createQuote(ctx, flux.QuoteGiven(amountIn))
}

// QuoteWanted returns an authenticated quote for the amount in needed to get amountOut.
func (f *Feed) QuoteWanted(ctx context.Context, amountOut flux.Amount) (*flux.PriceQuote, error) {
	return f.createQuote(ctx, flux.QuoteWanted(amountOut))
}

// SubscribeLatestRounds streams every round start. The latest one is replayed.
func (f *Feed) SubscribeLatestRounds() *pubsub.Subscription[flux.LatestRound] {
	return f.latestRounds.Subscribe()
}

// WatchLatestRounds is SubscribeLatestRounds for readers that only care about the most
// recent round start: older undelivered ones are dropped.
func (f *Feed) WatchLatestRounds() *pubsub.Subscription[flux.LatestRound] {
	return f.latestRounds.SubscribeBuffered(1)
}

// SubscribeQuotes streams the unit quote of every new answer. The latest one is replayed.
func (f *Feed) SubscribeQuotes() *pubsub.Subscription[*flux.PriceQuote] {
	return f.quotes.Subscribe()
}

// LatestRound returns the most recently started round.
func (f *Feed) LatestRound() (flux.LatestRound, bool) {
	return f.latestRounds.Latest()
}

// LatestQuote returns the most recently published unit quote.
func (f *Feed) LatestQuote() (*flux.PriceQuote, bool) {
	return f.quotes.Latest()
}

// WriteLatestRound implements flux.RoundRecorder.
func (f *Feed) WriteLatestRound(lr flux.LatestRound) {
	f.latestRounds.Publish(lr)
}

// PublishAnswer implements flux.AnswerPublisher. Signals are coalesced; the quote loop
// always prices the latest answer.
func (f *Feed) PublishAnswer() {
	select {
	case f.answered <- struct{}{}:
	default:
	}
}

// Run publishes a unit quote after every new answer until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.answered:
		}

		q, err := f.createQuote(ctx, flux.QuoteGiven(f.unitAmountIn))
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Error("Failed to create unit quote", "error", err)
		case q != nil:
			f.quotes.Publish(q)
		}
	}
}

func (f *Feed) disable(oracleID string, entry *oracleEntry) error {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.status.Disabled {
		return nil
	}
	status := entry.status
	status.Disabled = true
	if err := f.statuses.PutStatus(status); err != nil {
		return fmt.Errorf("failed to persist oracle %s: %w", oracleID, err)
	}
	entry.status = status
	f.logger.Info("Oracle disabled", "oracle", oracleID)
	return nil
}
