package flux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
)

// Config describes one feed.
type Config struct {
	// Name labels logs and metrics.
	Name   string
	Params Params
	// BrandIn and BrandOut name the units quoted by the feed, e.g. "ATOM" and "USD".
	BrandIn  string
	BrandOut string
	// UnitAmountIn is the amount of BrandIn that every answer prices.
	UnitAmountIn uint256.Int
	// TimerName identifies the time source in quotes.
	TimerName string
}

// Deps are the collaborators of a RoundsManager. Backend and Timer are required.
type Deps struct {
	Backend       Backend
	Timer         Timer
	Answers       AnswerPublisher
	LatestRounds  RoundRecorder
	Authenticator QuoteAuthenticator
	Logger        *logging.Logger
}

// RoundsManager owns the protocol state of one feed. All transitions run under a single
// lock after the current time has been fetched, and are committed to the backend before
// they become visible.
type RoundsManager struct {
	cfg           Config
	backend       Backend
	timer         Timer
	answers       AnswerPublisher
	latestRounds  RoundRecorder
	authenticator QuoteAuthenticator
	logger        *logging.Logger

	mu    sync.Mutex
	state *Snapshot

	// lastValueOut mirrors state.LastValueOut for lock-free quote creation.
	lastValueOut atomic.Pointer[uint256.Int]
}

// NewRoundsManager validates the configuration and loads the committed state.
func NewRoundsManager(cfg Config, deps Deps) (*RoundsManager, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params for feed %s: %w", cfg.Name, err)
	}
	if cfg.UnitAmountIn.IsZero() {
		return nil, ErrZeroUnitIn
	}
	if deps.Backend == nil || deps.Timer == nil {
		return nil, errors.New("backend and timer are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoopLogger()
	}
	if cfg.TimerName == "" {
		cfg.TimerName = "wall"
	}

	state, err := deps.Backend.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load state for feed %s: %w", cfg.Name, err)
	}
	if state == nil {
		state = NewSnapshot()
	}
	state = state.Clone()

	m := &RoundsManager{
		cfg:           cfg,
		backend:       deps.Backend,
		timer:         deps.Timer,
		answers:       deps.Answers,
		latestRounds:  deps.LatestRounds,
		authenticator: deps.Authenticator,
		logger:        deps.Logger.With("feed", cfg.Name),
		state:         state,
	}
	if state.LastValueOut != nil {
		v := *state.LastValueOut
		m.lastValueOut.Store(&v)
	}

	m.logger.Info("Rounds manager loaded",
		"reporting_round", state.ReportingRoundID,
		"rounds", len(state.Rounds),
		"open_rounds", len(state.Details))
	return m, nil
}

// Name returns the feed name.
func (m *RoundsManager) Name() string {
	return m.cfg.Name
}

// Params returns the feed parameters.
func (m *RoundsManager) Params() Params {
	return m.cfg.Params
}

// Brands returns the brands quoted by the feed.
func (m *RoundsManager) Brands() (in, out string) {
	return m.cfg.BrandIn, m.cfg.BrandOut
}

// Now returns the current time of the feed's timer.
func (m *RoundsManager) Now(ctx context.Context) (Timestamp, error) {
	return m.timer.Now(ctx)
}

// view runs fn over the committed state. fn must not retain the txn.
func (m *RoundsManager) view(fn func(t *txn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(newTxn(m.state, &m.cfg.Params))
}

// commit persists the staged writes, makes them visible and dispatches notifications.
// The caller holds m.mu.
func (m *RoundsManager) commit(t *txn) error {
	cs := t.changeSet()
	if cs.Empty() {
		return nil
	}

	start := time.Now()
	if err := m.backend.Commit(cs); err != nil {
		return fmt.Errorf("failed to commit round state: %w", err)
	}
	metrics.RecordCommit(m.cfg.Name, time.Since(start))

	m.state.Apply(cs)
	if cs.LastValueOut != nil {
		v := *cs.LastValueOut
		m.lastValueOut.Store(&v)
	}

	m.notify(t)
	return nil
}

func (m *RoundsManager) notify(t *txn) {
	published := false
	for _, ev := range t.answers {
		kind := "quorum"
		if ev.timeout {
			kind = "timeout"
		}
		metrics.RecordAnswer(m.cfg.Name, kind, ev.answer.Float64())
		m.logger.Debug("Round answered", "round", ev.roundID, "answer", ev.answer.Dec(), "kind", kind)
		if !ev.timeout {
			published = true
		}
	}
	if t.latestRound != nil {
		metrics.RecordRoundStarted(m.cfg.Name, t.latestRound.RoundID)
		m.logger.Info("Round started",
			"round", t.latestRound.RoundID,
			"started_at", uint64(t.latestRound.StartedAt),
			"started_by", t.latestRound.StartedBy)
		if m.latestRounds != nil {
			m.latestRounds.WriteLatestRound(*t.latestRound)
		}
	}
	if published && m.answers != nil {
		m.answers.PublishAnswer()
	}
}
