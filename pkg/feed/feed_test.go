package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/flux/store"
	"github.com/StrathCole/flux-aggregator/pkg/quote"
	"github.com/StrathCole/flux-aggregator/pkg/timer"
)

const recvTimeout = 5 * time.Second

func nat(v uint64) uint256.Int {
	var x uint256.Int
	x.SetUint64(v)
	return x
}

func testConfig() flux.Config {
	return flux.Config{
		Name: "LINK-USD",
		Params: flux.Params{
			MaxSubmissionCount: 1000,
			MinSubmissionCount: 2,
			RestartDelay:       5,
			Timeout:            10,
			MinSubmissionValue: nat(100),
			MaxSubmissionValue: nat(10000),
		},
		BrandIn:      "LINK",
		BrandOut:     "USD",
		UnitAmountIn: nat(1),
		TimerName:    "manual",
	}
}

type fixture struct {
	feed    *Feed
	timer   *timer.Manual
	backend *store.Memory
	signer  *quote.Signer
}

func newFixture(t *testing.T, cfg flux.Config) *fixture {
	t.Helper()
	key, err := quote.GenerateKey()
	require.NoError(t, err)

	fx := &fixture{
		timer:   timer.NewManual(0),
		backend: store.NewMemory(),
		signer:  quote.NewSigner(key),
	}
	fx.feed, err = New(cfg, Deps{
		Backend:       fx.backend,
		Timer:         fx.timer,
		Authenticator: fx.signer,
	})
	require.NoError(t, err)
	return fx
}

func (fx *fixture) initOracles(t *testing.T, ids ...string) []*OracleKit {
	t.Helper()
	kits := make([]*OracleKit, len(ids))
	for i, id := range ids {
		kit, err := fx.feed.InitOracle(id)
		require.NoError(t, err)
		kits[i] = kit
	}
	return kits
}

func push(t *testing.T, kit *OracleKit, round, value uint64) {
	t.Helper()
	require.NoError(t, kit.Oracle.PushPrice(context.Background(), flux.PriceRound{RoundID: round, UnitPrice: nat(value)}))
}

func answer(t *testing.T, f *Feed, round uint64) uint64 {
	t.Helper()
	data, err := f.GetRoundData(round)
	require.NoError(t, err)
	return data.Answer.Uint64()
}

func TestDisabling(t *testing.T) {
	fx := newFixture(t, testConfig())
	kits := fx.initOracles(t, "agoric1priceOracleA", "agoric1priceOracleB", "agoric1priceOracleC")
	a, b, c := kits[0], kits[1], kits[2]

	fx.timer.Tick()
	push(t, a, 1, 100)
	push(t, b, 1, 200)
	push(t, c, 1, 300)
	fx.timer.Tick()
	assert.Equal(t, uint64(200), answer(t, fx.feed, 1))

	require.NoError(t, a.Admin.Disable())
	err := a.Oracle.PushPrice(context.Background(), flux.PriceRound{RoundID: 2, UnitPrice: nat(100)})
	require.ErrorIs(t, err, ErrDisabledOracle)
	assert.EqualError(t, err, "pushPrice for disabled oracle")

	fx.timer.Tick()
	push(t, b, 2, 200)
	push(t, c, 2, 300)
	fx.timer.Tick()
	assert.Equal(t, uint64(250), answer(t, fx.feed, 2))

	statuses, err := fx.backend.LoadStatuses()
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Disabled)
	assert.Equal(t, uint64(2), statuses[1].LastReportedRound)
}

func TestRemoveOracle(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.initOracles(t, "oracle-a")

	require.NoError(t, fx.feed.RemoveOracle("oracle-a"))
	kit, err := fx.feed.Oracle("oracle-a")
	require.NoError(t, err)
	assert.True(t, kit.Oracle.Status().Disabled)
	require.ErrorIs(t, kit.Oracle.PushPrice(context.Background(), flux.PriceRound{RoundID: 1, UnitPrice: nat(100)}), ErrDisabledOracle)

	_, err = fx.feed.InitOracle("oracle-a")
	require.ErrorIs(t, err, ErrOracleExists)

	require.ErrorIs(t, fx.feed.RemoveOracle("oracle-z"), ErrUnknownOracle)
}

func TestInitOracleTwice(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.initOracles(t, "oracle-a")

	_, err := fx.feed.InitOracle("oracle-a")
	require.ErrorIs(t, err, ErrOracleExists)
	assert.Equal(t, 1, fx.feed.OracleCount())

	_, err = fx.feed.InitOracle("")
	require.Error(t, err)
}

func TestOracleRoundState(t *testing.T) {
	cfg := testConfig()
	cfg.Params.MinSubmissionCount = 3
	cfg.Params.RestartDelay = 1
	cfg.Params.Timeout = 5
	fx := newFixture(t, cfg)
	kits := fx.initOracles(t, "oracle-a", "oracle-b", "oracle-c")
	a, b, c := kits[0], kits[1], kits[2]
	ctx := context.Background()

	fx.timer.Tick()
	push(t, a, 1, 100)
	push(t, b, 1, 200)
	push(t, c, 1, 300)
	fx.timer.Advance(2)
	push(t, b, 2, 1000)

	state, err := fx.feed.OracleRoundState(ctx, "oracle-c", 1)
	require.NoError(t, err)
	assert.Equal(t, RoundState{
		Suggestion: flux.Suggestion{
			QueriedRoundID:           1,
			EligibleForSpecificRound: false,
			LatestSubmission:         nat(300),
			StartedAt:                1,
			RoundTimeout:             5,
		},
		OracleCount: 3,
	}, state)

	state, err = b.Oracle.RoundState(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, RoundState{
		Suggestion: flux.Suggestion{
			QueriedRoundID:           2,
			EligibleForSpecificRound: false,
			LatestSubmission:         nat(1000),
			StartedAt:                3,
			RoundTimeout:             5,
		},
		OracleCount: 3,
	}, state)

	_, err = fx.feed.OracleRoundState(ctx, "oracle-c", 9)
	require.ErrorIs(t, err, flux.ErrRoundStatusNotFound)

	_, err = fx.feed.OracleRoundState(ctx, "oracle-z", 0)
	require.ErrorIs(t, err, ErrUnknownOracle)
}

func TestNotifications(t *testing.T) {
	cfg := testConfig()
	cfg.Params.RestartDelay = 1
	fx := newFixture(t, cfg)
	kits := fx.initOracles(t, "agoric1priceOracleA", "agoric1priceOracleB")
	a, b := kits[0], kits[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.feed.Run(ctx) }()

	rounds := fx.feed.SubscribeLatestRounds()
	defer rounds.Close()
	quotes := fx.feed.SubscribeQuotes()
	defer quotes.Close()

	nextRound := func() flux.LatestRound {
		select {
		case lr := <-rounds.C():
			return lr
		case <-time.After(recvTimeout):
			t.Fatal("no round notification")
		}
		return flux.LatestRound{}
	}
	nextQuote := func() *flux.PriceQuote {
		select {
		case q := <-quotes.C():
			return q
		case <-time.After(recvTimeout):
			t.Fatal("no quote notification")
		}
		return nil
	}

	fx.timer.Tick()
	push(t, a, 1, 100)
	assert.Equal(t, flux.LatestRound{RoundID: 1, StartedAt: 1, StartedBy: "agoric1priceOracleA"}, nextRound())

	push(t, b, 1, 200)
	q := nextQuote()
	require.Len(t, q.Descriptions, 1)
	d := q.Descriptions[0]
	assert.Equal(t, "LINK", d.AmountIn.Brand)
	assert.Equal(t, uint64(1), d.AmountIn.Value.Uint64())
	assert.Equal(t, "USD", d.AmountOut.Brand)
	assert.Equal(t, uint64(150), d.AmountOut.Value.Uint64())
	assert.Equal(t, "manual", d.Timer)
	assert.Equal(t, flux.Timestamp(1), d.Timestamp)
	require.NoError(t, quote.Verify(q))
	assert.Equal(t, fx.signer.Address().Hex(), q.Issuer)

	// A started the last round and cannot start the next one
	err := a.Oracle.PushPrice(context.Background(), flux.PriceRound{RoundID: 2, UnitPrice: nat(1000)})
	require.ErrorIs(t, err, flux.ErrNotAcceptingSubmissions)
	latest, ok := fx.feed.LatestRound()
	require.True(t, ok)
	assert.Equal(t, flux.LatestRound{RoundID: 1, StartedAt: 1, StartedBy: "agoric1priceOracleA"}, latest)

	push(t, b, 2, 1000)
	assert.Equal(t, flux.LatestRound{RoundID: 2, StartedAt: 1, StartedBy: "agoric1priceOracleB"}, nextRound())
	push(t, a, 2, 1000)
	q = nextQuote()
	assert.Equal(t, uint64(1000), q.Descriptions[0].AmountOut.Value.Uint64())

	push(t, a, 3, 1000)
	assert.Equal(t, flux.LatestRound{RoundID: 3, StartedAt: 1, StartedBy: "agoric1priceOracleA"}, nextRound())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(recvTimeout):
		t.Fatal("quote loop did not stop")
	}
}

func TestWatchLatestRoundsKeepsNewest(t *testing.T) {
	cfg := testConfig()
	cfg.Params.RestartDelay = 1
	fx := newFixture(t, cfg)
	kits := fx.initOracles(t, "oracle-a", "oracle-b")
	a, b := kits[0], kits[1]

	watch := fx.feed.WatchLatestRounds()
	defer watch.Close()

	fx.timer.Tick()
	push(t, a, 1, 100)
	push(t, b, 1, 200)
	push(t, b, 2, 1000)
	push(t, a, 2, 1000)
	push(t, a, 3, 1000)

	var got []uint64
	for {
		select {
		case lr := <-watch.C():
			got = append(got, lr.RoundID)
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.Equal(t, uint64(3), got[len(got)-1])
}

func TestQuote(t *testing.T) {
	fx := newFixture(t, testConfig())
	kits := fx.initOracles(t, "oracle-a", "oracle-b")
	ctx := context.Background()

	q, err := fx.feed.Quote(ctx, flux.Amount{Brand: "LINK", Value: nat(2)})
	require.NoError(t, err)
	assert.Nil(t, q, "no answer yet")

	fx.timer.Tick()
	push(t, kits[0], 1, 100)
	push(t, kits[1], 1, 201)

	q, err = fx.feed.Quote(ctx, flux.Amount{Brand: "LINK", Value: nat(2)})
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, uint64(300), q.Descriptions[0].AmountOut.Value.Uint64())

	q, err = fx.feed.QuoteWanted(ctx, flux.Amount{Brand: "USD", Value: nat(151)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), q.Descriptions[0].AmountIn.Value.Uint64())
}

func TestFeedRestoresOracles(t *testing.T) {
	fx := newFixture(t, testConfig())
	kits := fx.initOracles(t, "oracle-a", "oracle-b")
	fx.timer.Tick()
	push(t, kits[0], 1, 100)
	require.NoError(t, kits[1].Admin.Disable())

	restored, err := New(testConfig(), Deps{Backend: fx.backend, Timer: fx.timer})
	require.NoError(t, err)
	assert.Equal(t, 2, restored.OracleCount())

	a, err := restored.Oracle("oracle-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.Oracle.Status().LastReportedRound)
	assert.Equal(t, uint64(1), a.Oracle.Status().LastStartedRound)

	b, err := restored.Oracle("oracle-b")
	require.NoError(t, err)
	require.ErrorIs(t, b.Oracle.PushPrice(context.Background(), flux.PriceRound{RoundID: 1, UnitPrice: nat(200)}), ErrDisabledOracle)

	_, err = restored.InitOracle("oracle-a")
	require.ErrorIs(t, err, ErrOracleExists)
	assert.Equal(t, uint64(1), restored.Manager().ReportingRoundID())
}

type flakyStore struct {
	*store.Memory
	failPut    bool
	failCommit bool
}

var errWrite = errors.New("write failed")

func (s *flakyStore) PutStatus(status flux.OracleStatus) error {
	if s.failPut {
		return errWrite
	}
	return s.Memory.PutStatus(status)
}

func (s *flakyStore) Commit(cs *flux.ChangeSet) error {
	if s.failCommit {
		return errWrite
	}
	return s.Memory.Commit(cs)
}

func TestPushStatusCommitsWithRound(t *testing.T) {
	ctx := context.Background()
	backend := &flakyStore{Memory: store.NewMemory()}
	clock := timer.NewManual(1)
	f, err := New(testConfig(), Deps{Backend: backend, Timer: clock})
	require.NoError(t, err)
	a, err := f.InitOracle("oracle-a")
	require.NoError(t, err)
	b, err := f.InitOracle("oracle-b")
	require.NoError(t, err)

	// the pushed status travels with the round, not through PutStatus
	backend.failPut = true
	push(t, a, 1, 100)

	backend.failCommit = true
	err = b.Oracle.PushPrice(ctx, flux.PriceRound{RoundID: 1, UnitPrice: nat(200)})
	require.ErrorIs(t, err, errWrite)
	assert.Zero(t, b.Oracle.Status().LastReportedRound)

	backend.failCommit = false
	restored, err := New(testConfig(), Deps{Backend: backend, Timer: clock})
	require.NoError(t, err)

	ra, err := restored.Oracle("oracle-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ra.Oracle.Status().LastReportedRound)
	err = ra.Oracle.PushPrice(ctx, flux.PriceRound{RoundID: 1, UnitPrice: nat(700)})
	require.ErrorIs(t, err, flux.ErrReportedPreviousRound)

	rb, err := restored.Oracle("oracle-b")
	require.NoError(t, err)
	assert.Zero(t, rb.Oracle.Status().LastReportedRound)

	status, err := restored.GetRoundStatus(1)
	require.NoError(t, err)
	assert.Len(t, status.Submissions, 1)
	_, err = restored.GetRoundData(1)
	require.ErrorIs(t, err, flux.ErrNoData)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	fx := newFixture(t, testConfig())

	require.NoError(t, r.Add(fx.feed))
	require.ErrorIs(t, r.Add(fx.feed), ErrFeedExists)

	got, err := r.Get("LINK-USD")
	require.NoError(t, err)
	assert.Same(t, fx.feed, got)

	_, err = r.Get("nope")
	require.ErrorIs(t, err, ErrUnknownFeed)
	assert.EqualError(t, err, "unknown feed: nope")
	assert.Equal(t, []string{"LINK-USD"}, r.Names())
	assert.Len(t, r.All(), 1)
}
