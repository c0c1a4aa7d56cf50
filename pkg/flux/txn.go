package flux

import (
	"sort"

	"github.com/holiman/uint256"
)

// txn stages writes on top of the committed state. Reads see staged writes first. Nothing
// reaches the committed state until the manager commits the resulting change set.
type txn struct {
	base   *Snapshot
	params *Params

	reportingRoundID *uint64
	lastValueOut     *uint256.Int
	rounds           map[uint64]Round
	details          map[uint64]RoundDetails
	deleted          map[uint64]struct{}
	statuses         []OracleStatus

	answers     []answerEvent
	latestRound *LatestRound
}

type answerEvent struct {
	roundID uint64
	answer  uint256.Int
	timeout bool
}

func newTxn(base *Snapshot, params *Params) *txn {
	return &txn{base: base, params: params}
}

func (t *txn) reportingRound() uint64 {
	if t.reportingRoundID != nil {
		return *t.reportingRoundID
	}
	return t.base.ReportingRoundID
}

func (t *txn) setReportingRound(id uint64) {
	t.reportingRoundID = &id
}

func (t *txn) setLastValueOut(v uint256.Int) {
	t.lastValueOut = &v
}

func (t *txn) round(id uint64) (Round, bool) {
	if r, ok := t.rounds[id]; ok {
		return r, true
	}
	r, ok := t.base.Rounds[id]
	return r, ok
}

func (t *txn) setRound(id uint64, r Round) {
	if t.rounds == nil {
		t.rounds = make(map[uint64]Round)
	}
	t.rounds[id] = r
}

func (t *txn) detail(id uint64) (RoundDetails, bool) {
	if _, gone := t.deleted[id]; gone {
		return RoundDetails{}, false
	}
	if d, ok := t.details[id]; ok {
		return d, true
	}
	d, ok := t.base.Details[id]
	return d, ok
}

func (t *txn) setDetail(id uint64, d RoundDetails) {
	if t.details == nil {
		t.details = make(map[uint64]RoundDetails)
	}
	delete(t.deleted, id)
	t.details[id] = d
}

func (t *txn) setStatus(s OracleStatus) {
	t.statuses = append(t.statuses, s)
}

func (t *txn) deleteDetail(id uint64) {
	if t.deleted == nil {
		t.deleted = make(map[uint64]struct{})
	}
	delete(t.details, id)
	t.deleted[id] = struct{}{}
}

// changeSet returns the staged writes. Details created and deleted within the same
// transaction are reported as deletions only.
func (t *txn) changeSet() *ChangeSet {
	cs := &ChangeSet{
		ReportingRoundID: t.reportingRoundID,
		LastValueOut:     t.lastValueOut,
		Rounds:           t.rounds,
		Details:          t.details,
		Statuses:         t.statuses,
	}
	for id := range t.deleted {
		cs.DeletedDetails = append(cs.DeletedDetails, id)
	}
	sort.Slice(cs.DeletedDetails, func(i, j int) bool {
		return cs.DeletedDetails[i] < cs.DeletedDetails[j]
	})
	return cs
}
