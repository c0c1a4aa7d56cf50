// Package flux implements the round-based price aggregation protocol: oracles submit
// observations into numbered rounds, a round is answered with the median once quorum is
// reached, and an unanswered round is closed by copying the previous answer forward once it
// times out.
package flux

import (
	"context"

	"github.com/holiman/uint256"
)

// RoundMax is the highest valid round id.
const RoundMax uint64 = 1<<32 - 1

// Timestamp is an absolute time in timer ticks. Zero means unset.
type Timestamp uint64

// Params is the immutable configuration of a feed.
type Params struct {
	MaxSubmissionCount uint32
	MinSubmissionCount uint32
	// RestartDelay is the number of rounds an oracle must wait after starting a round
	// before it may start another one.
	RestartDelay       uint64
	MinSubmissionValue uint256.Int
	MaxSubmissionValue uint256.Int
	// Timeout is the round timeout in timer ticks. Zero disables timeouts.
	Timeout uint64
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.MinSubmissionCount == 0 {
		return ErrMinSubmissionCountZero
	}
	if p.MaxSubmissionCount < p.MinSubmissionCount {
		return ErrSubmissionCountRange
	}
	if p.MaxSubmissionValue.Lt(&p.MinSubmissionValue) {
		return ErrSubmissionValueRange
	}
	// keeps round and timestamp arithmetic within uint64
	if p.RestartDelay > RoundMax {
		return ErrRestartDelayRange
	}
	if p.Timeout > RoundMax {
		return ErrTimeoutRange
	}
	return nil
}

// Round is the persisted record of one round. It outlives its RoundDetails.
type Round struct {
	Answer    uint256.Int
	StartedAt Timestamp
	UpdatedAt Timestamp
	// AnsweredInRound equals the round id when the round reached quorum, and is lower
	// when the answer was copied forward on timeout.
	AnsweredInRound uint64
}

// RoundDetails exists only while a round accepts submissions.
type RoundDetails struct {
	Submissions    []uint256.Int
	MaxSubmissions uint32
	MinSubmissions uint32
	RoundTimeout   uint64
}

func (d RoundDetails) full() bool {
	return uint32(len(d.Submissions)) >= d.MaxSubmissions
}

// OracleStatus is an oracle's view of its own participation. It is passed into the rounds
// manager by value and a new value is returned; the caller persists it.
type OracleStatus struct {
	OracleID          string
	Disabled          bool
	LastReportedRound uint64
	LastStartedRound  uint64
	LatestSubmission  uint256.Int
}

// NewOracleStatus returns the status of a freshly registered oracle.
func NewOracleStatus(oracleID string) OracleStatus {
	return OracleStatus{OracleID: oracleID}
}

// PriceRound is one oracle push. A zero RoundID selects the suggested round.
type PriceRound struct {
	RoundID   uint64
	UnitPrice uint256.Int
}

// RoundData is the answered view of a round.
type RoundData struct {
	RoundID         uint64
	Answer          uint256.Int
	StartedAt       Timestamp
	UpdatedAt       Timestamp
	AnsweredInRound uint64
}

// RoundStatus merges a round with its details. Open is false once the details are gone.
type RoundStatus struct {
	Round
	RoundDetails
	Open bool
}

// Suggestion tells an oracle which round it should submit to.
type Suggestion struct {
	QueriedRoundID           uint64
	EligibleForSpecificRound bool
	LatestSubmission         uint256.Int
	StartedAt                Timestamp
	RoundTimeout             uint64
}

// LatestRound is written every time a round starts.
type LatestRound struct {
	RoundID   uint64
	StartedAt Timestamp
	StartedBy string
}

// Snapshot is the complete persisted protocol state of one feed.
type Snapshot struct {
	ReportingRoundID uint64
	LastValueOut     *uint256.Int
	Rounds           map[uint64]Round
	Details          map[uint64]RoundDetails
}

// ChangeSet is the set of writes produced by one committed transition.
type ChangeSet struct {
	ReportingRoundID *uint64
	LastValueOut     *uint256.Int
	Rounds           map[uint64]Round
	Details          map[uint64]RoundDetails
	DeletedDetails   []uint64
	// Statuses are the oracle statuses settled by the transition. Backends persist them
	// in the same write as the round state.
	Statuses []OracleStatus
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return c.ReportingRoundID == nil && c.LastValueOut == nil &&
		len(c.Rounds) == 0 && len(c.Details) == 0 && len(c.DeletedDetails) == 0 &&
		len(c.Statuses) == 0
}

// Backend persists protocol state.
type Backend interface {
	// Load returns the last committed snapshot, or an empty one.
	Load() (*Snapshot, error)
	// Commit atomically applies a change set.
	Commit(cs *ChangeSet) error
}

// Timer supplies the current time. Calls may block.
type Timer interface {
	Now(ctx context.Context) (Timestamp, error)
}

// AnswerPublisher is notified whenever a round gets a fresh median answer.
type AnswerPublisher interface {
	PublishAnswer()
}

// RoundRecorder receives the latest started round.
type RoundRecorder interface {
	WriteLatestRound(LatestRound)
}
