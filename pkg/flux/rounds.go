package flux

import (
	"fmt"

	"github.com/holiman/uint256"
)

func (t *txn) isNextRound(id uint64) bool {
	return id == t.reportingRound()+1
}

// delayed reports whether the oracle has waited out the restart delay since the last
// round it started.
func (t *txn) delayed(status OracleStatus, id uint64) bool {
	lastStarted := status.LastStartedRound
	return lastStarted == 0 || id > lastStarted+t.params.RestartDelay
}

func (t *txn) acceptingSubmissions(id uint64) bool {
	d, ok := t.detail(id)
	return ok && d.MaxSubmissions != 0 && !d.full()
}

func (t *txn) timedOut(id uint64, now Timestamp) bool {
	d, ok := t.detail(id)
	if !ok {
		return false
	}
	r, ok := t.round(id)
	if !ok {
		return false
	}
	return r.StartedAt > 0 && d.RoundTimeout > 0 &&
		uint64(r.StartedAt)+d.RoundTimeout < uint64(now)
}

// supersedable reports whether a round may be followed by the next one: it has an answer
// or it ran out of time.
func (t *txn) supersedable(id uint64, now Timestamp) bool {
	r, ok := t.round(id)
	if !ok {
		return false
	}
	return r.UpdatedAt > 0 || t.timedOut(id, now)
}

func (t *txn) previousAndCurrentUnanswered(id, reporting uint64) bool {
	if id+1 != reporting {
		return false
	}
	r, ok := t.round(reporting)
	return ok && r.UpdatedAt == 0
}

// validateOracleRound returns the first rule the oracle breaks by reporting on round id,
// or nil.
func (t *txn) validateOracleRound(status OracleStatus, id uint64, now Timestamp) error {
	reporting := t.reportingRound()

	canSupersede := true
	if id > 1 {
		canSupersede = t.supersedable(id-1, now)
	}

	if status.LastReportedRound >= id {
		return ErrReportedPreviousRound
	}
	if id > RoundMax ||
		(id != reporting && id != reporting+1 && !t.previousAndCurrentUnanswered(id, reporting)) {
		return ErrInvalidRound
	}
	if id != 1 && !canSupersede {
		return ErrNotSupersedable
	}
	return nil
}

// updateTimedOutRoundInfo closes round id with the previous round's answer when it timed
// out without quorum.
func (t *txn) updateTimedOutRoundInfo(id uint64, now Timestamp) {
	// round 0 never exists, so round 1 has nothing to copy from
	if id <= 1 {
		return
	}
	if !t.timedOut(id, now) {
		return
	}

	prev, _ := t.round(id - 1)
	r, _ := t.round(id)
	r.Answer = prev.Answer
	r.AnsweredInRound = prev.AnsweredInRound
	r.UpdatedAt = now
	t.setRound(id, r)
	t.deleteDetail(id)
	t.answers = append(t.answers, answerEvent{roundID: id, answer: prev.Answer, timeout: true})
}

func (t *txn) initializeNewRound(id uint64, now Timestamp, starter string) error {
	if !t.isNextRound(id) {
		return fmt.Errorf("round %d %w", id, ErrRoundAlreadyStarted)
	}

	t.updateTimedOutRoundInfo(id-1, now)
	t.setReportingRound(id)
	t.setDetail(id, RoundDetails{
		Submissions:    make([]uint256.Int, 0, t.params.MaxSubmissionCount),
		MaxSubmissions: t.params.MaxSubmissionCount,
		MinSubmissions: t.params.MinSubmissionCount,
		RoundTimeout:   t.params.Timeout,
	})
	t.setRound(id, Round{StartedAt: now})
	t.latestRound = &LatestRound{RoundID: id, StartedAt: now, StartedBy: starter}
	return nil
}

// proposeNewRound opens round id when it is the next round and the oracle is past its
// restart delay. It reports whether a round was opened.
func (t *txn) proposeNewRound(id uint64, status OracleStatus, now Timestamp) (OracleStatus, bool, error) {
	if !t.isNextRound(id) || !t.delayed(status, id) {
		return status, false, nil
	}
	if err := t.initializeNewRound(id, now, status.OracleID); err != nil {
		return status, false, err
	}
	status.LastStartedRound = id
	return status, true, nil
}

func (t *txn) recordSubmission(value uint256.Int, id uint64, status OracleStatus) (OracleStatus, error) {
	if !t.acceptingSubmissions(id) {
		return status, fmt.Errorf("round %d %w from oracle %q", id, ErrNotAcceptingSubmissions, status.OracleID)
	}

	d, _ := t.detail(id)
	// copy into a fresh buffer so the committed state is never aliased
	subs := make([]uint256.Int, len(d.Submissions), d.MaxSubmissions)
	copy(subs, d.Submissions)
	d.Submissions = append(subs, value)
	t.setDetail(id, d)

	status.LastReportedRound = id
	status.LatestSubmission = value
	return status, nil
}

// updateRoundAnswer sets the median answer once quorum is reached. Every submission past
// quorum recomputes it.
func (t *txn) updateRoundAnswer(id uint64, now Timestamp) (bool, error) {
	d, ok := t.detail(id)
	if !ok || uint32(len(d.Submissions)) < d.MinSubmissions {
		return false, nil
	}

	answer, err := Median(d.Submissions)
	if err != nil {
		return false, err
	}

	r, _ := t.round(id)
	r.Answer = answer
	r.UpdatedAt = now
	r.AnsweredInRound = id
	t.setRound(id, r)
	t.setLastValueOut(answer)
	t.answers = append(t.answers, answerEvent{roundID: id, answer: answer})
	return true, nil
}

func (t *txn) deleteRoundDetails(id uint64) {
	d, ok := t.detail(id)
	if !ok || !d.full() {
		return
	}
	t.deleteDetail(id)
}
