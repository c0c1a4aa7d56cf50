package flux

import (
	"context"
	"errors"
	"fmt"

	"github.com/StrathCole/flux-aggregator/pkg/metrics"
)

// HandlePush records one oracle observation and returns the oracle's updated status. The
// status is committed to the backend together with the round state. A rejected push
// leaves all state untouched.
func (m *RoundsManager) HandlePush(ctx context.Context, status OracleStatus, push PriceRound) (OracleStatus, error) {
	params := &m.cfg.Params
	if push.UnitPrice.Lt(&params.MinSubmissionValue) {
		m.rejected(status, push, "out_of_range")
		return status, fmt.Errorf("%w %s", ErrValueBelowMin, params.MinSubmissionValue.Dec())
	}
	if push.UnitPrice.Gt(&params.MaxSubmissionValue) {
		m.rejected(status, push, "out_of_range")
		return status, fmt.Errorf("%w %s", ErrValueAboveMax, params.MaxSubmissionValue.Dec())
	}

	// The timer may block; other pushes can commit meanwhile, so nothing read before this
	// point may be relied upon afterwards.
	now, err := m.timer.Now(ctx)
	if err != nil {
		return status, fmt.Errorf("failed to get current time: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := newTxn(m.state, params)

	roundID := push.RoundID
	if roundID == 0 {
		suggestion := t.suggestRound(status, now)
		roundID = suggestion.QueriedRoundID
		if !suggestion.EligibleForSpecificRound {
			roundID++
		}
	}

	if err := t.validateOracleRound(status, roundID, now); err != nil {
		m.rejected(status, push, "invalid_round")
		return status, err
	}

	proposed, _, err := t.proposeNewRound(roundID, status, now)
	if err != nil {
		return status, err
	}

	settled, err := t.recordSubmission(push.UnitPrice, roundID, proposed)
	if err != nil {
		m.rejected(status, push, "not_accepting")
		return status, err
	}

	if _, err := t.updateRoundAnswer(roundID, now); err != nil {
		return status, err
	}
	t.deleteRoundDetails(roundID)
	t.setStatus(settled)

	if err := m.commit(t); err != nil {
		metrics.RecordSubmission(m.cfg.Name, "error")
		return status, err
	}

	metrics.RecordSubmission(m.cfg.Name, "accepted")
	m.logger.Debug("Submission accepted",
		"oracle", status.OracleID,
		"round", roundID,
		"value", push.UnitPrice.Dec(),
		"at", uint64(now))
	return settled, nil
}

func (m *RoundsManager) rejected(status OracleStatus, push PriceRound, reason string) {
	metrics.RecordSubmission(m.cfg.Name, reason)
	m.logger.Debug("Submission rejected",
		"oracle", status.OracleID,
		"round", push.RoundID,
		"value", push.UnitPrice.Dec(),
		"reason", reason)
}

// IsProtocolError reports whether err is a rejection by the round protocol rather than an
// infrastructure failure. Protocol rejections are not worth retrying unchanged.
func IsProtocolError(err error) bool {
	for _, target := range []error{
		ErrValueBelowMin,
		ErrValueAboveMax,
		ErrNotAcceptingSubmissions,
		ErrReportedPreviousRound,
		ErrInvalidRound,
		ErrNotSupersedable,
		ErrRoundAlreadyStarted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
