package flux

import "github.com/holiman/uint256"

// suggestRound picks the round the oracle should report on next. An oracle is pushed
// towards the open round; only once it reported there, or the round closed, is it pointed
// at the next one.
func (t *txn) suggestRound(status OracleStatus, now Timestamp) Suggestion {
	reporting := t.reportingRound()
	shouldSupersede := status.LastReportedRound == reporting || !t.acceptingSubmissions(reporting)
	canSupersede := t.supersedable(reporting, now)

	var (
		roundID  uint64
		eligible bool
	)
	if canSupersede && shouldSupersede {
		roundID = reporting + 1
		eligible = t.delayed(status, roundID)
	} else {
		roundID = reporting
		eligible = t.acceptingSubmissions(roundID)
	}

	s := Suggestion{
		QueriedRoundID:   roundID,
		LatestSubmission: status.LatestSubmission,
	}
	if r, ok := t.round(roundID); ok {
		s.StartedAt = r.StartedAt
		if d, ok := t.detail(roundID); ok {
			s.RoundTimeout = d.RoundTimeout
		}
	}
	if t.validateOracleRound(status, roundID, now) != nil {
		eligible = false
	}
	s.EligibleForSpecificRound = eligible
	return s
}

func (t *txn) eligibleForSpecificRound(status OracleStatus, id uint64, now Timestamp) bool {
	err := t.validateOracleRound(status, id, now)
	if r, ok := t.round(id); ok && r.StartedAt > 0 {
		return t.acceptingSubmissions(id) && err == nil
	}
	return t.delayed(status, id) && err == nil
}

// OracleRoundStateSuggestRound tells the oracle which round to report on at time now.
func (m *RoundsManager) OracleRoundStateSuggestRound(status OracleStatus, now Timestamp) Suggestion {
	var s Suggestion
	m.view(func(t *txn) {
		s = t.suggestRound(status, now)
	})
	return s
}

// EligibleForSpecificRound reports whether the oracle may report on round id at time now.
func (m *RoundsManager) EligibleForSpecificRound(status OracleStatus, id uint64, now Timestamp) bool {
	var eligible bool
	m.view(func(t *txn) {
		eligible = t.eligibleForSpecificRound(status, id, now)
	})
	return eligible
}

// GetRoundData returns the answer of round id. Unknown and unanswered rounds yield
// ErrNoData.
func (m *RoundsManager) GetRoundData(id uint64) (RoundData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundData(id)
}

// LatestRoundData returns the data of the reporting round.
func (m *RoundsManager) LatestRoundData() (RoundData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundData(m.state.ReportingRoundID)
}

func (m *RoundsManager) roundData(id uint64) (RoundData, error) {
	r, ok := m.state.Rounds[id]
	if !ok || r.AnsweredInRound == 0 || id > RoundMax {
		return RoundData{}, ErrNoData
	}
	return RoundData{
		RoundID:         id,
		Answer:          r.Answer,
		StartedAt:       r.StartedAt,
		UpdatedAt:       r.UpdatedAt,
		AnsweredInRound: r.AnsweredInRound,
	}, nil
}

// GetRoundStatus returns round id together with its details while it is open.
func (m *RoundsManager) GetRoundStatus(id uint64) (RoundStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.state.Rounds[id]
	if !ok {
		return RoundStatus{}, ErrRoundStatusNotFound
	}
	status := RoundStatus{Round: r}
	if d, ok := m.state.Details[id]; ok {
		status.RoundDetails = d.clone()
		status.Open = true
	}
	return status, nil
}

// ReportingRoundID returns the current reporting round.
func (m *RoundsManager) ReportingRoundID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ReportingRoundID
}

// LastValueOut returns the latest median answer, if any.
func (m *RoundsManager) LastValueOut() (uint256.Int, bool) {
	v := m.lastValueOut.Load()
	if v == nil {
		return uint256.Int{}, false
	}
	return *v, true
}
