package flux

import "github.com/holiman/uint256"

// NewSnapshot returns an empty protocol state.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Rounds:  make(map[uint64]Round),
		Details: make(map[uint64]RoundDetails),
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		ReportingRoundID: s.ReportingRoundID,
		Rounds:           make(map[uint64]Round, len(s.Rounds)),
		Details:          make(map[uint64]RoundDetails, len(s.Details)),
	}
	if s.LastValueOut != nil {
		v := *s.LastValueOut
		out.LastValueOut = &v
	}
	for id, r := range s.Rounds {
		out.Rounds[id] = r
	}
	for id, d := range s.Details {
		out.Details[id] = d.clone()
	}
	return out
}

// Apply merges a committed change set into the snapshot.
func (s *Snapshot) Apply(cs *ChangeSet) {
	if s.Rounds == nil {
		s.Rounds = make(map[uint64]Round)
	}
	if s.Details == nil {
		s.Details = make(map[uint64]RoundDetails)
	}
	if cs.ReportingRoundID != nil {
		s.ReportingRoundID = *cs.ReportingRoundID
	}
	if cs.LastValueOut != nil {
		v := *cs.LastValueOut
		s.LastValueOut = &v
	}
	for id, r := range cs.Rounds {
		s.Rounds[id] = r
	}
	for id, d := range cs.Details {
		s.Details[id] = d.clone()
	}
	for _, id := range cs.DeletedDetails {
		delete(s.Details, id)
	}
}

func (d RoundDetails) clone() RoundDetails {
	capacity := int(d.MaxSubmissions)
	if capacity < len(d.Submissions) {
		capacity = len(d.Submissions)
	}
	subs := make([]uint256.Int, len(d.Submissions), capacity)
	copy(subs, d.Submissions)
	d.Submissions = subs
	return d
}
