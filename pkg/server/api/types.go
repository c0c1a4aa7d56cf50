package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

// Natural numbers travel as decimal strings so no JSON client loses precision.

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FeedSummary describes one feed in GET /v1/feeds.
type FeedSummary struct {
	Name           string `json:"name"`
	ReportingRound uint64 `json:"reporting_round"`
	Oracles        int    `json:"oracles"`
	LatestAnswer   string `json:"latest_answer,omitempty"`
}

// RoundDataResponse is the answered view of a round.
type RoundDataResponse struct {
	RoundID         uint64 `json:"round_id"`
	Answer          string `json:"answer"`
	StartedAt       uint64 `json:"started_at"`
	UpdatedAt       uint64 `json:"updated_at"`
	AnsweredInRound uint64 `json:"answered_in_round"`
}

// NewRoundDataResponse converts d.
func NewRoundDataResponse(d flux.RoundData) RoundDataResponse {
	return RoundDataResponse{
		RoundID:         d.RoundID,
		Answer:          d.Answer.Dec(),
		StartedAt:       uint64(d.StartedAt),
		UpdatedAt:       uint64(d.UpdatedAt),
		AnsweredInRound: d.AnsweredInRound,
	}
}

// RoundStatusResponse is a round together with its open details.
type RoundStatusResponse struct {
	RoundID         uint64   `json:"round_id"`
	Answer          string   `json:"answer"`
	StartedAt       uint64   `json:"started_at"`
	UpdatedAt       uint64   `json:"updated_at"`
	AnsweredInRound uint64   `json:"answered_in_round"`
	Open            bool     `json:"open"`
	Submissions     []string `json:"submissions"`
	MaxSubmissions  uint32   `json:"max_submissions"`
	MinSubmissions  uint32   `json:"min_submissions"`
	RoundTimeout    uint64   `json:"round_timeout"`
}

// NewRoundStatusResponse converts s.
func NewRoundStatusResponse(id uint64, s flux.RoundStatus) RoundStatusResponse {
	subs := make([]string, len(s.Submissions))
	for i := range s.Submissions {
		subs[i] = s.Submissions[i].Dec()
	}
	return RoundStatusResponse{
		RoundID:         id,
		Answer:          s.Answer.Dec(),
		StartedAt:       uint64(s.StartedAt),
		UpdatedAt:       uint64(s.UpdatedAt),
		AnsweredInRound: s.AnsweredInRound,
		Open:            s.Open,
		Submissions:     subs,
		MaxSubmissions:  s.MaxSubmissions,
		MinSubmissions:  s.MinSubmissions,
		RoundTimeout:    s.RoundTimeout,
	}
}

// RoundStateResponse tells an oracle where to submit.
type RoundStateResponse struct {
	RoundID          uint64 `json:"round_id"`
	EligibleToSubmit bool   `json:"eligible_to_submit"`
	LatestSubmission string `json:"latest_submission"`
	StartedAt        uint64 `json:"started_at"`
	RoundTimeout     uint64 `json:"round_timeout"`
	OracleCount      int    `json:"oracle_count"`
}

// NewRoundStateResponse converts s.
func NewRoundStateResponse(s feed.RoundState) RoundStateResponse {
	return RoundStateResponse{
		RoundID:          s.QueriedRoundID,
		EligibleToSubmit: s.EligibleForSpecificRound,
		LatestSubmission: s.LatestSubmission.Dec(),
		StartedAt:        uint64(s.StartedAt),
		RoundTimeout:     s.RoundTimeout,
		OracleCount:      s.OracleCount,
	}
}

// RoundState converts r back.
func (r RoundStateResponse) RoundState() (feed.RoundState, error) {
	latest, err := ParseNat(r.LatestSubmission)
	if err != nil {
		return feed.RoundState{}, fmt.Errorf("latest_submission: %w", err)
	}
	return feed.RoundState{
		Suggestion: flux.Suggestion{
			QueriedRoundID:           r.RoundID,
			EligibleForSpecificRound: r.EligibleToSubmit,
			LatestSubmission:         latest,
			StartedAt:                flux.Timestamp(r.StartedAt),
			RoundTimeout:             r.RoundTimeout,
		},
		OracleCount: r.OracleCount,
	}, nil
}

// PushPriceRequest is the body of POST .../prices. A zero round id lets the feed pick
// the round.
type PushPriceRequest struct {
	RoundID   uint64 `json:"round_id"`
	UnitPrice string `json:"unit_price"`
}

// OracleStatusResponse is an oracle's status.
type OracleStatusResponse struct {
	OracleID          string `json:"oracle_id"`
	Disabled          bool   `json:"disabled"`
	LastReportedRound uint64 `json:"last_reported_round"`
	LastStartedRound  uint64 `json:"last_started_round"`
	LatestSubmission  string `json:"latest_submission"`
}

// NewOracleStatusResponse converts s.
func NewOracleStatusResponse(s flux.OracleStatus) OracleStatusResponse {
	return OracleStatusResponse{
		OracleID:          s.OracleID,
		Disabled:          s.Disabled,
		LastReportedRound: s.LastReportedRound,
		LastStartedRound:  s.LastStartedRound,
		LatestSubmission:  s.LatestSubmission.Dec(),
	}
}

// AmountResponse is an amount of a brand.
type AmountResponse struct {
	Brand string `json:"brand"`
	Value string `json:"value"`
}

// DescriptionResponse is one priced exchange inside a quote.
type DescriptionResponse struct {
	AmountIn  AmountResponse `json:"amount_in"`
	AmountOut AmountResponse `json:"amount_out"`
	Timer     string         `json:"timer"`
	Timestamp uint64         `json:"timestamp"`
}

// QuoteResponse is an authenticated quote. The signature is 0x-prefixed hex.
type QuoteResponse struct {
	Descriptions []DescriptionResponse `json:"descriptions"`
	Issuer       string                `json:"issuer"`
	Signature    string                `json:"signature"`
}

// NewQuoteResponse converts q.
func NewQuoteResponse(q *flux.PriceQuote) QuoteResponse {
	descs := make([]DescriptionResponse, len(q.Descriptions))
	for i, d := range q.Descriptions {
		descs[i] = DescriptionResponse{
			AmountIn:  AmountResponse{Brand: d.AmountIn.Brand, Value: d.AmountIn.Value.Dec()},
			AmountOut: AmountResponse{Brand: d.AmountOut.Brand, Value: d.AmountOut.Value.Dec()},
			Timer:     d.Timer,
			Timestamp: uint64(d.Timestamp),
		}
	}
	return QuoteResponse{
		Descriptions: descs,
		Issuer:       q.Issuer,
		Signature:    hexutil.Encode(q.Signature),
	}
}

// Quote converts r back so its signature can be verified.
func (r QuoteResponse) Quote() (*flux.PriceQuote, error) {
	sig, err := hexutil.Decode(r.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	descs := make([]flux.PriceDescription, len(r.Descriptions))
	for i, d := range r.Descriptions {
		in, err := ParseNat(d.AmountIn.Value)
		if err != nil {
			return nil, fmt.Errorf("amount_in: %w", err)
		}
		out, err := ParseNat(d.AmountOut.Value)
		if err != nil {
			return nil, fmt.Errorf("amount_out: %w", err)
		}
		descs[i] = flux.PriceDescription{
			AmountIn:  flux.Amount{Brand: d.AmountIn.Brand, Value: in},
			AmountOut: flux.Amount{Brand: d.AmountOut.Brand, Value: out},
			Timer:     d.Timer,
			Timestamp: flux.Timestamp(d.Timestamp),
		}
	}
	return &flux.PriceQuote{Descriptions: descs, Issuer: r.Issuer, Signature: sig}, nil
}

// LatestRoundResponse announces a started round.
type LatestRoundResponse struct {
	RoundID   uint64 `json:"round_id"`
	StartedAt uint64 `json:"started_at"`
	StartedBy string `json:"started_by"`
}

// NewLatestRoundResponse converts lr.
func NewLatestRoundResponse(lr flux.LatestRound) LatestRoundResponse {
	return LatestRoundResponse{RoundID: lr.RoundID, StartedAt: uint64(lr.StartedAt), StartedBy: lr.StartedBy}
}

// PriceData is one aggregated source observation.
type PriceData struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParseNat parses a decimal natural number.
func ParseNat(s string) (uint256.Int, error) {
	var v uint256.Int
	if s == "" {
		return v, nil
	}
	if err := v.SetFromDecimal(s); err != nil {
		return v, fmt.Errorf("invalid natural number %q: %w", s, err)
	}
	return v, nil
}
