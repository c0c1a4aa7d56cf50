// Package store implements durable backends for feed state.
package store

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

const dbVersion = 1

// Key prefixes. Every key but the metadata key continues with the feed name, a zero byte
// and, for per-round keys, the big-endian round id.
const (
	prefixMetadata byte = 0x01
	prefixState    byte = 0x02
	prefixRound    byte = 0x03
	prefixDetails  byte = 0x04
	prefixStatus   byte = 0x05
)

type dbMetadata struct {
	Version uint64 `cbor:"version"`
}

type stateRecord struct {
	ReportingRoundID uint64 `cbor:"reporting_round_id"`
	LastValueOut     []byte `cbor:"last_value_out,omitempty"`
	HasLastValueOut  bool   `cbor:"has_last_value_out"`
}

type roundRecord struct {
	Answer          []byte `cbor:"answer"`
	StartedAt       uint64 `cbor:"started_at"`
	UpdatedAt       uint64 `cbor:"updated_at"`
	AnsweredInRound uint64 `cbor:"answered_in_round"`
}

type detailsRecord struct {
	Submissions    [][]byte `cbor:"submissions"`
	MaxSubmissions uint32   `cbor:"max_submissions"`
	MinSubmissions uint32   `cbor:"min_submissions"`
	RoundTimeout   uint64   `cbor:"round_timeout"`
}

type statusRecord struct {
	OracleID          string `cbor:"oracle_id"`
	Disabled          bool   `cbor:"disabled"`
	LastReportedRound uint64 `cbor:"last_reported_round"`
	LastStartedRound  uint64 `cbor:"last_started_round"`
	LatestSubmission  []byte `cbor:"latest_submission"`
}

func natBytes(v *uint256.Int) []byte {
	return v.Bytes()
}

func natFromBytes(b []byte) uint256.Int {
	var v uint256.Int
	v.SetBytes(b)
	return v
}

func toRoundRecord(r flux.Round) roundRecord {
	return roundRecord{
		Answer:          natBytes(&r.Answer),
		StartedAt:       uint64(r.StartedAt),
		UpdatedAt:       uint64(r.UpdatedAt),
		AnsweredInRound: r.AnsweredInRound,
	}
}

func (r roundRecord) round() flux.Round {
	return flux.Round{
		Answer:          natFromBytes(r.Answer),
		StartedAt:       flux.Timestamp(r.StartedAt),
		UpdatedAt:       flux.Timestamp(r.UpdatedAt),
		AnsweredInRound: r.AnsweredInRound,
	}
}

func toDetailsRecord(d flux.RoundDetails) detailsRecord {
	rec := detailsRecord{
		Submissions:    make([][]byte, len(d.Submissions)),
		MaxSubmissions: d.MaxSubmissions,
		MinSubmissions: d.MinSubmissions,
		RoundTimeout:   d.RoundTimeout,
	}
	for i := range d.Submissions {
		rec.Submissions[i] = natBytes(&d.Submissions[i])
	}
	return rec
}

func (r detailsRecord) details() flux.RoundDetails {
	capacity := int(r.MaxSubmissions)
	if capacity < len(r.Submissions) {
		capacity = len(r.Submissions)
	}
	d := flux.RoundDetails{
		Submissions:    make([]uint256.Int, len(r.Submissions), capacity),
		MaxSubmissions: r.MaxSubmissions,
		MinSubmissions: r.MinSubmissions,
		RoundTimeout:   r.RoundTimeout,
	}
	for i, b := range r.Submissions {
		d.Submissions[i] = natFromBytes(b)
	}
	return d
}

func toStatusRecord(s flux.OracleStatus) statusRecord {
	return statusRecord{
		OracleID:          s.OracleID,
		Disabled:          s.Disabled,
		LastReportedRound: s.LastReportedRound,
		LastStartedRound:  s.LastStartedRound,
		LatestSubmission:  natBytes(&s.LatestSubmission),
	}
}

func (r statusRecord) status() flux.OracleStatus {
	return flux.OracleStatus{
		OracleID:          r.OracleID,
		Disabled:          r.Disabled,
		LastReportedRound: r.LastReportedRound,
		LastStartedRound:  r.LastStartedRound,
		LatestSubmission:  natFromBytes(r.LatestSubmission),
	}
}

func metadataKey() []byte {
	return []byte{prefixMetadata}
}

func feedPrefix(prefix byte, feed string) []byte {
	key := make([]byte, 0, len(feed)+2)
	key = append(key, prefix)
	key = append(key, feed...)
	return append(key, 0)
}

func stateKey(feed string) []byte {
	return feedPrefix(prefixState, feed)
}

func roundKey(prefix byte, feed string, id uint64) []byte {
	key := feedPrefix(prefix, feed)
	return binary.BigEndian.AppendUint64(key, id)
}

func decodeRoundID(prefixLen int, key []byte) uint64 {
	return binary.BigEndian.Uint64(key[prefixLen:])
}

func statusKey(feed, oracleID string) []byte {
	return append(feedPrefix(prefixStatus, feed), oracleID...)
}
