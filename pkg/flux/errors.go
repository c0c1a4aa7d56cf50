package flux

import "errors"

var (
	// ErrValueBelowMin indicates a submission below the feed's minimum value.
	ErrValueBelowMin = errors.New("value below minSubmissionValue")
	// ErrValueAboveMax indicates a submission above the feed's maximum value.
	ErrValueAboveMax = errors.New("value above maxSubmissionValue")
	// ErrNotAcceptingSubmissions indicates the round is full or was not opened for the oracle.
	ErrNotAcceptingSubmissions = errors.New("not accepting submissions")
	// ErrReportedPreviousRound indicates the oracle already reported at or after the round.
	ErrReportedPreviousRound = errors.New("cannot report on previous rounds")
	// ErrInvalidRound indicates a round that is neither current, next, nor the pending prior round.
	ErrInvalidRound = errors.New("invalid round to report")
	// ErrNotSupersedable indicates the previous round is neither answered nor timed out.
	ErrNotSupersedable = errors.New("previous round not supersedable")
	// ErrRoundAlreadyStarted indicates an attempt to open a round that is not the next one.
	ErrRoundAlreadyStarted = errors.New("already started")
	// ErrNoData indicates an unknown or unanswered round.
	ErrNoData = errors.New("No data present") //nolint:staticcheck // wire-compatible message
	// ErrRoundStatusNotFound is returned by round status queries for unknown rounds. The message
	// is kept verbatim for compatibility with existing consumers.
	ErrRoundStatusNotFound = errors.New("V3_NO_DATA_ERROR")
	// ErrInsufficientSamples indicates a median over no valid samples.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrMinSubmissionCountZero indicates a quorum of zero.
	ErrMinSubmissionCountZero = errors.New("minSubmissionCount must be positive")
	// ErrSubmissionCountRange indicates maxSubmissionCount < minSubmissionCount.
	ErrSubmissionCountRange = errors.New("maxSubmissionCount must be >= minSubmissionCount")
	// ErrSubmissionValueRange indicates maxSubmissionValue < minSubmissionValue.
	ErrSubmissionValueRange = errors.New("maxSubmissionValue must be >= minSubmissionValue")
	// ErrRestartDelayRange indicates a restart delay above RoundMax.
	ErrRestartDelayRange = errors.New("restartDelay must not exceed the maximum round id")
	// ErrTimeoutRange indicates a round timeout above RoundMax ticks.
	ErrTimeoutRange = errors.New("timeout must not exceed the maximum round id")
	// ErrBrandMismatch indicates a quote amount in an unexpected brand.
	ErrBrandMismatch = errors.New("amount brand mismatch")
	// ErrZeroUnitIn indicates a feed configured with a zero unit amount in.
	ErrZeroUnitIn = errors.New("unit amount in must be positive")
)

var (
	// ErrZeroDivisor indicates a conversion against a zero price or unit.
	ErrZeroDivisor = errors.New("division by zero")
	// ErrAmountOverflow indicates a converted amount that does not fit 256 bits.
	ErrAmountOverflow = errors.New("amount overflow")
)
