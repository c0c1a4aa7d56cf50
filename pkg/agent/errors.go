package agent

import "errors"

var (
	// ErrRejected wraps a push refused by the feed. Rejections are not retried.
	ErrRejected = errors.New("push rejected")
	// ErrScaledOverflow indicates an observation too large for a submission.
	ErrScaledOverflow = errors.New("scaled observation overflows 256 bits")
	// ErrNegativeObservation indicates an observation below zero.
	ErrNegativeObservation = errors.New("negative observation")
)
