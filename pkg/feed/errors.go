package feed

import "errors"

var (
	// ErrDisabledOracle is returned for pushes by a disabled oracle.
	ErrDisabledOracle = errors.New("pushPrice for disabled oracle")
	// ErrOracleExists is returned when registering an oracle twice.
	ErrOracleExists = errors.New("oracle already registered")
	// ErrUnknownOracle is returned for oracles that were never registered.
	ErrUnknownOracle = errors.New("unknown oracle")
	// ErrUnknownFeed is returned by the registry for unknown feed names.
	ErrUnknownFeed = errors.New("unknown feed")
	// ErrFeedExists is returned when adding a feed name twice.
	ErrFeedExists = errors.New("feed already registered")
)
