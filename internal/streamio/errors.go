package streamio

import "errors"

var (
	// ErrCobsZeroCode is returned when a decoded COBS block has a zero code
	// byte, which never occurs in a well-formed encoding.
	ErrCobsZeroCode = errors.New("streamio: cobs zero code byte")
	// ErrCobsShort is returned when a COBS block claims more bytes than
	// remain in the input.
	ErrCobsShort = errors.New("streamio: cobs short block")
)
