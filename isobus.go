// Package isobus talks to Oxford Instruments controllers that share one RS-232
// or GPIB link through the ISOBUS "@<address>" command prefix.
//
// An Interface owns exactly one Link for its lifetime. Device drivers (see the
// ilm package) hold an Interface plus their own ISOBUS address and issue
// commands through Execute, Command or Send.
//
// An Interface is not safe for concurrent use. Run one Interface per physical
// link and let one goroutine at a time drive it.
package isobus

import "time"

const (
	CR = 0x0D
	LF = 0x0A
)

const (
	// NoAddress sends the command verbatim, without the "@<address>" prefix.
	NoAddress = -1
	// RetryForever repeats a failing command until it succeeds or the context
	// is cancelled.
	RetryForever = -1
	// MaxCommandLength is the longest framed command, prefix included.
	MaxCommandLength = 100
	// DefaultResponseSize is the reply capacity used by Command.
	DefaultResponseSize = 80
)

const (
	DefaultPollAttempts = 51
	DefaultPollInterval = 100 * time.Millisecond
	DefaultSettleDelay  = 1000 * time.Millisecond
)

// Flags mirror the isobus_flags field of an interface record.
type Flags uint32

const (
	FlagDebug                    Flags = 0x1
	FlagReadTerminatorIsLinefeed Flags = 0x2
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// ReadTerminator is the character RS-232 replies are expected to end with.
func (f Flags) ReadTerminator() byte {
	if f.Has(FlagReadTerminatorIsLinefeed) {
		return LF
	}
	return CR
}
