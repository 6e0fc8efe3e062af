package baton

// Status is defined on a separate file, so enumer can generate its string conversions.

// Status of a Baton: it starts as StatusUnknown, moves to StatusRunning once
// the device-side poll is confirmed started, and resolves to exactly one of
// the terminal values StatusTimedOut or StatusAborted.
//
// Timing out and aborting are not errors, they are the two normal outcomes;
// callers distinguish them to decide whether a stall was a fault or an
// intentional cancellation.
type Status int32

//go:generate go tool enumer -type=Status -trimprefix=Status status.go

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusTimedOut
	StatusAborted
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusTimedOut || s == StatusAborted
}
