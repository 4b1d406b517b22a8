package derive

import (
	"errors"
	"fmt"
)

// Level categorizes how a derivation error must be handled.
type Level uint

const (
	// LevelTemporary is an error that may clear up on retry: transport
	// failures, an engine that is still syncing, data that has not landed yet.
	LevelTemporary Level = iota
	// LevelReset is an error that requires the derivation pipeline to purge
	// and re-derive from the safe head, e.g. after an L1 reorg.
	LevelReset
	// LevelCritical is an unrecoverable error: a logic invariant was broken,
	// or the configuration is wrong.
	LevelCritical
)

func (lvl Level) String() string {
	switch lvl {
	case LevelTemporary:
		return "temp"
	case LevelReset:
		return "reset"
	case LevelCritical:
		return "crit"
	default:
		return fmt.Sprintf("unknown(%d)", lvl)
	}
}

// Error is a leveled error: errors.Is matches on the level, so callers branch
// on severity without inspecting messages.
type Error struct {
	err   error
	level Level
}

func (e Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "derivation error"
}

func (e Error) Unwrap() error {
	return e.err
}

// Is checks if the error is the given target type.
// Any other Error type with the same level is a match.
func (e Error) Is(target error) bool {
	if target, ok := target.(Error); ok {
		return e.level == target.level
	}
	return false
}

func NewError(err error, level Level) error {
	return Error{err: err, level: level}
}

func NewTemporaryError(err error) error {
	return NewError(err, LevelTemporary)
}

func NewResetError(err error) error {
	return NewError(err, LevelReset)
}

func NewCriticalError(err error) error {
	return NewError(err, LevelCritical)
}

// Sentinel errors, use these to get the severity of errors by calling
// errors.Is(err, ErrTemporary) for example.
var (
	ErrTemporary = NewTemporaryError(nil)
	ErrReset     = NewResetError(nil)
	ErrCritical  = NewCriticalError(nil)
)

// ErrDriftBoundExceeded is returned by the sequencing source when the next L2
// timestamp has drifted past the current L1 origin and no next origin is
// known yet.
var ErrDriftBoundExceeded = errors.New("drift bound exceeded without a known next L1 origin")
