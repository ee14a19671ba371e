package sockopt

import (
	"errors"
	"time"

	"github.com/opd-ai/ztsock/engine"
)

// NoTimeout clears a timeout. Any negative duration has the same effect.
const NoTimeout time.Duration = -1

// ErrInvalidTimeout rejects a zero timeout, which would be ambiguous with
// "no timeout" on the wire.
var ErrInvalidTimeout = errors.New("cannot set a 0 duration timeout")

// Timeval mirrors the engine's 64-bit struct timeval.
type Timeval struct {
	Sec  int64
	Usec int64
}

// TimevalFromDuration converts d for SO_RCVTIMEO and SO_SNDTIMEO. Durations
// shorter than a microsecond round up to one microsecond so they do not
// become (0, 0).
func TimevalFromDuration(d time.Duration) (Timeval, error) {
	switch {
	case d == 0:
		return Timeval{}, ErrInvalidTimeout
	case d < 0:
		return Timeval{}, nil
	}
	tv := Timeval{
		Sec:  int64(d / time.Second),
		Usec: int64((d % time.Second) / time.Microsecond),
	}
	if tv.Sec == 0 && tv.Usec == 0 {
		tv.Usec = 1
	}
	return tv, nil
}

// IsZero reports whether tv means "no timeout".
func (tv Timeval) IsZero() bool {
	return tv.Sec == 0 && tv.Usec == 0
}

// Duration converts tv back. Zero means no timeout.
func (tv Timeval) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// SetTimeout sets SO_RCVTIMEO or SO_SNDTIMEO. Pass NoTimeout to clear it.
func SetTimeout(t Target, name int, d time.Duration) error {
	tv, err := TimevalFromDuration(d)
	if err != nil {
		return &OptionError{Op: "setsockopt", Level: engine.SOL_SOCKET, Name: name, Err: err}
	}
	return Set(t, engine.SOL_SOCKET, name, tv)
}

// Timeout reads SO_RCVTIMEO or SO_SNDTIMEO. It returns zero when no
// timeout is set.
func Timeout(t Target, name int) (time.Duration, error) {
	tv, err := Get[Timeval](t, engine.SOL_SOCKET, name)
	if err != nil {
		return 0, err
	}
	return tv.Duration(), nil
}
