// Package sockopt reads and writes socket options through the engine.
//
// Options travel as fixed-size payloads. Get and Set size the payload from
// the Go type parameter, so an int32 option moves exactly four bytes and a
// Timeval exactly sixteen. A reply of any other size is an error; values are
// never partially filled.
//
//	ttl, err := sockopt.Get[int32](sock, engine.IPPROTO_IP, engine.IP_TTL)
//	err = sockopt.Set(sock, engine.IPPROTO_TCP, engine.TCP_NODELAY, int32(1))
package sockopt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/ztsock/engine"
)

var (
	// ErrOption is matched by every OptionError.
	ErrOption = errors.New("socket option error")

	// ErrOptionSize indicates the engine returned a payload of unexpected size.
	ErrOptionSize = errors.New("option payload size mismatch")
)

// Target is anything owning an engine socket handle.
type Target interface {
	Engine() engine.Engine
	Handle() int
}

// Value is the set of fixed-size option payload types.
type Value interface {
	~int32 | ~uint32 | Timeval | Linger
}

// Linger mirrors struct linger.
type Linger struct {
	OnOff  int32
	Linger int32
}

// OptionError reports a rejected get or set.
type OptionError struct {
	Op    string
	Level int
	Name  int
	Err   error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("%s level=%#x name=%#x: %v", e.Op, e.Level, e.Name, e.Err)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

func (e *OptionError) Is(target error) bool {
	return target == ErrOption
}

// Get reads option (level, name) into a value of type T.
func Get[T Value](t Target, level, name int) (T, error) {
	var v T
	size := binary.Size(v)
	buf := make([]byte, size)
	n := size

	if rc := t.Engine().GetSockOpt(t.Handle(), level, name, buf, &n); rc < 0 {
		return v, &OptionError{Op: "getsockopt", Level: level, Name: name, Err: engine.Errno(-rc)}
	}
	if n != size {
		return v, &OptionError{
			Op: "getsockopt", Level: level, Name: name,
			Err: fmt.Errorf("%w: got %d bytes, want %d", ErrOptionSize, n, size),
		}
	}
	if _, err := binary.Decode(buf, binary.NativeEndian, &v); err != nil {
		return v, &OptionError{Op: "getsockopt", Level: level, Name: name, Err: err}
	}
	return v, nil
}

// Set writes v as option (level, name).
func Set[T Value](t Target, level, name int, v T) error {
	buf := make([]byte, binary.Size(v))
	if _, err := binary.Encode(buf, binary.NativeEndian, v); err != nil {
		return &OptionError{Op: "setsockopt", Level: level, Name: name, Err: err}
	}
	if rc := t.Engine().SetSockOpt(t.Handle(), level, name, buf); rc < 0 {
		return &OptionError{Op: "setsockopt", Level: level, Name: name, Err: engine.Errno(-rc)}
	}
	return nil
}

// SetBool sets an integer option to 1 or 0.
func SetBool(t Target, level, name int, on bool) error {
	var v int32
	if on {
		v = 1
	}
	return Set(t, level, name, v)
}

// Bool reads an integer option as a flag.
func Bool(t Target, level, name int) (bool, error) {
	v, err := Get[int32](t, level, name)
	return v != 0, err
}

// SetInt sets an integer option.
func SetInt(t Target, level, name int, v int) error {
	return Set(t, level, name, int32(v))
}

// Int reads an integer option.
func Int(t Target, level, name int) (int, error) {
	v, err := Get[int32](t, level, name)
	return int(v), err
}

// TakeError reads and clears SO_ERROR. A zero value yields a nil error.
func TakeError(t Target) (error, error) {
	v, err := Get[int32](t, engine.SOL_SOCKET, engine.SO_ERROR)
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, nil
	}
	return engine.Errno(v), nil
}
