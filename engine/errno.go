package engine

import (
	"net"
	"os"
	"strconv"
)

// Errno is an error number reported by the engine's socket layer. Values
// follow the Linux numbering used by the engine's lwIP stack.
type Errno int

const (
	EPERM           Errno = 1
	EINTR           Errno = 4
	EIO             Errno = 5
	EBADF           Errno = 9
	EAGAIN          Errno = 11
	ENOMEM          Errno = 12
	EACCES          Errno = 13
	EFAULT          Errno = 14
	EINVAL          Errno = 22
	EMFILE          Errno = 24
	EPIPE           Errno = 32
	ENOSYS          Errno = 38
	ENOTSOCK        Errno = 88
	EDESTADDRREQ    Errno = 89
	EMSGSIZE        Errno = 90
	EPROTOTYPE      Errno = 91
	ENOPROTOOPT     Errno = 92
	EPROTONOSUPPORT Errno = 93
	EOPNOTSUPP      Errno = 95
	EAFNOSUPPORT    Errno = 97
	EADDRINUSE      Errno = 98
	EADDRNOTAVAIL   Errno = 99
	ENETDOWN        Errno = 100
	ENETUNREACH     Errno = 101
	ECONNABORTED    Errno = 103
	ECONNRESET      Errno = 104
	ENOBUFS         Errno = 105
	EISCONN         Errno = 106
	ENOTCONN        Errno = 107
	ETIMEDOUT       Errno = 110
	ECONNREFUSED    Errno = 111
	EHOSTUNREACH    Errno = 113
	EALREADY        Errno = 114
	EINPROGRESS     Errno = 115

	// EWOULDBLOCK shares its value with EAGAIN.
	EWOULDBLOCK = EAGAIN
)

var errnoText = map[Errno]string{
	EPERM:           "operation not permitted",
	EINTR:           "interrupted system call",
	EIO:             "input/output error",
	EBADF:           "bad file descriptor",
	EAGAIN:          "resource temporarily unavailable",
	ENOMEM:          "cannot allocate memory",
	EACCES:          "permission denied",
	EFAULT:          "bad address",
	EINVAL:          "invalid argument",
	EMFILE:          "too many open files",
	EPIPE:           "broken pipe",
	ENOSYS:          "function not implemented",
	ENOTSOCK:        "socket operation on non-socket",
	EDESTADDRREQ:    "destination address required",
	EMSGSIZE:        "message too long",
	EPROTOTYPE:      "protocol wrong type for socket",
	ENOPROTOOPT:     "protocol not available",
	EPROTONOSUPPORT: "protocol not supported",
	EOPNOTSUPP:      "operation not supported",
	EAFNOSUPPORT:    "address family not supported by protocol",
	EADDRINUSE:      "address already in use",
	EADDRNOTAVAIL:   "cannot assign requested address",
	ENETDOWN:        "network is down",
	ENETUNREACH:     "network is unreachable",
	ECONNABORTED:    "software caused connection abort",
	ECONNRESET:      "connection reset by peer",
	ENOBUFS:         "no buffer space available",
	EISCONN:         "transport endpoint is already connected",
	ENOTCONN:        "transport endpoint is not connected",
	ETIMEDOUT:       "connection timed out",
	ECONNREFUSED:    "connection refused",
	EHOSTUNREACH:    "no route to host",
	EALREADY:        "operation already in progress",
	EINPROGRESS:     "operation now in progress",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return "errno " + strconv.Itoa(int(e))
}

// Timeout reports whether the error is a timeout. A blocking call that hits
// its SO_RCVTIMEO or SO_SNDTIMEO limit reports EAGAIN.
func (e Errno) Timeout() bool {
	return e == EAGAIN || e == ETIMEDOUT
}

// Temporary reports whether retrying the call may succeed.
func (e Errno) Temporary() bool {
	return e == EINTR || e == ENOBUFS || e.Timeout()
}

// Is lets errors.Is match engine errors against the standard library's
// deadline, closed and permission sentinels.
func (e Errno) Is(target error) bool {
	switch target {
	case os.ErrDeadlineExceeded:
		return e.Timeout()
	case net.ErrClosed:
		return e == EBADF
	case os.ErrPermission:
		return e == EACCES || e == EPERM
	}
	return false
}
