package engine

// Address families.
const (
	AF_UNSPEC = 0
	AF_INET   = 2
	AF_INET6  = 10
)

// Socket types.
const (
	SOCK_STREAM = 1
	SOCK_DGRAM  = 2
)

// Protocol levels.
const (
	SOL_SOCKET   = 0x0fff
	IPPROTO_IP   = 0
	IPPROTO_TCP  = 6
	IPPROTO_UDP  = 0x11
	IPPROTO_IPV6 = 0x29
)

// SOL_SOCKET options.
const (
	SO_REUSEADDR = 0x0004
	SO_KEEPALIVE = 0x0008
	SO_BROADCAST = 0x0020
	SO_LINGER    = 0x0080
	SO_RCVBUF    = 0x1002
	SO_SNDTIMEO  = 0x1005
	SO_RCVTIMEO  = 0x1006
	SO_ERROR     = 0x1007
	SO_TYPE      = 0x1008
)

// Protocol level options.
const (
	IP_TTL      = 2
	TCP_NODELAY = 1
	IPV6_V6ONLY = 0x1b
)

// Message flags.
const (
	MSG_PEEK     = 0x01
	MSG_DONTWAIT = 0x08
)

// Shutdown directions.
const (
	SHUT_RD   = 0
	SHUT_WR   = 1
	SHUT_RDWR = 2
)

// Textual address buffer sizes, including the terminating NUL.
const (
	INET_ADDRSTRLEN  = 16
	INET6_ADDRSTRLEN = 46
)
