package vnet

// SendMsg gathers bufs and sends them with one SendTo.
func (e *Engine) SendMsg(fd int, bufs [][]byte, flags int, addr []byte) int {
	if len(bufs) == 1 {
		return e.SendTo(fd, bufs[0], flags, addr)
	}
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	gathered := make([]byte, 0, total)
	for _, b := range bufs {
		gathered = append(gathered, b...)
	}
	return e.SendTo(fd, gathered, flags, addr)
}

// RecvMsg receives once into a buffer the size of bufs combined and
// scatters the result across bufs in order.
func (e *Engine) RecvMsg(fd int, bufs [][]byte, flags int, addr []byte, addrlen *int) int {
	if len(bufs) == 1 {
		return e.RecvFrom(fd, bufs[0], flags, addr, addrlen)
	}
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	tmp := make([]byte, total)
	n := e.RecvFrom(fd, tmp, flags, addr, addrlen)
	if n <= 0 {
		return n
	}
	rest := tmp[:n]
	for _, b := range bufs {
		if len(rest) == 0 {
			break
		}
		rest = rest[copy(b, rest):]
	}
	return n
}
