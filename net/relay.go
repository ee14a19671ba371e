package net

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	relayPollTimeout = 250 * time.Millisecond
	relayBufferSize  = 32 * 1024
)

// Relay forwards data between a and b in both directions until both
// directions reach end of stream, one fails, or ctx is done. When one side
// finishes sending, the other side's write direction is shut down. Both
// sockets are closed before Relay returns.
//
// Each step reads from one socket with a short timeout and writes what it
// got to the other while holding the source socket's relay lock. Reads
// that would block are retried after a backoff sleep.
func Relay(ctx context.Context, a, b *StreamSocket) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pump(gctx, a, b) })
	g.Go(func() error { return pump(gctx, b, a) })

	err := g.Wait()
	return multierr.Combine(err, a.Close(), b.Close())
}

// pump copies src to dst until src reaches end of stream.
func pump(ctx context.Context, src, dst *StreamSocket) error {
	if err := src.SetReadTimeout(relayPollTimeout); err != nil {
		return err
	}

	bo := &backoff.Backoff{
		Min:    time.Millisecond,
		Max:    50 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}
	buf := make([]byte, relayBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := relayStep(src, dst, buf)
		switch {
		case errors.Is(err, io.EOF):
			src.node.Logger().WithFields(logrus.Fields{
				"function": "pump",
				"handle":   src.Handle(),
			}).Debug("Relay source finished")
			return dst.CloseWrite()
		case isTemporary(err):
			time.Sleep(bo.Duration())
		case err != nil:
			return err
		case n > 0:
			bo.Reset()
		}
	}
}

func relayStep(src, dst *StreamSocket, buf []byte) (int, error) {
	src.relayMu.Lock()
	defer src.relayMu.Unlock()

	n, err := src.Read(buf)
	if err != nil {
		return 0, err
	}
	if _, err := dst.Write(buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
