// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package server

import (
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/riftgate/riftgate/internal/wire"
)

// readChunk is the per-read buffer size. Frames are small; one chunk
// usually holds several.
const readChunk = 4096

// maxBuffered caps the undecoded backlog one connection may accumulate
// before it is considered hostile.
const maxBuffered = 64 * 1024

// frameConn wraps a TCP connection with stream decoding and serialized
// writes. Reads happen from the connection's own goroutine; writes may come
// from any goroutine (kicks, pings, broadcasts).
type frameConn struct {
	nc  net.Conn
	buf []byte

	wmu sync.Mutex
}

func newFrameConn(nc net.Conn) *frameConn {
	return &frameConn{nc: nc}
}

// remoteIP returns the peer address without the port.
func (c *frameConn) remoteIP() string {
	host, _, err := net.SplitHostPort(c.nc.RemoteAddr().String())
	if err != nil {
		return c.nc.RemoteAddr().String()
	}
	return host
}

// next returns the next whole frame, reading more bytes as needed. An idle
// timeout of zero means block indefinitely.
func (c *frameConn) next(idleTimeout time.Duration) (wire.Message, error) {
	for {
		if len(c.buf) > 0 {
			msg, n, err := wire.Decode(c.buf)
			if err == nil {
				c.buf = c.buf[n:]
				return msg, nil
			}
			if err != wire.ErrIncomplete {
				return nil, err
			}
			if len(c.buf) > maxBuffered {
				return nil, oops.Code("WIRE_BUFFER_OVERRUN").
					Errorf("connection exceeded %d undecoded bytes", maxBuffered)
			}
		}

		if idleTimeout > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return nil, oops.Code("CONN_DEADLINE_FAILED").Wrap(err)
			}
		}
		chunk := make([]byte, readChunk)
		n, err := c.nc.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err //nolint:wrapcheck // io errors pass through for errors.Is checks
		}
	}
}

// send writes one frame. Concurrent senders are serialized.
func (c *frameConn) send(m wire.Message) error {
	frame := m.Encode()

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return oops.Code("CONN_DEADLINE_FAILED").Wrap(err)
	}
	if _, err := c.nc.Write(frame); err != nil {
		return oops.Code("CONN_WRITE_FAILED").
			With("opcode", uint16(m.Opcode())).
			Wrap(err)
	}
	return nil
}

func (c *frameConn) close() {
	_ = c.nc.Close() //nolint:errcheck // best-effort teardown
}
