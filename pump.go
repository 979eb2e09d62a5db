package liveroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open, authenticated session to a live room. It owns the
// socket, drives the reader and heartbeat goroutines, and exposes the
// decoded command stream. Create one with Connect; once closed it can never
// be reopened — call Connect again for a new session.
type Conn[T any] struct {
	ws      *websocket.Conn
	writeMu sync.Mutex // serialises WebSocket writes; gorilla requires a single writer

	stateMu sync.RWMutex
	closed  bool
	err     error

	cancel context.CancelFunc
	ch     chan Command[T]
	decode Decoder[T]
	cfg    Config
	logger *slog.Logger

	heartbeatSeq uint32
}

func newConn[T any](ws *websocket.Conn, cfg Config, decode Decoder[T]) *Conn[T] {
	return &Conn[T]{
		ws:     ws,
		ch:     make(chan Command[T], cfg.ChannelCapacity),
		decode: decode,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

func (c *Conn[T]) sendFrame(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// spawn starts the reader and heartbeat goroutines, both cancelled by the
// same context when Close is called.
func (c *Conn[T]) spawn(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.readLoop(ctx)
	go c.heartbeatLoop(ctx)
}

func (c *Conn[T]) isClosed() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.closed
}

// Close tears the connection down. It is safe to call more than once and
// from any goroutine; only the first call has an effect.
func (c *Conn[T]) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.stateMu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	return c.ws.Close()
}

// Err returns the cause the reader task ended with, or nil for a graceful
// close (a clean remote close, or a Close while the reader is waiting on
// the socket). A Close or cancellation that catches the reader blocked on a
// full command channel yields ErrChannelDropped. It only
// returns a meaningful value once the command channel has been drained and
// closed.
func (c *Conn[T]) Err() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.err
}

func (c *Conn[T]) setErr(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// readLoop is the reader task: it owns the receive half of the socket and
// is the sole writer to c.ch.
func (c *Conn[T]) readLoop(ctx context.Context) {
	defer func() {
		close(c.ch)
		c.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if isCleanClose(err) {
				c.logger.Debug("liveroom: remote closed connection", "error", err)
			} else {
				c.logger.Error("liveroom: socket read failed", "error", err)
				c.setErr(err)
			}
			return
		}

		if err := c.handleMessage(ctx, data); err != nil {
			var authErr *AuthRejectedError
			switch {
			case errors.As(err, &authErr):
				c.logger.Error("liveroom: certificate rejected", "code", authErr.Code)
			case errors.Is(err, ErrChannelDropped):
				c.logger.Debug("liveroom: consumer stopped draining, closing", "error", err)
			default:
				c.logger.Error("liveroom: fatal decode error", "error", err)
			}
			c.setErr(err)
			return
		}
	}
}

// handleMessage decodes every frame packed into a single WebSocket message
// and delivers any commands they contain, in order, before returning. It
// returns a non-nil error only for a condition that should end the reader.
func (c *Conn[T]) handleMessage(ctx context.Context, data []byte) error {
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		env, payload, ferr := readFrame(r)
		if ferr != nil && env.HeaderSize != headerSize {
			// Failed before an envelope could even be decoded.
			if errors.Is(ferr, io.EOF) {
				return nil
			}
			return &FramingError{Cause: ferr}
		}

		if len(payload.Commands) > 0 {
			if err := c.deliver(ctx, payload.Commands); err != nil {
				return err
			}
		}

		if ferr != nil {
			// A valid envelope was decoded but its payload was malformed
			// (FramingError) or its batch was cut short (CompressionError).
			// Any commands already extracted were delivered above.
			return ferr
		}

		switch env.Type {
		case TypeHeartbeatResp:
			c.logger.Debug("liveroom: heartbeat reply", "popularity", payload.Popularity)
		case TypeCertificateResp:
			if payload.CertCode != 0 {
				return &AuthRejectedError{Code: payload.CertCode}
			}
			c.logger.Info("liveroom: authenticated")
		}
	}

	return nil
}

// deliver parses and sends each raw command body to the bounded channel, in
// order. A per-command JSON error is logged and skipped; it never aborts
// the batch. The send blocks when the channel is full — this is the entire
// backpressure mechanism — and unblocks early if ctx is cancelled, in which
// case remaining commands in this call are dropped because the consumer is
// gone.
func (c *Conn[T]) deliver(ctx context.Context, raws []json.RawMessage) error {
	for _, raw := range raws {
		cmd, err := parseCommand(raw, c.decode)
		if err != nil {
			c.logger.Warn("liveroom: invalid command json", "error", err)
			continue
		}
		select {
		case c.ch <- cmd:
		case <-ctx.Done():
			return ErrChannelDropped
		}
	}
	return nil
}

// heartbeatLoop is the heartbeat task: it owns the send half of the socket
// except for the one-shot Certificate frame sent by Connect. The first
// heartbeat is sent immediately; subsequent ones follow every
// cfg.HeartbeatInterval.
func (c *Conn[T]) heartbeatLoop(ctx context.Context) {
	for {
		if c.isClosed() {
			return
		}

		c.heartbeatSeq++
		frame := encodeHeartbeat(c.heartbeatSeq)
		if err := c.sendFrame(frame); err != nil {
			c.logger.Warn("liveroom: heartbeat send failed", "error", err)
			c.Close()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.HeartbeatInterval):
		}
	}
}

// isCleanClose reports whether err represents an expected end of stream:
// a standard WebSocket close handshake, or the underlying connection being
// reset/closed without one.
func isCleanClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
