package liveroom

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// ConnDescriptor is the {host, port, token} triple a Bootstrapper resolves
// for a room, used to compose the WebSocket endpoint.
type ConnDescriptor struct {
	Host  string
	Port  int
	Token string
}

// Bootstrapper is the external REST collaborator the core consumes but
// never implements. Its contract is exactly these four calls; how it
// resolves them (which endpoints, which auth) is entirely up to the
// implementation. See bootstrap/bilibili for one concrete example.
type Bootstrapper interface {
	// UserID resolves the caller's own numeric identifier.
	UserID(ctx context.Context) (uint64, error)
	// RoomID resolves a (possibly short) room identifier to the real one.
	RoomID(ctx context.Context, shortID uint64) (uint64, error)
	// ConnDescriptor resolves the WebSocket host/port/token for a room.
	ConnDescriptor(ctx context.Context, roomID uint64) (ConnDescriptor, error)
	// Fingerprint resolves the opaque anti-bot cookie value.
	Fingerprint(ctx context.Context) (string, error)
}

// Inputs are the values Connect needs to open and authenticate a session.
// A caller typically assembles these from a Bootstrapper.
type Inputs struct {
	UserID      uint64
	RoomID      uint64
	Token       string
	Fingerprint string
	Endpoint    *url.URL
	Compression CompressionPref
}

// Endpoint composes the wss:// URL a connection descriptor points at.
func Endpoint(d ConnDescriptor) *url.URL {
	return &url.URL{
		Scheme: "wss",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/sub",
	}
}

// Connect opens a WebSocket to in.Endpoint, sends the Certificate frame,
// and spawns the reader and heartbeat tasks. It returns as soon as the
// Certificate has been sent; it does not wait for CertificateResp (the
// server begins pushing commands immediately on acceptance, so blocking
// here would only add latency). If the server later rejects the
// Certificate, the reader task ends and the rejection is available via
// (*Conn[T]).Err().
//
// decode may be nil, in which case every command is delivered with
// Known == false and only Raw populated.
func Connect[T any](ctx context.Context, in Inputs, decode Decoder[T], opts ...Option) (*Conn[T], error) {
	if in.Endpoint == nil {
		return nil, fmt.Errorf("liveroom: connect: endpoint is required: %w", ErrBootstrapFailed)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("liveroom: connect: heartbeat interval must be positive")
	}
	if cfg.ChannelCapacity <= 0 {
		return nil, fmt.Errorf("liveroom: connect: channel capacity must be positive")
	}

	ws, _, err := cfg.Dialer.DialContext(ctx, in.Endpoint.String(), cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	cert := Certificate{
		UID:      in.UserID,
		RoomID:   in.RoomID,
		Key:      in.Token,
		Buvid:    in.Fingerprint,
		ProtoVer: in.Compression.protover(),
	}
	frame, err := encodeCertificate(cert, 1)
	if err != nil {
		ws.Close()
		return nil, err
	}

	conn := newConn[T](ws, cfg, decode)
	slog.Debug("liveroom: sending certificate", "room", in.RoomID, "uid", in.UserID)
	if err := conn.sendFrame(frame); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	conn.spawn(ctx)
	return conn, nil
}
