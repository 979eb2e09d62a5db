package liveroom

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// CompressionPref is the client's preferred batch-compression scheme,
// communicated to the server via Certificate.ProtoVer. A server may ignore
// it and pick its own; the decoder accepts either tag regardless.
type CompressionPref int

const (
	// PreferBrotli requests brotli-compressed batches (protover 3).
	PreferBrotli CompressionPref = iota
	// PreferZlib requests zlib-compressed batches (protover 2).
	PreferZlib
)

func (p CompressionPref) protover() int {
	if p == PreferZlib {
		return 2
	}
	return 3
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultChannelCapacity   = 64
)

// Config holds the tunables a caller may override via Option when calling
// Connect. The zero Config is never used directly; defaultConfig supplies
// the defaults below before options are applied.
type Config struct {
	HeartbeatInterval time.Duration
	ChannelCapacity   int
	Compression       CompressionPref
	Dialer            websocket.Dialer
	Header            http.Header
}

func defaultConfig() Config {
	return Config{
		HeartbeatInterval: defaultHeartbeatInterval,
		ChannelCapacity:   defaultChannelCapacity,
		Compression:       PreferBrotli,
		Dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		Header: http.Header{},
	}
}

// Option configures a Connect call.
type Option func(*Config)

// WithHeartbeatInterval overrides the default 30s heartbeat period. A
// non-positive interval is rejected by Connect with an error, not by this
// option.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = d }
}

// WithChannelCapacity overrides the default capacity (64) of the bounded
// command channel.
func WithChannelCapacity(n int) Option {
	return func(c *Config) { c.ChannelCapacity = n }
}

// WithCompression overrides the default compression preference (brotli).
func WithCompression(p CompressionPref) Option {
	return func(c *Config) { c.Compression = p }
}

// WithDialer overrides the gorilla websocket.Dialer used to open the
// connection, e.g. to set TLS config, a proxy, or a longer handshake
// timeout.
func WithDialer(d websocket.Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithHeader sets additional HTTP headers sent with the WebSocket upgrade
// request (e.g. Cookie, User-Agent).
func WithHeader(h http.Header) Option {
	return func(c *Config) { c.Header = h }
}
