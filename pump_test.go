package liveroom

import (
	"bytes"
	"compress/zlib"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// recordingHandler is a slog.Handler that collects every record it sees, so
// tests can assert on the level a given code path logs at.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *recordingHandler) hasLevel(level slog.Level) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Level == level {
			return true
		}
	}
	return false
}

func (h *recordingHandler) maxLevel() slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	max := slog.LevelDebug
	for _, r := range h.records {
		if r.Level > max {
			max = r.Level
		}
	}
	return max
}

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// startTestServer runs handler as the WebSocket server side of a test
// session and returns a ws:// URL to dial it at.
func startTestServer(t *testing.T, handler func(*websocket.Conn)) *url.URL {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/sub"
	return u
}

func dialTestConn(t *testing.T, endpoint *url.URL, opts ...Option) *Conn[danmaku] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Connect(ctx, Inputs{
		UserID:      1,
		RoomID:      2,
		Token:       "tok",
		Fingerprint: "fp",
		Endpoint:    endpoint,
	}, Decoder[danmaku](decodeDanmaku), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readCertificate reads the client's first frame and asserts it is a
// Certificate, per the handshake-order property.
func readCertificate(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := decodeEnvelope(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, TypeCertificate, env.Type)
	return env
}

func TestConnectDeliversSingleCommand(t *testing.T) {
	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)
		frame := encodeEnvelope(TypeCommand, ProtoJSON, 1, []byte(`{"cmd":"DANMU_MSG","text":"hi"}`))
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))
	})

	conn := dialTestConn(t, endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd, ok, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cmd.Known)
	require.Equal(t, "hi", cmd.Value.Text)
}

func TestHeartbeatReplyProducesNoStreamItem(t *testing.T) {
	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)
		hb := encodeEnvelope(TypeHeartbeatResp, ProtoSpecial, 1, []byte{0, 0, 0, 7})
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, hb))
		cmd := encodeEnvelope(TypeCommand, ProtoJSON, 2, []byte(`{"cmd":"DANMU_MSG","text":"after"}`))
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, cmd))
	})

	conn := dialTestConn(t, endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd, ok, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "after", cmd.Value.Text)
}

func TestAuthRejectedEndsStreamAndCloseIsIdempotent(t *testing.T) {
	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)
		resp := encodeEnvelope(TypeCertificateResp, ProtoSpecial, 1, []byte(`{"code":-1}`))
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, resp))
	})

	conn := dialTestConn(t, endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok, err := conn.Recv(ctx)
	require.False(t, ok)
	var authErr *AuthRejectedError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, int32(-1), authErr.Code)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestGracefulRemoteCloseEndsStreamWithoutError(t *testing.T) {
	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		require.NoError(t, ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	})

	conn := dialTestConn(t, endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok, err := conn.Recv(ctx)
	require.False(t, ok)
	require.NoError(t, err)
}

func TestMalformedCompressedBatchDeliversPartialThenEnds(t *testing.T) {
	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)

		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write(encodeEnvelope(TypeCommand, ProtoJSON, 1, []byte(`{"cmd":"DANMU_MSG","text":"ok"}`)))
		truncated := encodeEnvelope(TypeCommand, ProtoJSON, 1, []byte(`{"cmd":"DANMU_MSG","text":"bad"}`))
		zw.Write(truncated[:len(truncated)-5])
		zw.Close()

		frame := encodeEnvelope(TypeCommand, ProtoZlib, 1, buf.Bytes())
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))
	})

	conn := dialTestConn(t, endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd, ok, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ok", cmd.Value.Text)

	_, ok, err = conn.Recv(ctx)
	require.False(t, ok)
	var compErr *CompressionError
	require.ErrorAs(t, err, &compErr)
}

func TestBackpressureBlocksWithoutDroppingAndPreservesOrder(t *testing.T) {
	const n = 10
	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)
		for i := 0; i < n; i++ {
			body := []byte(`{"cmd":"DANMU_MSG","text":"` + string(rune('a'+i)) + `"}`)
			frame := encodeEnvelope(TypeCommand, ProtoJSON, uint32(i+1), body)
			require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))
		}
	})

	conn := dialTestConn(t, endpoint, WithChannelCapacity(2))

	// Let the server race ahead of a slow consumer; the channel capacity
	// (2) is far smaller than n, so this only succeeds if delivery blocks
	// instead of dropping.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < n; i++ {
		cmd, ok, err := conn.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, string(rune('a'+i)), cmd.Value.Text)
	}
}

// TestChannelDroppedLogsBelowErrorLevel drives deliver's backpressure select
// into its ctx.Done() branch (a consumer that stops draining while the
// connection's own context is cancelled) and asserts the resulting
// ErrChannelDropped is logged at Debug, not Error — it is an expected
// shutdown path per spec, not a fault.
func TestChannelDroppedLogsBelowErrorLevel(t *testing.T) {
	handler := &recordingHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(handler))
	t.Cleanup(func() { slog.SetDefault(prev) })

	endpoint := startTestServer(t, func(ws *websocket.Conn) {
		readCertificate(t, ws)
		for i := 0; i < 4; i++ {
			body := []byte(`{"cmd":"DANMU_MSG","text":"x"}`)
			frame := encodeEnvelope(TypeCommand, ProtoJSON, uint32(i+1), body)
			require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))
		}
	})

	connectCtx, cancelConnect := context.WithCancel(context.Background())
	conn, err := Connect(connectCtx, Inputs{
		UserID:      1,
		RoomID:      2,
		Token:       "tok",
		Fingerprint: "fp",
		Endpoint:    endpoint,
	}, Decoder[danmaku](decodeDanmaku), WithChannelCapacity(1))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Never drain c.ch: once its capacity (1) fills, deliver blocks on the
	// second send. Cancelling the connection's own context then unblocks it
	// via the ctx.Done() branch, which must surface as ErrChannelDropped.
	time.Sleep(100 * time.Millisecond)
	cancelConnect()

	require.Eventually(t, func() bool {
		return conn.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, conn.Err(), ErrChannelDropped)
	require.True(t, handler.hasLevel(slog.LevelDebug), "expected a debug-level record for the channel-dropped path")
	require.LessOrEqual(t, handler.maxLevel(), slog.LevelInfo, "channel-dropped shutdown must not log at warn/error level")
}
