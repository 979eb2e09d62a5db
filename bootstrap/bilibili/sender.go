package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const sendDanmakuURL = "https://api.live.bilibili.com/msg/send"

const (
	defaultMaxLength = 20
	defaultCooldown  = 5 * time.Second
)

// DanmakuMode controls how a sent message is displayed in the live room.
type DanmakuMode int

const (
	ModeScroll DanmakuMode = 1
	ModeBottom DanmakuMode = 4
	ModeTop    DanmakuMode = 5
)

// SendError is returned when Bilibili's send endpoint responds with a
// non-zero code.
type SendError struct {
	Code    int
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("bilibili: send error %d: %s", e.Code, e.Message)
}

// Sender posts chat messages to a Bilibili live room. It is unrelated to the
// receive-path protocol engine — it is the write-side counterpart a real
// application built on this package would also need, and is kept here as a
// concrete demonstration of the surrounding functionality the core engine
// deliberately leaves out. It is safe for concurrent use.
type Sender struct {
	sessdata   string
	biliJCT    string
	maxLength  int
	cooldown   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	lastSend sync.Map // roomID (uint64) -> time.Time
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderCookie sets the SESSDATA and bili_jct cookies used to
// authenticate sends. bili_jct doubles as the CSRF token.
func WithSenderCookie(sessdata, biliJCT string) SenderOption {
	return func(s *Sender) { s.sessdata, s.biliJCT = sessdata, biliJCT }
}

// WithMaxLength sets the maximum rune length per message before it is split
// into multiple sends. Default 20; UL20+ accounts can usually use 30.
func WithMaxLength(n int) SenderOption {
	return func(s *Sender) { s.maxLength = n }
}

// WithCooldown sets the minimum interval between sends to the same room.
func WithCooldown(d time.Duration) SenderOption {
	return func(s *Sender) { s.cooldown = d }
}

// WithSenderHTTPClient overrides the default HTTP client.
func WithSenderHTTPClient(hc *http.Client) SenderOption {
	return func(s *Sender) { s.httpClient = hc }
}

// NewSender builds a Sender.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		maxLength:  defaultMaxLength,
		cooldown:   defaultCooldown,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts msg to roomID using the default scroll display mode, splitting
// and cooling down between chunks as configured.
func (s *Sender) Send(ctx context.Context, roomID uint64, msg string) error {
	return s.SendWithMode(ctx, roomID, msg, ModeScroll)
}

// SendWithMode posts msg with an explicit display mode.
func (s *Sender) SendWithMode(ctx context.Context, roomID uint64, msg string, mode DanmakuMode) error {
	if s.sessdata == "" || s.biliJCT == "" {
		return fmt.Errorf("bilibili: cookie required: call WithSenderCookie before sending")
	}

	chunks := splitMessage(msg, s.maxLength)
	for i, chunk := range chunks {
		if err := s.waitCooldown(ctx, roomID); err != nil {
			return err
		}
		if err := s.sendOne(ctx, roomID, chunk, mode); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (s *Sender) waitCooldown(ctx context.Context, roomID uint64) error {
	now := time.Now()
	if v, ok := s.lastSend.Load(roomID); ok {
		last := v.(time.Time)
		wait := s.cooldown - now.Sub(last)
		if wait > 0 {
			s.logger.Debug("bilibili: rate limit wait", "room", roomID, "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil
}

func (s *Sender) sendOne(ctx context.Context, roomID uint64, msg string, mode DanmakuMode) error {
	form := url.Values{
		"bubble":     {"0"},
		"msg":        {msg},
		"color":      {"16777215"},
		"mode":       {strconv.Itoa(int(mode))},
		"fontsize":   {"25"},
		"rnd":        {strconv.FormatInt(time.Now().Unix(), 10)},
		"roomid":     {strconv.FormatUint(roomID, 10)},
		"csrf":       {s.biliJCT},
		"csrf_token": {s.biliJCT},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendDanmakuURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setCommonHeaders(req, fmt.Sprintf("SESSDATA=%s; bili_jct=%s", s.sessdata, s.biliJCT))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read send response: %w", err)
	}

	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse send response: %w", err)
	}

	s.lastSend.Store(roomID, time.Now())

	if result.Code != 0 {
		m := result.Message
		if m == "" {
			m = result.Msg
		}
		return &SendError{Code: result.Code, Message: m}
	}

	s.logger.Debug("bilibili: message sent", "room", roomID, "msg", msg)
	return nil
}

func splitMessage(msg string, maxLen int) []string {
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(runes) > 0 {
		end := maxLen
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}
