package liveroom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type danmaku struct {
	Text string
}

func decodeDanmaku(cmd string, raw json.RawMessage) (danmaku, bool) {
	if cmd != "DANMU_MSG" {
		return danmaku{}, false
	}
	var probe struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return danmaku{}, false
	}
	return danmaku{Text: probe.Text}, true
}

func TestParseCommandNilDecoderYieldsRawOnly(t *testing.T) {
	raw := json.RawMessage(`{"cmd":"DANMU_MSG","text":"hi"}`)
	cmd, err := parseCommand[danmaku](raw, nil)
	require.NoError(t, err)
	assert.False(t, cmd.Known)
	assert.Equal(t, raw, cmd.Raw)
}

func TestParseCommandRecognisesKnownCommand(t *testing.T) {
	raw := json.RawMessage(`{"cmd":"DANMU_MSG","text":"hello"}`)
	cmd, err := parseCommand(raw, decodeDanmaku)
	require.NoError(t, err)
	assert.True(t, cmd.Known)
	assert.Equal(t, "hello", cmd.Value.Text)
	assert.Equal(t, raw, cmd.Raw)
}

func TestParseCommandLeavesUnknownCommandUnknown(t *testing.T) {
	raw := json.RawMessage(`{"cmd":"SOME_OTHER_EVENT"}`)
	cmd, err := parseCommand(raw, decodeDanmaku)
	require.NoError(t, err)
	assert.False(t, cmd.Known)
	assert.Equal(t, danmaku{}, cmd.Value)
	assert.Equal(t, raw, cmd.Raw)
}

func TestParseCommandInvalidJSON(t *testing.T) {
	raw := json.RawMessage(`not json`)
	_, err := parseCommand(raw, decodeDanmaku)
	var jsonErr *JSONError
	require.ErrorAs(t, err, &jsonErr)
}
